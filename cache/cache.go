package cache

import (
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/damaredayo/scdl/soundcloud"
)

var DefaultDownloadedCoverTTL = 1 * time.Hour

// Cache holds the process-wide caches shared by download batches. Likes and
// playlist batches frequently repeat an artist's artwork; caching the fetched
// cover avoids re-downloading it per track.
type Cache struct {
	DownloadedCovers DownloadedCoversCache
}

func New() *Cache {
	downloadedCoversCache := ccache.New(
		ccache.Configure[*soundcloud.DownloadedFile]().
			MaxSize(100).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		DownloadedCovers: DownloadedCoversCache{
			c:   downloadedCoversCache,
			mux: sync.Mutex{},
		},
	}
}

type DownloadedCoversCache struct {
	c   *ccache.Cache[*soundcloud.DownloadedFile]
	mux sync.Mutex
}

func (c *DownloadedCoversCache) Fetch(k string, ttl time.Duration, fetch func() (*soundcloud.DownloadedFile, error)) (*ccache.Item[*soundcloud.DownloadedFile], error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.c.Fetch(k, ttl, fetch)
}
