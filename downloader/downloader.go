// Package downloader drives batches of catalog entries through resolution,
// transcoding selection, asset retrieval and naming under a fixed concurrency
// cap, isolating per-item failures from the rest of the batch.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"
	"golang.org/x/sync/semaphore"

	"github.com/damaredayo/scdl/cache"
	"github.com/damaredayo/scdl/errutil"
	"github.com/damaredayo/scdl/log"
	"github.com/damaredayo/scdl/mathutil"
	"github.com/damaredayo/scdl/sliceutil"
	"github.com/damaredayo/scdl/soundcloud"
)

// maxConcurrentDownloads caps in-flight item tasks per batch.
const maxConcurrentDownloads = 3

// Catalog is the resolver surface the orchestrator needs. It exists so the
// page-scraping strategy behind by-URL resolution can be swapped without
// touching batch logic, and so tests can run batches without a network.
type Catalog interface {
	Me(ctx context.Context) (*soundcloud.User, error)
	Likes(ctx context.Context, userID uint64, limit, chunkSize int) ([]soundcloud.Like, error)
	Track(ctx context.Context, id uint64) (*soundcloud.Track, error)
	TrackFromURL(ctx context.Context, pageURL string) (*soundcloud.Track, error)
	PlaylistFromURL(ctx context.Context, pageURL string) (*soundcloud.Playlist, error)
	DownloadTrack(ctx context.Context, t *soundcloud.Track) (*soundcloud.DownloadedFile, error)
	DownloadCover(ctx context.Context, t *soundcloud.Track) (*soundcloud.DownloadedFile, error)
}

// Processor hands finished bytes to the remux/tagging collaborator.
type Processor interface {
	Process(ctx context.Context, path string, data []byte, ext string, cover *soundcloud.DownloadedFile) error
}

type Downloader struct {
	catalog   Catalog
	processor Processor
	outputDir string
	covers    *cache.Cache
	sem       *semaphore.Weighted
	logger    zerolog.Logger
}

func New(catalog Catalog, processor Processor, outputDir string, covers *cache.Cache, logger zerolog.Logger) (*Downloader, error) {
	if err := os.MkdirAll(outputDir, 0o0755); nil != err {
		flawP := flaw.P{"output_dir": outputDir, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to create output directory: %v", err)).Append(flawP)
	}

	return &Downloader{
		catalog:   catalog,
		processor: processor,
		outputDir: outputDir,
		covers:    covers,
		sem:       semaphore.NewWeighted(maxConcurrentDownloads),
		logger:    logger,
	}, nil
}

// Outcome is one batch item's terminal state. Err is nil on success; Track
// may be nil when the item never resolved past its stub.
type Outcome struct {
	Track *soundcloud.Track
	Path  string
	Err   error
}

// batchItem is either a resolved track or a playlist stub identifier still
// needing promotion.
type batchItem struct {
	track  *soundcloud.Track
	stubID uint64
}

// DownloadTrack resolves and downloads a single track by page URL. With no
// batch to protect, failures propagate to the caller directly.
func (d *Downloader) DownloadTrack(ctx context.Context, pageURL string) (string, error) {
	d.logger.Info().Str("url", pageURL).Msg("Fetching track")
	track, err := d.catalog.TrackFromURL(ctx, pageURL)
	if nil != err {
		return "", err
	}

	path, err := d.processTrack(ctx, track)
	if nil != err {
		return "", err
	}

	d.logger.Info().Str("url", track.PermalinkURL).Str("path", path).Msg("Downloaded track")
	return path, nil
}

// DownloadPlaylist resolves a playlist page URL and downloads its entries as
// a batch. Stub entries are promoted inside their own batch task.
func (d *Downloader) DownloadPlaylist(ctx context.Context, pageURL string) ([]Outcome, error) {
	d.logger.Info().Str("url", pageURL).Msg("Fetching playlist")
	playlist, err := d.catalog.PlaylistFromURL(ctx, pageURL)
	if nil != err {
		return nil, err
	}
	d.logger.Info().Str("title", playlist.Title).Int("tracks", len(playlist.Tracks)).Msg("Resolved playlist")

	items := sliceutil.Map(playlist.Tracks, func(t soundcloud.PlaylistTrack) batchItem {
		if track, ok := t.Track(); ok {
			return batchItem{track: track, stubID: 0}
		}
		return batchItem{track: nil, stubID: t.ID}
	})
	return d.runBatch(ctx, items), nil
}

// DownloadLikes downloads the authenticated user's track likes as a batch.
// The first skip entries are dropped after fetching, before any task spawns.
func (d *Downloader) DownloadLikes(ctx context.Context, skip, limit, chunkSize int) ([]Outcome, error) {
	me, err := d.catalog.Me(ctx)
	if nil != err {
		return nil, err
	}
	d.logger.Info().
		Str("username", me.Username).
		Int("limit", limit).
		Int("pages", mathutil.CeilInts(limit, chunkSize)).
		Msg("Fetching likes")

	likes, err := d.catalog.Likes(ctx, me.ID, limit, chunkSize)
	if nil != err {
		return nil, err
	}
	if skip >= len(likes) {
		d.logger.Warn().Int("skip", skip).Int("likes", len(likes)).Msg("Skip exceeds fetched likes. Nothing to download")
		return nil, nil
	}

	items := sliceutil.Map(likes[skip:], func(l soundcloud.Like) batchItem {
		return batchItem{track: &l.Track, stubID: 0}
	})
	return d.runBatch(ctx, items), nil
}

// runBatch fans items out to concurrently executing tasks behind the
// admission gate. A task holds its permit for its full
// resolve-select-fetch-name sequence and releases it on the way out, success
// or failure. Item failures are recorded in that item's outcome and never
// abort siblings; completion order is whatever order tasks finish in, so
// progress is reported with a processed/total counter.
func (d *Downloader) runBatch(ctx context.Context, items []batchItem) []Outcome {
	total := len(items)
	outcomes := make([]Outcome, total)
	var processed atomic.Int64
	var wg sync.WaitGroup

	for i, item := range items {
		if err := d.sem.Acquire(ctx, 1); nil != err {
			outcomes[i] = Outcome{Track: item.track, Path: "", Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			defer func() {
				// A panicking task must not take its siblings down with it.
				if r := recover(); nil != r {
					outcomes[i] = Outcome{Track: item.track, Path: "", Err: fmt.Errorf("task panicked: %v", r)}
					panicLogger := d.itemLogger(item, nil)
					panicLogger.Error().Func(log.Panic(r)).Msg("Download task panicked")
				}
			}()

			track, path, err := d.processItem(ctx, item)
			outcomes[i] = Outcome{Track: track, Path: path, Err: err}

			n := processed.Add(1)
			itemLogger := d.itemLogger(item, track).With().Int64("processed", n).Int("total", total).Logger()
			if nil != err {
				itemLogger.Error().Func(log.Flaw(err)).Msg("Failed to download track")
			} else {
				itemLogger.Info().Str("path", path).Msg("Downloaded track")
			}
		}()
	}

	wg.Wait()
	return outcomes
}

func (d *Downloader) itemLogger(item batchItem, track *soundcloud.Track) zerolog.Logger {
	switch {
	case nil != track:
		return d.logger.With().Str("track", track.PermalinkURL).Logger()
	case nil != item.track:
		return d.logger.With().Str("track", item.track.PermalinkURL).Logger()
	default:
		return d.logger.With().Uint64("track_id", item.stubID).Logger()
	}
}

func (d *Downloader) processItem(ctx context.Context, item batchItem) (*soundcloud.Track, string, error) {
	track := item.track
	if nil == track {
		// Promotion runs under the item's admission slot so a playlist of
		// stubs cannot exceed the batch concurrency cap with metadata calls.
		full, err := d.catalog.Track(ctx, item.stubID)
		if nil != err {
			return nil, "", fmt.Errorf("failed to promote playlist track %d: %w", item.stubID, err)
		}
		track = full
	}

	path, err := d.processTrack(ctx, track)
	return track, path, err
}

func (d *Downloader) processTrack(ctx context.Context, track *soundcloud.Track) (string, error) {
	audioFile, err := d.catalog.DownloadTrack(ctx, track)
	if nil != err {
		return "", err
	}

	cover, err := d.fetchCover(ctx, track)
	if nil != err {
		return "", err
	}

	path := filepath.Join(d.outputDir, FileName(track, audioFile.Ext))
	if err := d.processor.Process(ctx, path, audioFile.Data, audioFile.Ext, cover); nil != err {
		return "", err
	}
	return path, nil
}

// fetchCover returns nil without error when the track has no artwork; cover
// absence is success-with-absence, never a failure.
func (d *Downloader) fetchCover(ctx context.Context, track *soundcloud.Track) (*soundcloud.DownloadedFile, error) {
	if nil == track.ArtworkURL || *track.ArtworkURL == "" {
		return nil, nil
	}

	item, err := d.covers.DownloadedCovers.Fetch(*track.ArtworkURL, cache.DefaultDownloadedCoverTTL, func() (*soundcloud.DownloadedFile, error) {
		return d.catalog.DownloadCover(ctx, track)
	})
	if nil != err {
		if errors.Is(err, soundcloud.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.Value(), nil
}
