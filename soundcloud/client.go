package soundcloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/damaredayo/scdl/errutil"
	"github.com/damaredayo/scdl/gateway"
)

const (
	apiBase = "https://api-v2.soundcloud.com"
	meURL   = apiBase + "/me"
)

// Client resolves catalog entities through the first-party JSON API and, for
// by-URL lookups, through the hydration blob embedded in track/playlist
// pages. All network traffic goes through the gateway.
type Client struct {
	gw     *gateway.Client
	oauth  string
	logger zerolog.Logger
}

func NewClient(gw *gateway.Client, oauth string, logger zerolog.Logger) *Client {
	return &Client{
		gw:     gw,
		oauth:  oauth,
		logger: logger,
	}
}

// API calls authenticate with the raw token; asset-resolution calls need the
// "OAuth <token>" shape. The upstream accepts nothing else for either, so the
// asymmetry is deliberate.
func (c *Client) apiHeader() http.Header {
	h := make(http.Header, 1)
	h.Set("Authorization", c.oauth)
	return h
}

func (c *Client) assetHeader() http.Header {
	h := make(http.Header, 1)
	h.Set("Authorization", "OAuth "+c.oauth)
	return h
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	b, err := c.gw.Send(ctx, gateway.Request{Method: http.MethodGet, URL: meURL, Header: c.apiHeader(), Body: nil})
	if nil != err {
		return nil, err
	}

	var u User
	if err := json.Unmarshal(b, &u); nil != err {
		return nil, &ParseError{Reason: "malformed current-user response", Err: err}
	}
	return &u, nil
}

func trackLikesURL(userID uint64, limit int) string {
	return fmt.Sprintf("%s/users/%d/track_likes?limit=%d", apiBase, userID, limit)
}

type likesPage struct {
	Collection []Like  `json:"collection"`
	NextHref   *string `json:"next_href"`
}

// Likes accumulates the user's track likes by following each page's next
// link until the link runs out or limit is reached. When fewer than chunkSize
// entries remain, the next page request is shrunk to the remaining count so
// the final page is never over-fetched. A chunkSize larger than the remaining
// count is fine; the result is truncated to limit either way.
func (c *Client) Likes(ctx context.Context, userID uint64, limit, chunkSize int) ([]Like, error) {
	likes := make([]Like, 0, limit)
	next := trackLikesURL(userID, chunkSize)

	for next != "" {
		b, err := c.gw.Send(ctx, gateway.Request{Method: http.MethodGet, URL: next, Header: c.apiHeader(), Body: nil})
		if nil != err {
			return nil, err
		}

		var page likesPage
		if err := json.Unmarshal(b, &page); nil != err {
			return nil, &ParseError{Reason: "malformed track-likes page", Err: err}
		}
		likes = append(likes, page.Collection...)

		if len(likes) >= limit {
			likes = likes[:limit]
			break
		}
		if nil == page.NextHref {
			break
		}

		next = *page.NextHref
		if remaining := limit - len(likes); remaining < chunkSize {
			shrunk, err := withPageLimit(next, remaining)
			if nil != err {
				return nil, err
			}
			next = shrunk
		}
	}

	return likes, nil
}

func withPageLimit(pageURL string, limit int) (string, error) {
	u, err := url.Parse(pageURL)
	if nil != err {
		flawP := flaw.P{"url": pageURL, "err_debug_tree": errutil.Tree(err).FlawP()}
		return "", flaw.From(fmt.Errorf("failed to parse next page URL: %v", err)).Append(flawP)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Track fetches a full track body by identifier. Playlist listings return
// stubs lacking transcodings and artwork; this is the promotion call that
// turns a stub into something downloadable.
func (c *Client) Track(ctx context.Context, id uint64) (*Track, error) {
	b, err := c.gw.Send(ctx, gateway.Request{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/tracks/%d", apiBase, id),
		Header: c.apiHeader(),
		Body:   nil,
	})
	if nil != err {
		if statusErr := new(gateway.StatusError); errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("track %d: %w", id, ErrNotFound)
		}
		return nil, err
	}

	var t Track
	if err := json.Unmarshal(b, &t); nil != err {
		return nil, &ParseError{Reason: fmt.Sprintf("malformed track %d response", id), Err: err}
	}
	return &t, nil
}

// Playlist fetches a playlist body by identifier.
func (c *Client) Playlist(ctx context.Context, id uint64) (*Playlist, error) {
	b, err := c.gw.Send(ctx, gateway.Request{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/playlists/%d", apiBase, id),
		Header: c.apiHeader(),
		Body:   nil,
	})
	if nil != err {
		if statusErr := new(gateway.StatusError); errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("playlist %d: %w", id, ErrNotFound)
		}
		return nil, err
	}

	var p Playlist
	if err := json.Unmarshal(b, &p); nil != err {
		return nil, &ParseError{Reason: fmt.Sprintf("malformed playlist %d response", id), Err: err}
	}
	return &p, nil
}

// TrackFromURL resolves a track page URL by scraping the page's hydration
// blob.
func (c *Client) TrackFromURL(ctx context.Context, pageURL string) (*Track, error) {
	data, err := c.hydrationFromPage(ctx, pageURL, hydratableSound)
	if nil != err {
		return nil, err
	}

	var t Track
	if err := json.Unmarshal(data, &t); nil != err {
		return nil, &ParseError{Reason: "malformed sound hydration data", Err: err}
	}
	return &t, nil
}

// PlaylistFromURL resolves a playlist page URL by scraping the page's
// hydration blob. Entries may be stubs; see PlaylistTrack.
func (c *Client) PlaylistFromURL(ctx context.Context, pageURL string) (*Playlist, error) {
	data, err := c.hydrationFromPage(ctx, pageURL, hydratablePlaylist)
	if nil != err {
		return nil, err
	}

	var p Playlist
	if err := json.Unmarshal(data, &p); nil != err {
		return nil, &ParseError{Reason: "malformed playlist hydration data", Err: err}
	}
	return &p, nil
}

// UserFromURL resolves a profile page URL by scraping the page's hydration
// blob.
func (c *Client) UserFromURL(ctx context.Context, pageURL string) (*User, error) {
	data, err := c.hydrationFromPage(ctx, pageURL, hydratableUser)
	if nil != err {
		return nil, err
	}

	var u User
	if err := json.Unmarshal(data, &u); nil != err {
		return nil, &ParseError{Reason: "malformed user hydration data", Err: err}
	}
	return &u, nil
}

func (c *Client) hydrationFromPage(ctx context.Context, pageURL, kind string) ([]byte, error) {
	c.logger.Debug().Str("url", pageURL).Str("kind", kind).Msg("Resolving page URL")
	page, err := c.gw.Send(ctx, gateway.Request{Method: http.MethodGet, URL: pageURL, Header: nil, Body: nil})
	if nil != err {
		return nil, err
	}
	return hydrationData(page, kind)
}

// DownloadTrack picks a transcoding, resolves its asset URL and fetches the
// raw bytes. The extension hint comes from the asset URL's path suffix; the
// response content-type is not consulted.
func (c *Client) DownloadTrack(ctx context.Context, t *Track) (*DownloadedFile, error) {
	transcoding, err := SelectTranscoding(t.Media.Transcodings)
	if nil != err {
		return nil, err
	}

	b, err := c.gw.Send(ctx, gateway.Request{Method: http.MethodGet, URL: transcoding.URL, Header: c.assetHeader(), Body: nil})
	if nil != err {
		return nil, err
	}
	streamURL := gjson.GetBytes(b, "url").String()
	if streamURL == "" {
		return nil, &ParseError{Reason: "asset resolution response carries no url field", Err: nil}
	}

	data, err := c.gw.Send(ctx, gateway.Request{Method: http.MethodGet, URL: streamURL, Header: nil, Body: nil})
	if nil != err {
		return nil, err
	}
	return &DownloadedFile{Data: data, Ext: extFromURL(streamURL)}, nil
}

// DownloadCover fetches the track's original-size artwork. A track without
// artwork wraps ErrNotFound; callers treat that as absence, not failure.
func (c *Client) DownloadCover(ctx context.Context, t *Track) (*DownloadedFile, error) {
	if nil == t.ArtworkURL || *t.ArtworkURL == "" {
		return nil, fmt.Errorf("track %q has no cover art: %w", t.Permalink, ErrNotFound)
	}

	coverURL := strings.ReplaceAll(*t.ArtworkURL, "-large", "-original")
	data, err := c.gw.Send(ctx, gateway.Request{Method: http.MethodGet, URL: coverURL, Header: nil, Body: nil})
	if nil != err {
		return nil, err
	}
	return &DownloadedFile{Data: data, Ext: extFromURL(coverURL)}, nil
}

// extFromURL derives a file-extension hint from a URL's last path segment,
// dropping any query string.
func extFromURL(rawURL string) string {
	segment := rawURL
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}
	if i := strings.LastIndex(segment, "."); i >= 0 {
		segment = segment[i+1:]
	}
	if i := strings.Index(segment, "?"); i >= 0 {
		segment = segment[:i]
	}
	return segment
}
