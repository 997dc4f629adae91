package soundcloud

// User identifies a track owner. Referenced by tracks for naming only.
type User struct {
	ID        uint64 `json:"id"`
	Username  string `json:"username"`
	Permalink string `json:"permalink"`
}

// Track is a fully resolved catalog entry. Immutable once produced by the
// resolver.
type Track struct {
	ID           uint64  `json:"id"`
	ArtworkURL   *string `json:"artwork_url"`
	Permalink    string  `json:"permalink"`
	PermalinkURL string  `json:"permalink_url"`
	Title        string  `json:"title"`
	Media        Media   `json:"media"`
	User         User    `json:"user"`
}

type Media struct {
	Transcodings []Transcoding `json:"transcodings"`
}

// Transcoding describes one available encoding of a track. Its URL resolves
// to the actual asset location via a follow-up API call.
type Transcoding struct {
	URL     string `json:"url"`
	Format  Format `json:"format"`
	Quality string `json:"quality"`
}

type Format struct {
	Protocol string `json:"protocol"`
	MimeType string `json:"mime_type"`
}

const (
	ProtocolProgressive = "progressive"
	ProtocolHLS         = "hls"

	QualityHigh     = "hq"
	QualityStandard = "sq"
)

type Playlist struct {
	ID           uint64          `json:"id"`
	Permalink    string          `json:"permalink"`
	PermalinkURL string          `json:"permalink_url"`
	Title        string          `json:"title"`
	Tracks       []PlaylistTrack `json:"tracks"`
}

// PlaylistTrack is a playlist entry. Playlist listings may omit full track
// bodies, in which case only ID is set and the entry must be promoted to a
// Track through a by-identifier fetch before it is downloadable.
type PlaylistTrack struct {
	ID           uint64  `json:"id"`
	ArtworkURL   *string `json:"artwork_url"`
	Permalink    *string `json:"permalink"`
	PermalinkURL *string `json:"permalink_url"`
	Title        *string `json:"title"`
	Media        *Media  `json:"media"`
	User         *User   `json:"user"`
}

// Track assembles a full Track from the entry, or reports false when the
// listing returned a stub that still needs promotion.
func (t PlaylistTrack) Track() (*Track, bool) {
	if nil == t.Permalink || nil == t.PermalinkURL || nil == t.Title || nil == t.Media || nil == t.User {
		return nil, false
	}
	return &Track{
		ID:           t.ID,
		ArtworkURL:   t.ArtworkURL,
		Permalink:    *t.Permalink,
		PermalinkURL: *t.PermalinkURL,
		Title:        *t.Title,
		Media:        *t.Media,
		User:         *t.User,
	}, true
}

// Like wraps a track produced by the paginated likes listing.
type Like struct {
	Track Track `json:"track"`
}

// DownloadedFile is a fetched asset plus the file-extension hint derived from
// its resolution URL. Owned by the fetching task until handed to the audio
// processor.
type DownloadedFile struct {
	Data []byte
	Ext  string
}
