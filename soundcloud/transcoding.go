package soundcloud

import (
	"fmt"

	"github.com/samber/lo"
)

// Fallback tiers, most to least preferred. No combination outside this list
// is ever selected.
var transcodingTiers = [4]struct {
	protocol string
	quality  string
}{
	{ProtocolProgressive, QualityHigh},
	{ProtocolHLS, QualityHigh},
	{ProtocolProgressive, QualityStandard},
	{ProtocolHLS, QualityStandard},
}

// SelectTranscoding picks the encoding to fetch for a track. Deterministic:
// tiers are evaluated in order and the first transcoding matching a tier
// wins, regardless of the list's own ordering beyond first-match within a
// tier. An empty list or one with no tier match wraps ErrNotFound, so the
// caller can tell a catalog gap from a network fault.
func SelectTranscoding(transcodings []Transcoding) (*Transcoding, error) {
	for _, tier := range transcodingTiers {
		if t, ok := lo.Find(transcodings, func(t Transcoding) bool {
			return t.Format.Protocol == tier.protocol && t.Quality == tier.quality
		}); ok {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("no playable transcoding among %d candidates: %w", len(transcodings), ErrNotFound)
}
