package soundcloud

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
)

// Track and playlist pages embed their catalog data as a JSON array inside a
// script tag. The markers below are a fixed textual contract with the site;
// the canonical API cannot serve this data before a numeric identifier is
// known, so by-URL resolution has to go through here.
const (
	hydrationMarker     = "window.__sc_hydration = "
	hydrationTerminator = ";</script>"
)

const (
	hydratableSound    = "sound"
	hydratablePlaylist = "playlist"
	hydratableUser     = "user"
)

func extractHydration(page []byte) ([]byte, error) {
	start := bytes.Index(page, []byte(hydrationMarker))
	if start < 0 {
		return nil, &ParseError{Reason: "hydration marker not found in page", Err: nil}
	}
	rest := page[start+len(hydrationMarker):]
	end := bytes.Index(rest, []byte(hydrationTerminator))
	if end < 0 {
		return nil, &ParseError{Reason: "hydration terminator not found in page", Err: nil}
	}
	return rest[:end], nil
}

// hydrationData returns the data payload of the first hydration element whose
// hydratable discriminant equals kind.
func hydrationData(page []byte, kind string) ([]byte, error) {
	raw, err := extractHydration(page)
	if nil != err {
		return nil, err
	}

	if !gjson.ValidBytes(raw) {
		return nil, &ParseError{Reason: "hydration blob is not valid JSON", Err: nil}
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, &ParseError{Reason: "hydration blob is not a JSON array", Err: nil}
	}

	var data []byte
	parsed.ForEach(func(_, el gjson.Result) bool {
		if el.Get("hydratable").String() == kind {
			data = []byte(el.Get("data").Raw)
			return false
		}
		return true
	})
	if nil == data {
		return nil, fmt.Errorf("no %q hydration element in page: %w", kind, ErrNotFound)
	}
	return data, nil
}
