package soundcloud

import (
	"errors"
	"fmt"
)

// ErrNotFound marks catalog/content absences: no matching transcoding, no
// cover art, no hydration element of the wanted kind. It is a content
// condition, not a transport fault, and callers decide per call site whether
// absence is fatal.
var ErrNotFound = errors.New("not found")

// ParseError is malformed or missing structured data in an otherwise
// successful response: a broken hydration blob, an API body that does not
// decode, an asset-resolution response without a URL.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if nil != e.Err {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
