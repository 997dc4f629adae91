package downloader

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/damaredayo/scdl/soundcloud"
)

const invalidFileNameChars = `\/:*?"<>|`

const maxFileNameLen = 255

// Windows refuses these as file names regardless of extension handling by
// the caller; a trailing underscore sidesteps the device namespace.
var reservedFileNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

// FileName derives the output file name for a track. Pure and deterministic:
// identical input always yields the same name. The owner's display name is
// preferred for the artist part and the track title for the title part; a
// value that is empty once underscores are stripped falls back to the
// corresponding permalink slug.
func FileName(track *soundcloud.Track, ext string) string {
	artist := track.User.Username
	if isBlank(artist) {
		artist = track.User.Permalink
	}

	title := track.Title
	if isBlank(title) {
		title = track.Permalink
	}

	return Sanitize(fmt.Sprintf("%s - %s.%s", artist, title, ext))
}

// isBlank reports whether s is empty once underscores and surrounding
// whitespace are removed.
func isBlank(s string) bool {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", "")) == ""
}

// Sanitize makes name safe to use as a single file name: characters the
// target filesystems reject are replaced with underscores, Windows reserved
// device names get a trailing underscore, and the result is capped at 255
// bytes without splitting a multi-byte rune.
func Sanitize(name string) string {
	out := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidFileNameChars, r) {
			return '_'
		}
		return r
	}, name)

	if runtime.GOOS == "windows" && slices.Contains(reservedFileNames, out) {
		out += "_"
	}

	if len(out) > maxFileNameLen {
		cut := maxFileNameLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}
