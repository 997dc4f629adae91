// Package audio routes downloaded assets to their container handler: formats
// needing no transformation are written directly, everything else goes
// through the ffmpeg collaborator.
package audio

import (
	"context"
	"fmt"
	"os"

	"github.com/bogem/id3v2"

	"github.com/damaredayo/scdl/ffmpeg"
	"github.com/damaredayo/scdl/soundcloud"
)

// IOError is a local filesystem failure while writing an output file.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to write %q: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// UnsupportedFormatError is an asset extension no handler exists for.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported audio format %q", e.Ext)
}

type Processor struct {
	ffmpeg *ffmpeg.FFmpeg
}

func NewProcessor(ff *ffmpeg.FFmpeg) *Processor {
	return &Processor{ffmpeg: ff}
}

// Process writes the asset at path. mp3 and ogg need no transformation and
// are written as-is (mp3 additionally gets the cover embedded as an id3
// frame); m4a and m3u8 are delegated to ffmpeg. A nil cover means the track
// has no artwork and is not an error.
func (p *Processor) Process(ctx context.Context, path string, data []byte, ext string, cover *soundcloud.DownloadedFile) error {
	switch ext {
	case "mp3":
		return p.processMP3(path, data, cover)
	case "ogg":
		return writeRaw(path, data)
	case "m4a":
		return p.remuxM4A(ctx, path, data, cover)
	case "m3u8":
		return p.processM3U8(ctx, path, data, cover)
	default:
		return &UnsupportedFormatError{Ext: ext}
	}
}

func (p *Processor) processMP3(path string, data []byte, cover *soundcloud.DownloadedFile) error {
	if err := writeRaw(path, data); nil != err {
		return err
	}
	if nil == cover {
		return nil
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if nil != err {
		return &IOError{Path: path, Err: err}
	}
	defer tag.Close()

	tag.AddAttachedPicture(id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    coverMimeType(cover.Ext),
		PictureType: id3v2.PTFrontCover,
		Description: "Front Cover",
		Picture:     cover.Data,
	})
	if err := tag.Save(); nil != err {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

func (p *Processor) remuxM4A(ctx context.Context, path string, data []byte, cover *soundcloud.DownloadedFile) error {
	coverData, coverExt := coverParts(cover)
	return p.ffmpeg.RemuxM4A(ctx, path, data, coverData, coverExt)
}

func (p *Processor) processM3U8(ctx context.Context, path string, data []byte, cover *soundcloud.DownloadedFile) error {
	coverData, coverExt := coverParts(cover)
	return p.ffmpeg.ProcessM3U8(ctx, path, data, coverData, coverExt)
}

func coverParts(cover *soundcloud.DownloadedFile) ([]byte, string) {
	if nil == cover {
		return nil, ""
	}
	return cover.Data, cover.Ext
}

func coverMimeType(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

func writeRaw(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o0644); nil != err {
		return &IOError{Path: path, Err: err}
	}
	return nil
}
