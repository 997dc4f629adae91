// Package ffmpeg shells out to the external ffmpeg binary for container
// remuxing and cover-art attachment. Nothing here decodes audio in-process.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/damaredayo/scdl/errutil"
)

// ExitError is a non-zero ffmpeg exit, carrying the invocation and whatever
// the tool wrote to stderr.
type ExitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg %s failed: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// IsInstalled reports whether an ffmpeg binary is callable from PATH.
func IsInstalled() bool {
	return exec.Command("ffmpeg", "-version").Run() == nil
}

type FFmpeg struct {
	bin    string
	logger zerolog.Logger
}

// New wraps the ffmpeg binary at bin, falling back to PATH lookup when bin is
// empty.
func New(bin string, logger zerolog.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, logger: logger}
}

// RemuxM4A rewrites m4a bytes into a clean faststart mp4 container at
// outputPath, attaching cover as the embedded front-cover picture when
// present.
func (f *FFmpeg) RemuxM4A(ctx context.Context, outputPath string, audio []byte, cover []byte, coverExt string) error {
	tmpAudio, err := writeTemp("scdl-*.m4a", audio)
	if nil != err {
		return err
	}
	defer os.Remove(tmpAudio)

	args := []string{"-y", "-i", tmpAudio, "-threads", "0"}
	args, cleanup, err := appendCoverArgs(args, cover, coverExt)
	if nil != err {
		return err
	}
	defer cleanup()

	args = append(args, "-f", "mp4")
	return f.run(ctx, args, outputPath)
}

// ProcessM3U8 feeds a segmented-stream playlist to ffmpeg, which fetches the
// segments itself and writes a single m4a file at outputPath.
func (f *FFmpeg) ProcessM3U8(ctx context.Context, outputPath string, playlist []byte, cover []byte, coverExt string) error {
	tmpPlaylist, err := writeTemp("scdl-*.m3u8", playlist)
	if nil != err {
		return err
	}
	defer os.Remove(tmpPlaylist)

	args := []string{
		"-y",
		"-protocol_whitelist", "file,http,https,tcp,tls",
		"-threads", "0",
		"-i", tmpPlaylist,
	}
	args, cleanup, err := appendCoverArgs(args, cover, coverExt)
	if nil != err {
		return err
	}
	defer cleanup()

	return f.run(ctx, args, outputPath)
}

func appendCoverArgs(args []string, cover []byte, coverExt string) ([]string, func(), error) {
	if nil == cover {
		return append(args, "-c", "copy"), func() {}, nil
	}

	tmpCover, err := writeTemp("scdl-*."+coverExt, cover)
	if nil != err {
		return nil, nil, err
	}

	args = append(args,
		"-i", tmpCover,
		"-map", "0:a",
		"-map", "1:v",
		"-c:a", "copy",
		"-c:v", "copy",
		"-metadata:s:v", "title=Album cover",
		"-metadata:s:v", "comment=Cover (front)",
		"-disposition:v", "attached_pic",
	)
	return args, func() { os.Remove(tmpCover) }, nil
}

func (f *FFmpeg) run(ctx context.Context, args []string, outputPath string) error {
	args = append(args, "-movflags", "+faststart", "-loglevel", "error", outputPath)
	f.logger.Debug().Strs("args", args).Msg("Running ffmpeg")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	if err := cmd.Run(); nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		if exitErr := new(exec.ExitError); errors.As(err, &exitErr) {
			return &ExitError{Args: args, Stderr: stderr.String(), Err: err}
		}
		flawP := flaw.P{"args": args, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to run ffmpeg: %v", err)).Append(flawP)
	}
	return nil
}

func writeTemp(pattern string, b []byte) (name string, err error) {
	f, err := os.CreateTemp("", pattern)
	if nil != err {
		flawP := flaw.P{"pattern": pattern, "err_debug_tree": errutil.Tree(err).FlawP()}
		return "", flaw.From(fmt.Errorf("failed to create temp file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr && nil == err {
			flawP := flaw.P{"file_name": f.Name(), "err_debug_tree": errutil.Tree(closeErr).FlawP()}
			err = flaw.From(fmt.Errorf("failed to close temp file: %v", closeErr)).Append(flawP)
		}
	}()

	if _, err := f.Write(b); nil != err {
		flawP := flaw.P{"file_name": f.Name(), "err_debug_tree": errutil.Tree(err).FlawP()}
		return "", flaw.From(fmt.Errorf("failed to write temp file: %v", err)).Append(flawP)
	}
	return f.Name(), nil
}
