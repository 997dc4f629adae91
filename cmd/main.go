package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"
	"gopkg.in/matryer/try.v1"

	"github.com/damaredayo/scdl/audio"
	"github.com/damaredayo/scdl/cache"
	"github.com/damaredayo/scdl/config"
	"github.com/damaredayo/scdl/constant"
	"github.com/damaredayo/scdl/downloader"
	"github.com/damaredayo/scdl/errutil"
	"github.com/damaredayo/scdl/ffmpeg"
	"github.com/damaredayo/scdl/gateway"
	"github.com/damaredayo/scdl/log"
	"github.com/damaredayo/scdl/must"
	"github.com/damaredayo/scdl/soundcloud"
)

const (
	flagAuth       = "auth"
	flagSaveToken  = "save-token"
	flagClearToken = "clear-token"
	flagFFmpegPath = "ffmpeg-path"
	flagOutput     = "output"
	flagSkip       = "skip"
	flagLimit      = "limit"
	flagChunkSize  = "chunk-size"
)

func main() {
	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	outputFlag := &cli.StringFlag{ //nolint:exhaustruct
		Name:    flagOutput,
		Aliases: []string{"o"},
		Usage:   "Output directory for downloaded files",
		Value:   ".",
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     "scdl",
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "SoundCloud track/playlist/likes downloader",
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:    flagAuth,
				Aliases: []string{"a"},
				Usage:   "SoundCloud OAuth token (falls back to the stored token)",
			},
			//nolint:exhaustruct
			&cli.BoolFlag{
				Name:    flagSaveToken,
				Aliases: []string{"t"},
				Usage:   "Save the provided OAuth token for future use",
			},
			//nolint:exhaustruct
			&cli.BoolFlag{
				Name:  flagClearToken,
				Usage: "Clear the stored OAuth token",
			},
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:  flagFFmpegPath,
				Usage: "ffmpeg binary path (defaults to ffmpeg from PATH)",
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:      "track",
				Usage:     "Download a single track by page URL",
				ArgsUsage: "URL",
				Action:    runTrack,
				Flags:     []cli.Flag{outputFlag},
			},
			//nolint:exhaustruct
			{
				Name:      "playlist",
				Usage:     "Download a playlist by page URL",
				ArgsUsage: "URL",
				Action:    runPlaylist,
				Flags:     []cli.Flag{outputFlag},
			},
			//nolint:exhaustruct
			{
				Name:   "likes",
				Usage:  "Download the authenticated user's track likes",
				Action: runLikes,
				Flags: []cli.Flag{
					outputFlag,
					//nolint:exhaustruct
					&cli.IntFlag{Name: flagSkip, Aliases: []string{"s"}, Usage: "Number of likes to skip", Value: 0},
					//nolint:exhaustruct
					&cli.IntFlag{Name: flagLimit, Aliases: []string{"l"}, Usage: "Maximum number of likes to download", Value: 10},
					//nolint:exhaustruct
					&cli.IntFlag{Name: flagChunkSize, Usage: "Number of likes to fetch per page", Value: 50},
				},
			},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if errutil.IsFlaw(err) {
			dumpFlawReport(logger, must.BeFlaw(err))
			logger.Fatal().Func(log.Flaw(err)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

// dumpFlawReport writes the full flaw report next to the working directory so
// the structured payloads survive past the truncated console line.
func dumpFlawReport(logger zerolog.Logger, flawErr *flaw.Flaw) {
	flawBytes, err := errutil.FlawToYAML(flawErr)
	if nil != err {
		logger.Error().Func(log.Flaw(err)).Msg("Failed to convert flaw to YAML")
		return
	}
	reportPath := fmt.Sprintf("scdl-flaw-%d.yaml", time.Now().Unix())
	if err := os.WriteFile(reportPath, flawBytes, 0o0644); nil != err {
		logger.Error().Err(err).Msg("Failed to write flaw report file")
		return
	}
	logger.Info().Str("path", reportPath).Msg("Wrote flaw report")
}

func resolveToken(cliCtx *cli.Context, logger zerolog.Logger) (string, error) {
	store, err := config.Open()
	if nil != err {
		return "", err
	}

	if cliCtx.Bool(flagClearToken) {
		if err := store.ClearToken(); nil != err {
			return "", err
		}
		logger.Info().Msg("Cleared stored OAuth token")
	}

	if token := cliCtx.String(flagAuth); token != "" {
		if cliCtx.Bool(flagSaveToken) {
			if err := store.SaveToken(token); nil != err {
				return "", err
			}
			logger.Info().Msg("Saved OAuth token for future use")
		}
		return token, nil
	}

	cfg, err := store.Load()
	if nil != err {
		return "", err
	}
	if cfg.OAuthToken == "" {
		return "", errors.New("no OAuth token provided or stored. Pass --auth once together with --save-token to store it")
	}
	return cfg.OAuthToken, nil
}

func newDownloader(cliCtx *cli.Context, logger zerolog.Logger) (*downloader.Downloader, error) {
	ffmpegPath := cliCtx.String(flagFFmpegPath)
	if ffmpegPath == "" && !ffmpeg.IsInstalled() {
		return nil, errors.New("ffmpeg is not installed. Install it first or point --ffmpeg-path at a binary")
	}

	token, err := resolveToken(cliCtx, logger)
	if nil != err {
		return nil, err
	}

	gw := gateway.New(logger.With().Str("module", "gateway").Logger())
	client := soundcloud.NewClient(gw, token, logger.With().Str("module", "soundcloud").Logger())
	processor := audio.NewProcessor(ffmpeg.New(ffmpegPath, logger.With().Str("module", "ffmpeg").Logger()))

	return downloader.New(
		client,
		processor,
		cliCtx.String(flagOutput),
		cache.New(),
		logger.With().Str("module", "downloader").Logger(),
	)
}

// withRateLimitRetry re-runs a whole job a few times when it died on an
// exhausted rate-limit budget; every other failure aborts immediately.
func withRateLimitRetry(job func() error) error {
	return try.Do(func(attempt int) (bool, error) {
		const maxAttempts = 3
		attemptRemained := attempt < maxAttempts
		time.Sleep(time.Duration(attempt-1) * 3 * time.Second)
		if err := job(); nil != err {
			if errors.Is(err, gateway.ErrTooManyRequests) {
				return attemptRemained, err
			}
			return false, err
		}
		return false, nil
	})
}

func runTrack(cliCtx *cli.Context) error {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.NewPretty(os.Stdout).Level(zerolog.InfoLevel)
	pageURL := cliCtx.Args().First()
	if pageURL == "" {
		return errors.New("track page URL argument is required")
	}

	d, err := newDownloader(cliCtx, logger)
	if nil != err {
		return err
	}

	if err := withRateLimitRetry(func() error {
		_, err := d.DownloadTrack(ctx, pageURL)
		return err
	}); nil != err {
		return err
	}

	logger.Info().Msg("Track download completed successfully")
	return nil
}

func runPlaylist(cliCtx *cli.Context) error {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.NewPretty(os.Stdout).Level(zerolog.InfoLevel)
	pageURL := cliCtx.Args().First()
	if pageURL == "" {
		return errors.New("playlist page URL argument is required")
	}

	d, err := newDownloader(cliCtx, logger)
	if nil != err {
		return err
	}

	var outcomes []downloader.Outcome
	if err := withRateLimitRetry(func() error {
		out, err := d.DownloadPlaylist(ctx, pageURL)
		outcomes = out
		return err
	}); nil != err {
		return err
	}

	reportBatch(logger, outcomes)
	return nil
}

// validateLikesFlags rejects flag values the batch cannot run with before any
// network call or task is spawned.
func validateLikesFlags(skip, limit, chunkSize int) error {
	if skip < 0 {
		return fmt.Errorf("skip must not be negative, got %d", skip)
	}
	if limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", limit)
	}
	if chunkSize < 1 {
		return fmt.Errorf("chunk-size must be at least 1, got %d", chunkSize)
	}
	return nil
}

func runLikes(cliCtx *cli.Context) error {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.NewPretty(os.Stdout).Level(zerolog.InfoLevel)
	skip, limit, chunkSize := cliCtx.Int(flagSkip), cliCtx.Int(flagLimit), cliCtx.Int(flagChunkSize)
	if err := validateLikesFlags(skip, limit, chunkSize); nil != err {
		return err
	}

	d, err := newDownloader(cliCtx, logger)
	if nil != err {
		return err
	}

	var outcomes []downloader.Outcome
	if err := withRateLimitRetry(func() error {
		out, err := d.DownloadLikes(ctx, skip, limit, chunkSize)
		outcomes = out
		return err
	}); nil != err {
		return err
	}

	reportBatch(logger, outcomes)
	return nil
}

func reportBatch(logger zerolog.Logger, outcomes []downloader.Outcome) {
	var failed int
	for _, o := range outcomes {
		if nil != o.Err {
			failed++
		}
	}
	if failed > 0 {
		logger.Warn().Int("failed", failed).Int("total", len(outcomes)).Msg("Batch finished with failures")
		return
	}
	logger.Info().Int("total", len(outcomes)).Msg(fmt.Sprintf("Batch finished. Downloaded %d tracks", len(outcomes)))
}
