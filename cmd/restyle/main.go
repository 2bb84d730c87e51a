package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/bdougie/restyle/internal/backend"
	"github.com/bdougie/restyle/internal/config"
	"github.com/bdougie/restyle/internal/extractor"
	"github.com/bdougie/restyle/internal/ffmpeg"
	"github.com/bdougie/restyle/internal/mask"
	"github.com/bdougie/restyle/internal/metrics"
	"github.com/bdougie/restyle/internal/models"
	"github.com/bdougie/restyle/internal/motion"
	"github.com/bdougie/restyle/internal/scenes"
	"github.com/bdougie/restyle/internal/scheduler"
	"github.com/bdougie/restyle/internal/storage"
	"github.com/bdougie/restyle/internal/toolexec"
)

func main() {
	args := os.Args[1:]

	cfg, err := config.Load(findConfig(args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opts, err := parseArgs(args, cfg)
	if err == nil {
		err = checkOptions(opts, cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s\n", err, usage)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Configure logger
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("restyle failed", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("restyle completed successfully")
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	layout := models.NewLayout(cfg.WorkDir, cfg.Extension, cfg.Stride, cfg.AnchorFrame)
	runner := toolexec.NewExecRunner(logger)
	ff := ffmpeg.New(cfg.Tools.FFmpeg, runner)

	if opts.video != "" {
		if _, err := extractor.New(ff, logger).ExtractFrames(ctx, opts.video, layout, opts.fps); err != nil {
			return err
		}
	}

	n := layout.CountFrames()
	if n == 0 {
		return fmt.Errorf("no frames found at %s", layout.RawPattern())
	}
	if err := layout.Prepare(); err != nil {
		return err
	}
	logger.Info("found frames", "dir", layout.InDir(), "frames", n, "slides", layout.Slide(layout.LastValid(n)))

	cache := cfg.SceneCache
	if cache == "" {
		cache = layout.SceneCache()
	}
	detector := scenes.NewFFmpegDetector(ff, layout.RawPattern(), cfg.SceneThreshold)
	sceneList, err := scenes.NewSegmenter(detector, cache, logger).Segment(ctx, n)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("restyle")
	if cfg.MetricsAddr != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics listener failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	client := backend.NewClient(cfg.Backends, logger)
	pool := backend.NewPool(cfg.Backends.Endpoints, client, collector, logger)
	if cfg.Backends.Probe {
		if err := pool.Probe(ctx, client); err != nil {
			return err
		}
	}

	ledger, err := openLedger(ctx, cfg, layout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Warn("failed to close ledger", "error", err)
		}
	}()

	s := scheduler.New(layout, scheduler.Options{
		GroupSize:    cfg.GroupSize,
		WarpStep:     cfg.WarpStep,
		MaxScenes:    cfg.MaxScenes,
		NodeWorkers:  cfg.NodeWorkers,
		Prompt:       cfg.Prompt,
		AnchorPrompt: cfg.AnchorPromptPath(),
	}, scheduler.Deps{
		Warper:  motion.NewWarper(cfg.Tools.MotionTransfer, runner),
		Masks:   mask.NewBuilder(ff, cfg.MaskGain),
		Pool:    pool,
		Ledger:  ledger,
		Metrics: collector,
	}, logger)

	err = s.Run(ctx, sceneList)
	for _, b := range pool.Snapshot() {
		if !b.Alive {
			logger.Warn("backend ended the run dead", "backend", b.ID, "endpoint", b.Endpoint)
		}
	}
	if errors.Is(err, backend.ErrNoLiveBackends) {
		return fmt.Errorf("every backend failed: %w", err)
	}
	if err != nil || opts.similar == 0 {
		return err
	}

	searcher, ok := ledger.(similarSearcher)
	if !ok {
		return fmt.Errorf("ledger %q cannot search motion profiles", cfg.Ledger.Driver)
	}
	return printSimilar(ctx, os.Stdout, searcher, opts.similar)
}

const similarLimit = 10

type similarSearcher interface {
	SimilarSlides(ctx context.Context, slide, limit int) ([]models.SimilarSlide, error)
}

var _ similarSearcher = (*storage.PostgresLedger)(nil)

// printSimilar lists the slides whose motion profile is closest to slide's.
func printSimilar(ctx context.Context, w io.Writer, searcher similarSearcher, slide int) error {
	matches, err := searcher.SimilarSlides(ctx, slide, similarLimit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintf(w, "No slides with a motion profile similar to slide %d\n", slide)
		return nil
	}
	fmt.Fprintf(w, "Slides moving like slide %d:\n", slide)
	for i, m := range matches {
		fmt.Fprintf(w, "%d. slide %d (frame %d, %s) similarity %.4f\n", i+1, m.Slide, m.Frame, m.Kind, m.Similarity)
	}
	return nil
}

func openLedger(ctx context.Context, cfg *config.Config, layout models.Layout, logger *slog.Logger) (storage.Ledger, error) {
	switch cfg.Ledger.Driver {
	case "none":
		return storage.Nop{}, nil
	case "postgres":
		conn := cfg.Ledger.Postgres.ConnString()
		if err := storage.InitSchema(ctx, conn); err != nil {
			return nil, err
		}
		run, err := filepath.Abs(cfg.WorkDir)
		if err != nil {
			run = cfg.WorkDir
		}
		return storage.NewPostgresLedger(ctx, conn, run, logger)
	default:
		return storage.NewFileLedger(filepath.Join(layout.InterpDir(), "ledger.json"), logger), nil
	}
}
