// Package scheduler decides the order in which slides are restyled.
//
// Each scene is planned as a dependency graph: anchors are restyled straight
// from their raw frames, and every other slide is predicted from its two
// nearest styled neighbors by binary subdivision, then refined by a backend.
// Scenes run independently under a global concurrency cap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/restyle/internal/metrics"
	"github.com/bdougie/restyle/internal/models"
	"github.com/bdougie/restyle/internal/storage"
)

// Options tunes a Scheduler.
type Options struct {
	GroupSize    int
	WarpStep     int
	MaxScenes    int
	NodeWorkers  int
	Prompt       string
	AnchorPrompt string
}

// Deps are the collaborators a Scheduler drives. Ledger and Metrics may be nil.
type Deps struct {
	Warper  Warper
	Masks   Masker
	Pool    Restyler
	Ledger  storage.Ledger
	Metrics *metrics.Collector
}

// Scheduler restyles scenes of a work directory.
type Scheduler struct {
	layout  models.Layout
	opts    Options
	warper  Warper
	masks   Masker
	pool    Restyler
	ledger  storage.Ledger
	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates a Scheduler.
func New(layout models.Layout, opts Options, deps Deps, logger *slog.Logger) *Scheduler {
	if opts.AnchorPrompt == "" {
		opts.AnchorPrompt = opts.Prompt
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = storage.Nop{}
	}
	return &Scheduler{
		layout:  layout,
		opts:    opts,
		warper:  deps.Warper,
		masks:   deps.Masks,
		pool:    deps.Pool,
		ledger:  ledger,
		metrics: deps.Metrics,
		logger:  logger.With("component", "scheduler"),
	}
}

// Run restyles every scene. A failing scene does not stop the others; all
// scene errors are returned joined.
func (s *Scheduler) Run(ctx context.Context, scenes []models.Scene) error {
	if err := s.layout.Prepare(); err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(max(s.opts.MaxScenes, 1))

	for _, scene := range scenes {
		scene := scene
		g.Go(func() error {
			if err := s.RunScene(ctx, scene); err != nil {
				s.logger.Error("scene failed", "scene", scene.Index, "lo", scene.Lo, "hi", scene.Hi, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("scene %d [%d,%d): %w", scene.Index, scene.Lo, scene.Hi, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if err := s.ledger.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush ledger: %w", err))
	}
	return errors.Join(errs...)
}

// RunScene plans and drains one scene.
func (s *Scheduler) RunScene(ctx context.Context, scene models.Scene) error {
	plan, err := PlanScene(s.layout, scene, s.opts.GroupSize)
	if err != nil {
		return err
	}
	if plan.Len() == 0 {
		s.logger.Debug("scene has no slides", "scene", scene.Index)
		return nil
	}

	s.metrics.SceneStarted()
	defer s.metrics.SceneFinished()

	start := time.Now()
	s.logger.Info("scene started", "scene", scene.Index, "lo", scene.Lo, "hi", scene.Hi, "slides", plan.Len())

	err = Execute(ctx, plan, s.opts.NodeWorkers, func(ctx context.Context, t *Task) error {
		return s.produce(ctx, scene, t)
	})
	if err != nil {
		return err
	}

	s.logger.Info("scene finished", "scene", scene.Index, "slides", plan.Len(), "duration", time.Since(start))
	return nil
}
