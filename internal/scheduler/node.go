package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bdougie/restyle/internal/mask"
	"github.com/bdougie/restyle/internal/models"
)

// Warper carries a styled image along a chain of raw frames.
type Warper interface {
	Warp(ctx context.Context, chain []string, source, output string) error
}

// Masker builds change masks and prediction composites.
type Masker interface {
	Build(ctx context.Context, span []string, output string) error
	Blank(ctx context.Context, like, output string) error
	Composite(ctx context.Context, c mask.Composite) error
}

// Restyler runs a job on some backend and returns the endpoint that ran it.
// It returns models.ErrOutputExists if the output appeared in the meantime.
type Restyler interface {
	Restyle(ctx context.Context, job *models.Job) (string, error)
}

// produce runs one task to completion and records it.
func (s *Scheduler) produce(ctx context.Context, scene models.Scene, t *Task) error {
	start := time.Now()
	record := models.SlideRecord{
		Slide: s.layout.Slide(t.Frame),
		Frame: t.Frame,
		Scene: scene.Index,
		Kind:  t.Kind,
		Lower: t.Lower,
		Upper: t.Upper,
	}

	if models.Exists(s.layout.Out(t.Frame)) {
		record.Skipped = true
	} else {
		var (
			job *models.Job
			err error
		)
		switch t.Kind {
		case models.KindAnchor:
			job, err = s.prepareAnchor(ctx, t)
		default:
			job, err = s.prepareInterior(ctx, t)
		}
		if err != nil {
			return err
		}

		record.Backend, err = s.pool.Restyle(ctx, job)
		switch {
		case errors.Is(err, models.ErrOutputExists):
			// Another run wrote the slide while this one prepared it
			record.Skipped = true
		case err != nil:
			return fmt.Errorf("restyle %s: %w", job, err)
		case t.Kind == models.KindInterior:
			record.Profile = s.profile(job.Mask)
		}
	}

	record.Duration = time.Since(start)
	record.CompletedAt = time.Now()
	s.metrics.Slide(string(t.Kind), record.Skipped, record.Duration)
	s.logger.Debug("slide resolved", "scene", scene.Index, "frame", t.Frame, "slide", record.Slide,
		"kind", t.Kind, "skipped", record.Skipped, "duration", record.Duration)

	if err := s.ledger.AddRecord(ctx, record); err != nil {
		// The slide itself is done; a ledger gap should not fail the scene
		s.logger.Warn("failed to record slide", "slide", record.Slide, "error", err)
	}
	return nil
}

// prepareAnchor pairs the raw frame with a blank mask.
func (s *Scheduler) prepareAnchor(ctx context.Context, t *Task) (*models.Job, error) {
	raw := s.layout.Raw(t.Frame)
	maskPath := s.layout.Interp(t.Frame, "m")
	if err := s.masks.Blank(ctx, raw, maskPath); err != nil {
		return nil, err
	}
	return &models.Job{
		Prompt: s.opts.AnchorPrompt,
		Input:  raw,
		Mask:   maskPath,
		Output: s.layout.Out(t.Frame),
		Slide:  s.layout.Slide(t.Frame),
	}, nil
}

// prepareInterior warps both bounds onto the frame, masks the motion between
// them and composites the prediction the backend will refine.
func (s *Scheduler) prepareInterior(ctx context.Context, t *Task) (*models.Job, error) {
	l := s.layout
	lo, hi, x := t.Lower, t.Upper, t.Frame
	if !(lo < x && x < hi) {
		return nil, fmt.Errorf("frame %d is not inside its bounds (%d, %d)", x, lo, hi)
	}

	forward := l.Interp(x, "f")
	if err := s.warper.Warp(ctx, l.Chain(lo, x, s.opts.WarpStep), l.Out(lo), forward); err != nil {
		return nil, err
	}
	backward := l.Interp(x, "b")
	if err := s.warper.Warp(ctx, l.Chain(hi, x, s.opts.WarpStep), l.Out(hi), backward); err != nil {
		return nil, err
	}

	maskPath := l.Interp(x, "m")
	if err := s.masks.Build(ctx, l.Span(lo, hi), maskPath); err != nil {
		return nil, err
	}

	composite := l.Interp(x, "")
	err := s.masks.Composite(ctx, mask.Composite{
		Forward:       forward,
		Backward:      backward,
		ForwardWeight: float64(hi-x) / float64(hi-lo),
		Raw:           l.Raw(x),
		Mask:          maskPath,
		Output:        composite,
	})
	if err != nil {
		return nil, err
	}

	return &models.Job{
		Prompt: s.opts.Prompt,
		Input:  composite,
		Mask:   maskPath,
		Output: l.Out(x),
		Slide:  l.Slide(x),
	}, nil
}

func (s *Scheduler) profile(path string) []float32 {
	p, err := mask.Profile(path)
	if err != nil {
		s.logger.Debug("no motion profile", "mask", path, "error", err)
		return nil
	}
	return p
}
