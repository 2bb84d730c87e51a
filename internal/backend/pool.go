// Package backend balances restyle jobs across generation backends.
//
// Each backend runs one job at a time in submission order. A backend whose job
// fails is marked dead for the rest of the run and the job is resubmitted on
// another live backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/bdougie/restyle/internal/metrics"
	"github.com/bdougie/restyle/internal/models"
)

var (
	// ErrNoLiveBackends is returned once every backend has been marked dead.
	ErrNoLiveBackends = errors.New("no live backends")
	// ErrBackendDead is returned for a job whose backend died while it was queued.
	ErrBackendDead = errors.New("backend is dead")
	// ErrWaitTimeout is returned when a result image does not appear in time.
	ErrWaitTimeout = errors.New("timed out waiting for result")
	// ErrJobInvalid marks failures caused by the job itself, not the backend.
	ErrJobInvalid = errors.New("invalid job")
	// ErrLocal marks local filesystem failures after the backend delivered.
	ErrLocal = errors.New("local file error")
)

// backendFault reports whether err says the backend itself failed.
func backendFault(err error) bool {
	return !errors.Is(err, ErrJobInvalid) && !errors.Is(err, ErrLocal) && !errors.Is(err, models.ErrOutputExists)
}

// Submitter runs one job against one backend endpoint.
type Submitter interface {
	Submit(ctx context.Context, endpoint string, job *models.Job) error
}

// Backend is one generation service instance
type Backend struct {
	ID       int
	Endpoint string

	depth int
	alive bool
	// tail is released when the last job dispatched here finishes.
	tail chan struct{}
}

// Status is a point-in-time view of a backend
type Status struct {
	ID       int
	Endpoint string
	Depth    int
	Alive    bool
}

type ticket struct {
	prev <-chan struct{}
	done chan struct{}
}

// Pool tracks backend liveness and queue depth
type Pool struct {
	mu        sync.Mutex
	backends  []*Backend
	submitter Submitter
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewPool creates a pool with every endpoint alive and idle.
func NewPool(endpoints []string, submitter Submitter, collector *metrics.Collector, logger *slog.Logger) *Pool {
	p := &Pool{
		submitter: submitter,
		metrics:   collector,
		logger:    logger.With("component", "backend_pool"),
	}
	for i, ep := range endpoints {
		released := make(chan struct{})
		close(released)
		p.backends = append(p.backends, &Backend{ID: i, Endpoint: ep, alive: true, tail: released})
		collector.BackendAlive(strconv.Itoa(i), true)
		collector.BackendDepth(strconv.Itoa(i), 0)
	}
	return p
}

// Select returns the live backend with the smallest queue depth, lowest ID first.
func (p *Pool) Select() (*Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.selectLocked()
	if b == nil {
		return nil, ErrNoLiveBackends
	}
	return b, nil
}

func (p *Pool) selectLocked() *Backend {
	var best *Backend
	for _, b := range p.backends {
		if !b.alive {
			continue
		}
		if best == nil || b.depth < best.depth {
			best = b
		}
	}
	return best
}

// enqueueLocked takes b's next FIFO slot and counts the job against its depth.
func (p *Pool) enqueueLocked(b *Backend) ticket {
	t := ticket{prev: b.tail, done: make(chan struct{})}
	b.tail = t.done
	b.depth++
	p.metrics.BackendDepth(strconv.Itoa(b.ID), b.depth)
	return t
}

// MarkDead excludes a backend for the rest of the run.
func (p *Pool) MarkDead(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.backends) || !p.backends[id].alive {
		return
	}
	p.backends[id].alive = false
	p.metrics.BackendAlive(strconv.Itoa(id), false)
	p.logger.Warn("backend marked dead", "backend", id, "endpoint", p.backends[id].Endpoint)
}

// Snapshot returns the state of every backend.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, len(p.backends))
	for i, b := range p.backends {
		out[i] = Status{ID: b.ID, Endpoint: b.Endpoint, Depth: b.depth, Alive: b.alive}
	}
	return out
}

// Live returns the number of backends not marked dead.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, b := range p.backends {
		if b.alive {
			n++
		}
	}
	return n
}

// Dispatch queues job on b behind any job already dispatched there and runs it.
func (p *Pool) Dispatch(ctx context.Context, b *Backend, job *models.Job) error {
	p.mu.Lock()
	t := p.enqueueLocked(b)
	p.mu.Unlock()

	return p.run(ctx, b, t, job)
}

// Restyle runs job on the least loaded live backend, failing over until a
// backend succeeds. It returns the endpoint that produced the result.
// Failures of the job itself or of the local filesystem are returned as is,
// and so is models.ErrOutputExists when there was nothing to do.
func (p *Pool) Restyle(ctx context.Context, job *models.Job) (string, error) {
	for {
		p.mu.Lock()
		b := p.selectLocked()
		if b == nil {
			p.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrNoLiveBackends, job)
		}
		t := p.enqueueLocked(b)
		p.mu.Unlock()

		err := p.run(ctx, b, t, job)
		id := strconv.Itoa(b.ID)
		switch {
		case err == nil:
			p.metrics.Job(id, "ok")
			return b.Endpoint, nil
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(err, models.ErrOutputExists):
			p.metrics.Job(id, "skipped")
			return "", err
		case !backendFault(err):
			p.metrics.Job(id, "failed")
			return "", err
		case errors.Is(err, ErrBackendDead):
			p.metrics.Job(id, "failover")
			p.logger.Debug("backend died while job was queued, resubmitting", "job", job.String(), "backend", b.ID)
		default:
			p.metrics.Job(id, "failed")
			p.logger.Warn("job failed, resubmitting", "job", job.String(), "backend", b.ID, "error", err)
		}
	}
}

func (p *Pool) run(ctx context.Context, b *Backend, t ticket, job *models.Job) error {
	select {
	case <-t.prev:
	case <-ctx.Done():
		p.release(b, t, false)
		return ctx.Err()
	}
	defer p.release(b, t, true)

	p.mu.Lock()
	alive := b.alive
	p.mu.Unlock()
	if !alive {
		return ErrBackendDead
	}

	err := p.submitter.Submit(ctx, b.Endpoint, job)
	if err != nil && ctx.Err() == nil && backendFault(err) {
		// Before the slot is handed on, so the next queued job sees it dead
		p.MarkDead(b.ID)
	}
	return err
}

// release drops the job from b's depth and hands the FIFO slot to the next job.
// A job that gave up before its turn passes the slot on only once its
// predecessor finishes, so ordering is kept.
func (p *Pool) release(b *Backend, t ticket, reached bool) {
	p.mu.Lock()
	b.depth--
	p.metrics.BackendDepth(strconv.Itoa(b.ID), b.depth)
	p.mu.Unlock()

	if reached {
		close(t.done)
		return
	}
	go func() {
		<-t.prev
		close(t.done)
	}()
}

// Prober checks whether an endpoint answers.
type Prober interface {
	Probe(ctx context.Context, endpoint string) error
}

// Probe marks every backend that does not answer as dead.
func (p *Pool) Probe(ctx context.Context, prober Prober) error {
	for _, s := range p.Snapshot() {
		if !s.Alive {
			continue
		}
		if err := prober.Probe(ctx, s.Endpoint); err != nil {
			p.logger.Warn("backend probe failed", "backend", s.ID, "endpoint", s.Endpoint, "error", err)
			p.MarkDead(s.ID)
		}
	}
	if p.Live() == 0 {
		return ErrNoLiveBackends
	}
	return nil
}
