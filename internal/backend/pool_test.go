package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/restyle/internal/metrics"
	"github.com/bdougie/restyle/internal/models"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	// gates hold Submit calls for an endpoint until a value is received.
	gates map[string]chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeSubmitter) Submit(ctx context.Context, endpoint string, job *models.Job) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", endpoint, job.Slide))
	err := f.fail[endpoint]
	f.mu.Unlock()

	if gate := f.gates[endpoint]; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeSubmitter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func setDepths(p *Pool, depths ...int) {
	for i, d := range depths {
		p.backends[i].depth = d
	}
}

func TestSelectReturnsMinimumDepth(t *testing.T) {
	p := NewPool([]string{"a", "b", "c"}, &fakeSubmitter{}, nil, discard())
	setDepths(p, 2, 0, 5)

	b, err := p.Select()
	require.NoError(t, err)
	assert.Equal(t, 1, b.ID)

	p.MarkDead(1)
	for i := 0; i < 3; i++ {
		b, err = p.Select()
		require.NoError(t, err)
		assert.NotEqual(t, 1, b.ID)
	}
	assert.Equal(t, 0, b.ID)
}

func TestSelectTiesPickLowestIndex(t *testing.T) {
	p := NewPool([]string{"a", "b", "c"}, &fakeSubmitter{}, nil, discard())
	setDepths(p, 3, 1, 1)

	b, err := p.Select()
	require.NoError(t, err)
	assert.Equal(t, 1, b.ID)
}

func TestSelectNoLiveBackends(t *testing.T) {
	p := NewPool([]string{"a"}, &fakeSubmitter{}, nil, discard())
	p.MarkDead(0)

	_, err := p.Select()
	assert.ErrorIs(t, err, ErrNoLiveBackends)
}

func TestRestyleFailsOverToLiveBackend(t *testing.T) {
	sub := &fakeSubmitter{fail: map[string]error{"a": errors.New("connection refused")}}
	collector := metrics.NewCollector("test")
	p := NewPool([]string{"a", "b"}, sub, collector, discard())

	endpoint, err := p.Restyle(context.Background(), &models.Job{Slide: 3})
	require.NoError(t, err)
	assert.Equal(t, "b", endpoint)
	assert.Equal(t, []string{"a:3", "b:3"}, sub.Calls())

	status := p.Snapshot()
	assert.False(t, status[0].Alive)
	assert.True(t, status[1].Alive)
	assert.Equal(t, 0, status[0].Depth)
	assert.Equal(t, 0, status[1].Depth)
}

func TestRestyleAllBackendsDead(t *testing.T) {
	boom := errors.New("500")
	sub := &fakeSubmitter{fail: map[string]error{"a": boom, "b": boom}}
	p := NewPool([]string{"a", "b"}, sub, nil, discard())

	_, err := p.Restyle(context.Background(), &models.Job{Slide: 1})
	assert.ErrorIs(t, err, ErrNoLiveBackends)
	assert.Equal(t, 0, p.Live())
}

func TestRestyleNonBackendFailuresDoNotKillBackend(t *testing.T) {
	tests := map[string]error{
		"invalid job":   fmt.Errorf("%w: no template", ErrJobInvalid),
		"local failure": fmt.Errorf("%w: disk full", ErrLocal),
		"output exists": fmt.Errorf("%w: out/000001.png", models.ErrOutputExists),
	}
	for name, fail := range tests {
		t.Run(name, func(t *testing.T) {
			sub := &fakeSubmitter{fail: map[string]error{"a": fail}}
			p := NewPool([]string{"a", "b"}, sub, nil, discard())

			_, err := p.Restyle(context.Background(), &models.Job{Slide: 1})
			assert.ErrorIs(t, err, fail)
			assert.Equal(t, 2, p.Live())
			assert.Equal(t, []string{"a:1"}, sub.Calls())
		})
	}
}

func gated(endpoints ...string) map[string]chan struct{} {
	gates := make(map[string]chan struct{})
	for _, ep := range endpoints {
		gates[ep] = make(chan struct{})
	}
	return gates
}

func TestDispatchIsFIFOPerBackend(t *testing.T) {
	sub := &fakeSubmitter{gates: gated("a")}
	p := NewPool([]string{"a"}, sub, nil, discard())
	b, err := p.Select()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for slide := 1; slide <= 4; slide++ {
		slide := slide
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Dispatch(context.Background(), b, &models.Job{Slide: slide}))
		}()
		// Wait for this job to take its slot before queuing the next one
		require.Eventually(t, func() bool { return p.Snapshot()[0].Depth == slide }, time.Second, time.Millisecond)
	}

	for i := 0; i < 4; i++ {
		sub.gates["a"] <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, []string{"a:1", "a:2", "a:3", "a:4"}, sub.Calls())
	assert.Equal(t, int32(1), sub.maxActive.Load())
	assert.Equal(t, 0, p.Snapshot()[0].Depth)
}

func TestQueuedJobOnDeadBackendMovesWithoutSubmitting(t *testing.T) {
	sub := &fakeSubmitter{
		gates: gated("a", "b"),
		fail:  map[string]error{"a": errors.New("crashed")},
	}
	p := NewPool([]string{"a", "b"}, sub, nil, discard())
	ctx := context.Background()

	// Occupy b so the next two jobs queue on a.
	blocker := make(chan error, 1)
	go func() { blocker <- p.Dispatch(ctx, p.backends[1], &models.Job{Slide: 0}) }()
	require.Eventually(t, func() bool { return p.Snapshot()[1].Depth == 1 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := 1; i <= 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ep, err := p.Restyle(ctx, &models.Job{Slide: i})
			assert.NoError(t, err)
			results[i] = ep
		}()
		require.Eventually(t, func() bool { return p.Snapshot()[0].Depth == i }, time.Second, time.Millisecond)
	}

	// Job 1 fails on a; job 2 then finds a dead and must not be sent to it.
	sub.gates["a"] <- struct{}{}
	require.Eventually(t, func() bool {
		s := p.Snapshot()
		return !s[0].Alive && s[0].Depth == 0 && s[1].Depth == 3
	}, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		sub.gates["b"] <- struct{}{}
	}
	require.NoError(t, <-blocker)
	wg.Wait()

	assert.Equal(t, "b", results[1])
	assert.Equal(t, "b", results[2])

	aCalls := 0
	for _, c := range sub.Calls() {
		if c[0] == 'a' {
			aCalls++
		}
	}
	assert.Equal(t, 1, aCalls)
	assert.Equal(t, 0, p.Snapshot()[1].Depth)
}

func TestCancelledQueuedJobKeepsOrder(t *testing.T) {
	sub := &fakeSubmitter{gates: gated("a")}
	p := NewPool([]string{"a"}, sub, nil, discard())
	b, _ := p.Select()

	first := make(chan error, 1)
	go func() { first <- p.Dispatch(context.Background(), b, &models.Job{Slide: 1}) }()
	require.Eventually(t, func() bool { return p.Snapshot()[0].Depth == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() { second <- p.Dispatch(ctx, b, &models.Job{Slide: 2}) }()
	require.Eventually(t, func() bool { return p.Snapshot()[0].Depth == 2 }, time.Second, time.Millisecond)

	third := make(chan error, 1)
	go func() { third <- p.Dispatch(context.Background(), b, &models.Job{Slide: 3}) }()
	require.Eventually(t, func() bool { return p.Snapshot()[0].Depth == 3 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-second, context.Canceled)

	// Job 3 must not start while job 1 is still running.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"a:1"}, sub.Calls())

	sub.gates["a"] <- struct{}{}
	require.NoError(t, <-first)
	sub.gates["a"] <- struct{}{}
	require.NoError(t, <-third)

	assert.Equal(t, []string{"a:1", "a:3"}, sub.Calls())
	assert.Equal(t, 0, p.Snapshot()[0].Depth)
}

type fakeProber map[string]error

func (f fakeProber) Probe(_ context.Context, endpoint string) error {
	return f[endpoint]
}

func TestProbe(t *testing.T) {
	p := NewPool([]string{"a", "b"}, &fakeSubmitter{}, nil, discard())
	require.NoError(t, p.Probe(context.Background(), fakeProber{"a": errors.New("refused")}))
	assert.Equal(t, 1, p.Live())

	assert.ErrorIs(t, p.Probe(context.Background(), fakeProber{"b": errors.New("refused")}), ErrNoLiveBackends)
}
