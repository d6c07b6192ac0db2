package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

type fakeDepthQueue struct {
	depth int
	err   error
}

func (q *fakeDepthQueue) Depth(domain.Context) (int, error) { return q.depth, q.err }

func (q *fakeDepthQueue) Enqueue(domain.Context, domain.TaskMessage) (string, error) {
	return "", errors.New("not implemented")
}
func (q *fakeDepthQueue) Receive(domain.Context) (*domain.ReceivedMessage, error) { return nil, nil }
func (q *fakeDepthQueue) Delete(domain.Context, string) error                     { return nil }
func (q *fakeDepthQueue) Extend(domain.Context, string, time.Duration) error      { return nil }
func (q *fakeDepthQueue) Check(domain.Context) error                              { return nil }

type fakeHost struct {
	state    domain.HostState
	stateErr error
	stops    int
	starts   int
}

func (h *fakeHost) State(domain.Context) (domain.HostState, error) { return h.state, h.stateErr }
func (h *fakeHost) Start(domain.Context) error                     { h.starts++; return nil }
func (h *fakeHost) Stop(domain.Context) error {
	h.stops++
	h.state = domain.HostStopping
	return nil
}
func (h *fakeHost) PublicIP(domain.Context) (string, error) { return "203.0.113.7", nil }

func TestIdleWatcher_StopsAfterFullIdleWindow(t *testing.T) {
	q := &fakeDepthQueue{depth: 0}
	host := &fakeHost{state: domain.HostRunning}
	w := New(q, host, time.Minute, 6)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.False(t, w.Evaluate(ctx), "sample %d must not stop yet", i+1)
	}
	assert.True(t, w.Evaluate(ctx), "sixth empty sample crosses the window")
	assert.Equal(t, 1, host.stops)
}

func TestIdleWatcher_AlarmLatchesUntilActivity(t *testing.T) {
	q := &fakeDepthQueue{depth: 0}
	host := &fakeHost{state: domain.HostRunning}
	w := New(q, host, time.Minute, 2)
	ctx := context.Background()

	w.Evaluate(ctx)
	require.True(t, w.Evaluate(ctx))
	require.Equal(t, 1, host.stops)

	// Host was restarted out of band; continued emptiness must not stop
	// it again while the alarm is latched.
	host.state = domain.HostRunning
	for i := 0; i < 4; i++ {
		assert.False(t, w.Evaluate(ctx))
	}
	assert.Equal(t, 1, host.stops)

	// A nonzero sample re-arms, then a fresh idle window stops again.
	q.depth = 3
	assert.False(t, w.Evaluate(ctx))
	q.depth = 0
	w.Evaluate(ctx)
	assert.True(t, w.Evaluate(ctx))
	assert.Equal(t, 2, host.stops)
}

func TestIdleWatcher_ActivityResetsStreak(t *testing.T) {
	q := &fakeDepthQueue{depth: 0}
	host := &fakeHost{state: domain.HostRunning}
	w := New(q, host, time.Minute, 3)
	ctx := context.Background()

	w.Evaluate(ctx)
	w.Evaluate(ctx)
	q.depth = 1
	assert.False(t, w.Evaluate(ctx))

	// Two more empties are not enough after the reset.
	q.depth = 0
	w.Evaluate(ctx)
	assert.False(t, w.Evaluate(ctx))
	assert.Equal(t, 0, host.stops)
}

func TestIdleWatcher_DepthErrorResetsStreak(t *testing.T) {
	q := &fakeDepthQueue{depth: 0}
	host := &fakeHost{state: domain.HostRunning}
	w := New(q, host, time.Minute, 2)
	ctx := context.Background()

	w.Evaluate(ctx)
	q.err = errors.New("throttled")
	assert.False(t, w.Evaluate(ctx), "missing datapoint is not breaching")
	q.err = nil
	assert.False(t, w.Evaluate(ctx), "window restarts after the gap")
	assert.True(t, w.Evaluate(ctx))
	assert.Equal(t, 1, host.stops)
}

func TestIdleWatcher_NoStopWhenHostNotRunning(t *testing.T) {
	q := &fakeDepthQueue{depth: 0}
	host := &fakeHost{state: domain.HostStopped}
	w := New(q, host, time.Minute, 2)
	ctx := context.Background()

	w.Evaluate(ctx)
	assert.False(t, w.Evaluate(ctx))
	assert.Equal(t, 0, host.stops)
}
