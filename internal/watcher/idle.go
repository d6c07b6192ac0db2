// Package watcher powers the worker host down after a sustained
// empty-queue window.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// IdleWatcher samples the GPU lane's approximate visible message count
// on a fixed grid and issues a single stop once the lane has been empty
// for EmptySamples consecutive samples. The alarm then latches until a
// nonzero sample re-arms it, so an already-stopped host is never stopped
// twice for one idle window.
//
// The sampled window trails real time by up to one interval; work that
// arrives inside that gap may see its adapter killed mid-flight. That is
// accepted: the visibility lease expires, the message is redelivered,
// and the next admission cold-starts the host again.
type IdleWatcher struct {
	Queue          domain.TaskQueue
	Host           domain.HostController
	SampleInterval time.Duration
	EmptySamples   int

	emptyStreak int
	alarmed     bool
}

// New constructs an IdleWatcher over the GPU lane.
func New(q domain.TaskQueue, host domain.HostController, sampleInterval time.Duration, emptySamples int) *IdleWatcher {
	if emptySamples <= 0 {
		emptySamples = 6
	}
	return &IdleWatcher{Queue: q, Host: host, SampleInterval: sampleInterval, EmptySamples: emptySamples}
}

// Run evaluates on the sample grid until ctx is cancelled.
func (w *IdleWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Evaluate(ctx)
		}
	}
}

// Evaluate takes one sample and acts on the accumulated window. It
// reports whether a stop was issued.
func (w *IdleWatcher) Evaluate(ctx context.Context) bool {
	depth, err := w.Queue.Depth(ctx)
	if err != nil {
		// Missing datapoints are not breaching; the window restarts.
		slog.Warn("queue depth sample failed", slog.Any("error", err))
		w.emptyStreak = 0
		return false
	}
	observability.QueueDepth.WithLabelValues(string(domain.LaneGPU)).Set(float64(depth))
	if depth > 0 {
		w.emptyStreak = 0
		w.alarmed = false
		return false
	}
	w.emptyStreak++
	slog.Debug("queue empty sample", slog.Int("streak", w.emptyStreak), slog.Int("needed", w.EmptySamples))
	if w.emptyStreak < w.EmptySamples || w.alarmed {
		return false
	}
	w.alarmed = true
	return w.stopIfRunning(ctx)
}

func (w *IdleWatcher) stopIfRunning(ctx context.Context) bool {
	state, err := w.Host.State(ctx)
	if err != nil {
		slog.Error("worker host state check failed", slog.Any("error", err))
		return false
	}
	if state != domain.HostRunning {
		slog.Info("idle window elapsed but host not running", slog.String("state", string(state)))
		return false
	}
	if err := w.Host.Stop(ctx); err != nil {
		slog.Error("worker host stop failed", slog.Any("error", err))
		return false
	}
	observability.HostStopsTotal.Inc()
	slog.Info("worker host stopped after idle window",
		slog.Duration("window", time.Duration(w.EmptySamples)*w.SampleInterval))
	return true
}
