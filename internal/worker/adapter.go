// Package worker runs the queue-to-engine processing loop on the GPU
// host, co-resident with the inference engine.
//
// The loop owns the visibility lease of exactly one message at a time.
// Every step outcome is routed to one of two results: delete the message
// (terminal state written, or poison dropped) or leave it for the
// visibility timeout to redeliver. Redelivery past the queue's
// max-receive count dead-letters the message; the last attempt writes
// the job's failed state first so no record is stranded in processing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/queue/sqs"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// Adapter bridges one lane's queue to the local inference engine.
type Adapter struct {
	Queue  domain.TaskQueue
	Jobs   domain.JobStore
	Engine domain.EngineClient

	// MaxReceiveCount mirrors the queue's DLQ redrive threshold so the
	// last delivery attempt can finalize the job record.
	MaxReceiveCount int
	PollInterval    time.Duration
	PollTimeout     time.Duration
	JobTTL          time.Duration
	// MaxConsecutiveFailures shuts the loop down cleanly during a
	// hard-failure storm.
	MaxConsecutiveFailures int

	// receiveBackoff is the pause after a queue receive error.
	receiveBackoff time.Duration
}

// Config bundles the tunables for New.
type Config struct {
	MaxReceiveCount        int
	PollInterval           time.Duration
	PollTimeout            time.Duration
	JobTTL                 time.Duration
	MaxConsecutiveFailures int
}

// New constructs an Adapter with defaults filled in.
func New(q domain.TaskQueue, jobs domain.JobStore, eng domain.EngineClient, cfg Config) *Adapter {
	a := &Adapter{
		Queue:                  q,
		Jobs:                   jobs,
		Engine:                 eng,
		MaxReceiveCount:        cfg.MaxReceiveCount,
		PollInterval:           cfg.PollInterval,
		PollTimeout:            cfg.PollTimeout,
		JobTTL:                 cfg.JobTTL,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		receiveBackoff:         5 * time.Second,
	}
	if a.MaxReceiveCount <= 0 {
		a.MaxReceiveCount = 3
	}
	if a.PollInterval <= 0 {
		a.PollInterval = 5 * time.Second
	}
	if a.PollTimeout <= 0 {
		a.PollTimeout = 600 * time.Second
	}
	if a.MaxConsecutiveFailures <= 0 {
		a.MaxConsecutiveFailures = 10
	}
	return a
}

// ErrTooManyFailures is returned by Run after the consecutive-failure
// threshold trips.
var ErrTooManyFailures = errors.New("too many consecutive failures")

// errShutdown marks a poll interrupted by cancellation. The message is
// left under its lease so it is redelivered after restart.
var errShutdown = errors.New("shutdown during polling")

type outcome int

const (
	// outcomeDelete removes the message: a terminal state was written,
	// or the message was poison.
	outcomeDelete outcome = iota
	// outcomeRedeliver leaves the message for the visibility timeout.
	outcomeRedeliver
)

// Run executes the receive loop until ctx is cancelled or the failure
// threshold trips.
func (a *Adapter) Run(ctx context.Context) error {
	consecutive := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := a.Queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			consecutive++
			observability.AdapterConsecutiveFailures.Set(float64(consecutive))
			slog.Error("queue receive failed", slog.Any("error", err), slog.Int("consecutive", consecutive))
			if consecutive >= a.MaxConsecutiveFailures {
				return fmt.Errorf("op=worker.run: %w", ErrTooManyFailures)
			}
			select {
			case <-time.After(a.receiveBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if msg == nil {
			consecutive = 0
			observability.AdapterConsecutiveFailures.Set(0)
			continue
		}

		res, err := a.handle(ctx, msg)
		if res == outcomeDelete {
			if derr := a.Queue.Delete(ctx, msg.Receipt); derr != nil {
				slog.Error("message delete failed", slog.Any("error", derr))
			}
		}
		if err != nil && !errors.Is(err, errShutdown) {
			consecutive++
			observability.AdapterConsecutiveFailures.Set(float64(consecutive))
			slog.Error("task handling failed", slog.Any("error", err), slog.Int("consecutive", consecutive))
			if consecutive >= a.MaxConsecutiveFailures {
				return fmt.Errorf("op=worker.run: %w", ErrTooManyFailures)
			}
		} else {
			consecutive = 0
			observability.AdapterConsecutiveFailures.Set(0)
		}
	}
}

// handle processes one received message. A panic anywhere below is
// contained here: the job is best-effort failed and the message is left
// for redelivery.
func (a *Adapter) handle(ctx context.Context, msg *domain.ReceivedMessage) (res outcome, err error) {
	var task domain.TaskMessage
	defer func() {
		if rec := recover(); rec != nil {
			res = outcomeRedeliver
			err = fmt.Errorf("op=worker.handle panic: %v", rec)
			if task.JobID != "" {
				a.failJob(ctx, task, fmt.Sprintf("internal error: %v", rec))
			}
		}
	}()

	// Step 2: decode. Malformed messages are dropped so a poison pill
	// cannot block the lane; the job record (if any) expires under TTL.
	task, err = sqs.DecodeMessage(msg.Body)
	if err != nil {
		slog.Error("malformed queue message dropped", slog.Any("error", err))
		return outcomeDelete, nil
	}
	lg := slog.With(slog.String("job_id", task.JobID), slog.String("job_type", task.JobType))
	lg.Info("task received", slog.Int("receive_count", msg.ReceiveCount))

	// Step 3: mark processing. Failure here means the store is
	// misbehaving; leave the message so the attempt is replayed.
	if err := a.updateWithRetry(ctx, task.JobID, domain.JobPatch{Status: domain.JobProcessing}); err != nil {
		lg.Error("mark processing failed", slog.Any("error", err))
		return a.redeliver(ctx, msg, task, fmt.Errorf("op=worker.mark_processing: %w", err))
	}
	observability.StartProcessingJob(task.JobType)

	// Step 4: submit to the engine. A submit failure is not retryable:
	// the engine rejected the work, so fail terminally.
	engineJobID, err := a.Engine.Submit(ctx, task.JobType, task.RequestBody)
	if err != nil {
		lg.Error("engine submit failed", slog.Any("error", err))
		a.failJob(ctx, task, fmt.Sprintf("engine submit failed: %v", err))
		return outcomeDelete, nil
	}
	lg.Info("engine accepted task", slog.String("worker_job_id", engineJobID))
	_ = a.updateWithRetry(ctx, task.JobID, domain.JobPatch{Status: domain.JobProcessing, WorkerJobID: &engineJobID})

	// Step 5: poll until the engine reports a terminal state.
	final, err := a.pollEngine(ctx, engineJobID)
	if errors.Is(err, errShutdown) {
		// Keep the message so the job is retried after restart.
		lg.Warn("shutdown during polling, task will be redelivered")
		return outcomeRedeliver, errShutdown
	}
	if err != nil {
		lg.Error("engine poll timed out", slog.Any("error", err))
		a.failJob(ctx, task, "timeout waiting for engine job completion")
		return outcomeDelete, nil
	}

	// Step 6: finalize.
	switch final.Status {
	case domain.EngineCompleted:
		if final.ResultURL == "" {
			a.failJob(ctx, task, "engine completed without result artifact")
			return outcomeDelete, nil
		}
		expires := time.Now().Add(a.JobTTL).Unix()
		patch := domain.JobPatch{Status: domain.JobCompleted, ResultURL: &final.ResultURL, ExpiresAt: &expires}
		if err := a.updateWithRetry(ctx, task.JobID, patch); err != nil {
			lg.Error("completed write failed", slog.Any("error", err))
			return a.redeliver(ctx, msg, task, fmt.Errorf("op=worker.finalize: %w", err))
		}
		observability.CompleteJob(task.JobType)
		lg.Info("task completed", slog.String("result_url", final.ResultURL))
		return outcomeDelete, nil
	case domain.EngineFailed:
		reason := final.Error
		if reason == "" {
			reason = "unknown engine error"
		}
		a.failJob(ctx, task, reason)
		lg.Info("task failed by engine", slog.String("error", reason))
		return outcomeDelete, nil
	default:
		a.failJob(ctx, task, fmt.Sprintf("unexpected engine status %q", final.Status))
		return outcomeDelete, nil
	}
}

// redeliver leaves the message in place. On the last delivery attempt
// the job is failed first so that the record reaches a terminal state
// before the message dead-letters.
func (a *Adapter) redeliver(ctx context.Context, msg *domain.ReceivedMessage, task domain.TaskMessage, cause error) (outcome, error) {
	if msg.ReceiveCount >= a.MaxReceiveCount {
		a.failJob(ctx, task, fmt.Sprintf("retries exhausted: %v", cause))
	}
	return outcomeRedeliver, cause
}

// pollEngine polls the engine status endpoint until a terminal state,
// the poll cap, or cancellation. Transient poll errors keep polling.
func (a *Adapter) pollEngine(ctx context.Context, engineJobID string) (domain.EngineStatus, error) {
	deadline := time.Now().Add(a.PollTimeout)
	for {
		if time.Now().After(deadline) {
			return domain.EngineStatus{}, fmt.Errorf("op=worker.poll id=%s: timeout after %s", engineJobID, a.PollTimeout)
		}
		st, err := a.Engine.Status(ctx, engineJobID)
		if err != nil {
			if ctx.Err() != nil {
				return domain.EngineStatus{}, errShutdown
			}
			slog.Warn("engine status poll failed", slog.Any("error", err))
		} else if st.Status == domain.EngineCompleted || st.Status == domain.EngineFailed {
			return st, nil
		}
		select {
		case <-time.After(a.PollInterval):
		case <-ctx.Done():
			return domain.EngineStatus{}, errShutdown
		}
	}
}

// failJob writes the failed terminal state, best effort. A conflict
// means the record is already terminal and the write replays harmlessly.
func (a *Adapter) failJob(ctx context.Context, task domain.TaskMessage, reason string) {
	patch := domain.JobPatch{Status: domain.JobFailed, ErrorMessage: &reason}
	expires := time.Now().Add(a.JobTTL).Unix()
	patch.ExpiresAt = &expires
	if err := a.updateWithRetry(ctx, task.JobID, patch); err != nil {
		slog.Error("failed-state write failed", slog.String("job_id", task.JobID), slog.Any("error", err))
		return
	}
	observability.FailJob(task.JobType, "terminal")
}

// updateWithRetry retries transient store errors with bounded
// exponential backoff. ErrConflict (already terminal) is permanent and
// treated as success for idempotent replay.
func (a *Adapter) updateWithRetry(ctx context.Context, id string, p domain.JobPatch) error {
	op := func() error {
		err := a.Jobs.Update(ctx, id, p)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	return err
}
