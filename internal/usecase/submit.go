// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// SubmitService performs admission: persist a pending record, enqueue
// the task on the route's lane, and trigger a worker cold-start.
type SubmitService struct {
	Jobs   domain.JobStore
	Queues map[domain.Lane]domain.TaskQueue
	Host   domain.HostController
	// HostTimeout caps the best-effort cold-start call so admission
	// stays within its latency budget.
	HostTimeout time.Duration
}

// NewSubmitService constructs a SubmitService with its dependencies.
func NewSubmitService(jobs domain.JobStore, queues map[domain.Lane]domain.TaskQueue, host domain.HostController, hostTimeout time.Duration) SubmitService {
	return SubmitService{Jobs: jobs, Queues: queues, Host: host, HostTimeout: hostTimeout}
}

// Submit admits one job and returns its id.
//
// Ordering matters: the pending record is durable before the message is
// enqueued, so the worker's first read always finds it (modulo store
// read lag, which the readers absorb with a retry). A store failure
// aborts with no enqueue; an enqueue failure leaves an orphaned pending
// record that the TTL collects; a cold-start failure is swallowed
// because the queued message makes progress once the host is up.
func (s SubmitService) Submit(ctx domain.Context, jobType string, lane domain.Lane, body json.RawMessage) (string, error) {
	if jobType == "" || len(body) == 0 {
		return "", fmt.Errorf("%w: job type and body required", domain.ErrInvalidArgument)
	}
	q, ok := s.Queues[lane]
	if !ok {
		return "", fmt.Errorf("%w: no queue for lane %s", domain.ErrInternal, lane)
	}

	jobID := uuid.New().String()
	now := time.Now().Unix()
	j := domain.Job{
		ID:          jobID,
		Status:      domain.JobPending,
		JobType:     jobType,
		RequestBody: body,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Jobs.Create(ctx, j); err != nil {
		return "", fmt.Errorf("op=submit.create: %w", err)
	}

	msg := domain.TaskMessage{JobID: jobID, JobType: jobType, RequestBody: body}
	if _, err := q.Enqueue(ctx, msg); err != nil {
		// The orphaned pending record is tolerable; it expires under TTL.
		return "", fmt.Errorf("op=submit.enqueue: %w", err)
	}
	observability.SubmitJob(jobType, string(lane))

	// Cold-start off the request path: admission must not wait for the
	// host describe, and a failure here never fails the 202.
	if s.Host != nil {
		go func() {
			hctx, cancel := context.WithTimeout(context.Background(), s.HostTimeout)
			defer cancel()
			EnsureRunning(hctx, s.Host)
		}()
	}

	slog.Info("job admitted", slog.String("job_id", jobID), slog.String("job_type", jobType), slog.String("lane", string(lane)))
	return jobID, nil
}

// EnsureRunning starts the host when it is stopped and no-ops in every
// other state. Errors are swallowed: the job is already durably queued,
// so the next admission or a manual start makes progress.
func EnsureRunning(ctx domain.Context, hc domain.HostController) {
	state, err := hc.State(ctx)
	if err != nil {
		slog.Warn("worker host state check failed", slog.Any("error", err))
		return
	}
	switch state {
	case domain.HostStopped:
		slog.Info("starting worker host")
		if err := hc.Start(ctx); err != nil {
			slog.Warn("worker host start failed", slog.Any("error", err))
			return
		}
		observability.HostStartsTotal.Inc()
	case domain.HostRunning, domain.HostPending:
		slog.Debug("worker host already available", slog.String("state", string(state)))
	default:
		slog.Warn("worker host in unexpected state", slog.String("state", string(state)))
	}
}
