package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// StatusService serves job status reads with a single retry that masks
// the store's read-after-write lag from freshly admitted jobs.
type StatusService struct {
	Jobs       domain.JobStore
	RetryDelay time.Duration
}

// NewStatusService constructs a StatusService.
func NewStatusService(jobs domain.JobStore, retryDelay time.Duration) StatusService {
	return StatusService{Jobs: jobs, RetryDelay: retryDelay}
}

// Get loads a job, retrying once after RetryDelay when the first read
// misses. ErrNotFound only after both reads miss.
func (s StatusService) Get(ctx domain.Context, id string) (domain.Job, error) {
	if id == "" {
		return domain.Job{}, fmt.Errorf("%w: id required", domain.ErrInvalidArgument)
	}
	j, err := s.Jobs.Get(ctx, id)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Job{}, err
	}
	select {
	case <-time.After(s.RetryDelay):
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
	return s.Jobs.Get(ctx, id)
}
