package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

type memJobStore struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	createErr error
}

func newMemJobStore() *memJobStore { return &memJobStore{jobs: map[string]domain.Job{}} }

func (s *memJobStore) Create(_ domain.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.jobs[j.ID]; ok {
		return domain.ErrConflict
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *memJobStore) Get(_ domain.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (s *memJobStore) Update(_ domain.Context, id string, p domain.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return domain.ErrConflict
	}
	j.Status = p.Status
	s.jobs[id] = j
	return nil
}

func (s *memJobStore) ListByStatus(domain.Context, domain.JobStatus, int32) ([]domain.Job, error) {
	return nil, nil
}
func (s *memJobStore) Check(domain.Context) error { return nil }

type memQueue struct {
	mu         sync.Mutex
	enqueued   []domain.TaskMessage
	enqueueErr error
}

func (q *memQueue) Enqueue(_ domain.Context, m domain.TaskMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	q.enqueued = append(q.enqueued, m)
	return "msg-1", nil
}

func (q *memQueue) Receive(domain.Context) (*domain.ReceivedMessage, error) { return nil, nil }
func (q *memQueue) Delete(domain.Context, string) error                     { return nil }
func (q *memQueue) Extend(domain.Context, string, time.Duration) error      { return nil }
func (q *memQueue) Depth(domain.Context) (int, error)                       { return 0, nil }
func (q *memQueue) Check(domain.Context) error                              { return nil }

type signalHost struct {
	state    domain.HostState
	stateErr error
	started  chan struct{}
}

func newSignalHost(state domain.HostState) *signalHost {
	return &signalHost{state: state, started: make(chan struct{}, 8)}
}

func (h *signalHost) State(domain.Context) (domain.HostState, error) { return h.state, h.stateErr }
func (h *signalHost) Start(domain.Context) error {
	h.started <- struct{}{}
	return nil
}
func (h *signalHost) Stop(domain.Context) error               { return nil }
func (h *signalHost) PublicIP(domain.Context) (string, error) { return "", nil }

func lanes(q domain.TaskQueue) map[domain.Lane]domain.TaskQueue {
	return map[domain.Lane]domain.TaskQueue{domain.LaneGPU: q, domain.LaneCPU: q}
}

func TestSubmit_PersistsThenEnqueues(t *testing.T) {
	store := newMemJobStore()
	q := &memQueue{}
	host := newSignalHost(domain.HostStopped)
	svc := NewSubmitService(store, lanes(q), host, time.Second)

	id, err := svc.Submit(context.Background(), "/api/v1/camera-angle/jobs", domain.LaneGPU, json.RawMessage(`{"image_url":"https://x/a.png"}`))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "job id must be a UUID")

	j, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, j.Status)
	assert.Equal(t, "/api/v1/camera-angle/jobs", j.JobType)
	assert.NotZero(t, j.CreatedAt)

	q.mu.Lock()
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, id, q.enqueued[0].JobID)
	q.mu.Unlock()

	select {
	case <-host.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cold start was not triggered")
	}
}

func TestSubmit_StoreFailureSkipsEnqueue(t *testing.T) {
	store := newMemJobStore()
	store.createErr = errors.New("store down")
	q := &memQueue{}
	svc := NewSubmitService(store, lanes(q), nil, time.Second)

	_, err := svc.Submit(context.Background(), "/api/v1/camera-angle/jobs", domain.LaneGPU, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Empty(t, q.enqueued, "no message without a durable record")
}

func TestSubmit_EnqueueFailureIsReported(t *testing.T) {
	store := newMemJobStore()
	q := &memQueue{enqueueErr: errors.New("queue down")}
	svc := NewSubmitService(store, lanes(q), nil, time.Second)

	_, err := svc.Submit(context.Background(), "/api/v1/camera-angle/jobs", domain.LaneGPU, json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestSubmit_RejectsEmptyInput(t *testing.T) {
	svc := NewSubmitService(newMemJobStore(), lanes(&memQueue{}), nil, time.Second)

	_, err := svc.Submit(context.Background(), "", domain.LaneGPU, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Submit(context.Background(), "/api/v1/camera-angle/jobs", domain.LaneGPU, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSubmit_UnknownLaneFails(t *testing.T) {
	svc := NewSubmitService(newMemJobStore(), map[domain.Lane]domain.TaskQueue{}, nil, time.Second)

	_, err := svc.Submit(context.Background(), "/api/v1/camera-angle/jobs", domain.LaneGPU, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestSubmit_ColdStartFailureDoesNotFailAdmission(t *testing.T) {
	store := newMemJobStore()
	q := &memQueue{}
	host := newSignalHost(domain.HostStopped)
	host.stateErr = errors.New("describe throttled")
	svc := NewSubmitService(store, lanes(q), host, 100*time.Millisecond)

	id, err := svc.Submit(context.Background(), "/api/v1/camera-angle/jobs", domain.LaneGPU, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSubmit_ConcurrentSubmitsGetDistinctIDs(t *testing.T) {
	store := newMemJobStore()
	q := &memQueue{}
	svc := NewSubmitService(store, lanes(q), nil, time.Second)

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.Submit(context.Background(), "/api/v1/qwen-image-edit/jobs", domain.LaneGPU, json.RawMessage(`{}`))
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestEnsureRunning_StartsOnlyStoppedHost(t *testing.T) {
	host := newSignalHost(domain.HostStopped)
	EnsureRunning(context.Background(), host)
	require.Len(t, host.started, 1)

	running := newSignalHost(domain.HostRunning)
	EnsureRunning(context.Background(), running)
	assert.Empty(t, running.started)

	pending := newSignalHost(domain.HostPending)
	EnsureRunning(context.Background(), pending)
	assert.Empty(t, pending.started)
}
