// Package domain holds the core entities and ports of the orchestrator.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
)

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// Lane identifies one of the two independent work queues.
type Lane string

const (
	LaneGPU Lane = "gpu"
	LaneCPU Lane = "cpu"
)

// Job is the single durable entity the orchestrator owns end-to-end.
// The facade inserts it as pending; the worker adapter performs every
// later transition. Timestamps are epoch seconds, matching the stored
// representation.
type Job struct {
	ID           string
	Status       JobStatus
	JobType      string
	RequestBody  json.RawMessage
	CreatedAt    int64
	UpdatedAt    int64
	WorkerJobID  string
	ResultURL    string
	ErrorMessage string
	ExpiresAt    int64
}

// JobPatch describes a partial update applied by the worker adapter.
// Nil pointer fields are left untouched. Status and updated_at are
// always written.
type JobPatch struct {
	Status       JobStatus
	WorkerJobID  *string
	ResultURL    *string
	ErrorMessage *string
	ExpiresAt    *int64
}

// TaskMessage is the transient queue payload. The request body is the
// original client payload, forwarded verbatim to the inference engine.
type TaskMessage struct {
	JobID       string          `json:"job_id"`
	JobType     string          `json:"job_type"`
	RequestBody json.RawMessage `json:"request_body"`
}

// ReceivedMessage is a queue message under an exclusive visibility
// lease. Receipt authorizes Delete/Extend for the current lease only.
type ReceivedMessage struct {
	Body         []byte
	Receipt      string
	ReceiveCount int
}

// JobStore (port, C1)

type JobStore interface {
	// Create inserts the record iff the id is absent; ErrConflict otherwise.
	Create(ctx Context, j Job) error
	Get(ctx Context, id string) (Job, error)
	// Update applies the patch; ErrConflict when the record is already
	// terminal and the patch would transition it again.
	Update(ctx Context, id string, p JobPatch) error
	ListByStatus(ctx Context, status JobStatus, limit int32) ([]Job, error)
	Check(ctx Context) error
}

// TaskQueue (port, C2) — one instance per lane.

type TaskQueue interface {
	Enqueue(ctx Context, m TaskMessage) (string, error)
	// Receive long-polls for at most one message. Returns nil with no
	// error when the wait elapses empty.
	Receive(ctx Context) (*ReceivedMessage, error)
	Delete(ctx Context, receipt string) error
	Extend(ctx Context, receipt string, extra time.Duration) error
	// Depth is the approximate number of visible messages.
	Depth(ctx Context) (int, error)
	Check(ctx Context) error
}

// HostState mirrors the compute provider's instance lifecycle names.
type HostState string

const (
	HostStopped  HostState = "stopped"
	HostPending  HostState = "pending"
	HostRunning  HostState = "running"
	HostStopping HostState = "stopping"
)

// HostController (port, C3)

type HostController interface {
	State(ctx Context) (HostState, error)
	Start(ctx Context) error
	Stop(ctx Context) error
	PublicIP(ctx Context) (string, error)
}

// ArtifactStore (port) — delete pass-through for result objects.

type ArtifactStore interface {
	Delete(ctx Context, key string) error
}

// EngineClient (port, consumed by C5)

// EngineStatus is the polled state of a submitted engine job.
type EngineStatus struct {
	Status    string
	ResultURL string
	Error     string
}

const (
	EngineCompleted = "completed"
	EngineFailed    = "failed"
)

type EngineClient interface {
	// Submit posts the request body at the job_type path and returns the
	// engine's internal job id.
	Submit(ctx Context, jobType string, body json.RawMessage) (string, error)
	Status(ctx Context, engineJobID string) (EngineStatus, error)
	Check(ctx Context) error
}

// Context is an alias so adapters and usecases share the std context
// without the domain importing more than it needs.
type Context = context.Context
