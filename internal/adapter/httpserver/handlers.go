package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/config"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Submit     usecase.SubmitService
	Status     usecase.StatusService
	Artifacts  domain.ArtifactStore
	Host       domain.HostController
	StoreCheck func(ctx context.Context) error
	QueueCheck func(ctx context.Context) error

	// Cached worker IP, refreshed in the background. Debug only; never
	// on the request path.
	ipMu        sync.RWMutex
	workerIP    string
	ipUpdatedAt time.Time
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, submit usecase.SubmitService, status usecase.StatusService, artifacts domain.ArtifactStore, host domain.HostController, storeCheck, queueCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Submit: submit, Status: status, Artifacts: artifacts, Host: host, StoreCheck: storeCheck, QueueCheck: queueCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// SubmitHandler admits a job on the given route and responds 202.
func (s *Server) SubmitHandler(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: body read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		model := route.NewRequest()
		if err := json.Unmarshal(body, model); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(model); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		jobID, err := s.Submit.Submit(r.Context(), route.JobType, route.Lane, body)
		if err != nil {
			writeError(w, r, fmt.Errorf("submit: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, jobEnvelope{JobID: jobID, Status: string(domain.JobPending)})
	}
}

// StatusHandler reports the current state of a job.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		j, err := s.Status.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, buildJobEnvelope(j))
	}
}

// DeleteArtifactHandler removes a result object from the artifact store.
func (s *Server) DeleteArtifactHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if key == "" {
			writeError(w, r, fmt.Errorf("%w: object key missing", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.Artifacts.Delete(r.Context(), key); err != nil {
			writeError(w, r, fmt.Errorf("delete artifact: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Image deleted successfully", "s3_key": key})
	}
}

// HealthHandler probes the store and the queue. The worker host is
// deliberately excluded: it is ephemeral and may be stopped.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		components := map[string]string{}
		healthy := true
		if err := s.StoreCheck(ctx); err != nil {
			components["store"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			components["store"] = "healthy"
		}
		if err := s.QueueCheck(ctx); err != nil {
			components["queue"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			components["queue"] = "healthy"
		}
		status, msg, code := "healthy", "Orchestrator is running", http.StatusOK
		if !healthy {
			status, msg, code = "unhealthy", "Orchestrator has issues", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "message": msg, "components": components})
	}
}

// RootHandler returns service information.
func (s *Server) RootHandler() http.HandlerFunc {
	endpoints := map[string]string{"job_status": "/api/v1/jobs/{job_id}", "health": "/health"}
	for _, rt := range Routes {
		endpoints[rt.JobType] = rt.Pattern
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":     "GPU Task Orchestrator",
			"description": "Cost-optimized async task processing system for GPU workloads",
			"endpoints":   endpoints,
		})
	}
}

// WorkerHostHandler exposes the cached worker IP for debugging.
func (s *Server) WorkerHostHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.ipMu.RLock()
		ip, updated := s.workerIP, s.ipUpdatedAt
		s.ipMu.RUnlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"instance_id":  s.Cfg.WorkerInstanceID,
			"current_ip":   ip,
			"last_updated": updated.Unix(),
		})
	}
}

// RunIPRefresh periodically refreshes the cached worker IP until ctx is
// cancelled. Failures are logged and skipped; the cache keeps its last
// value.
func (s *Server) RunIPRefresh(ctx context.Context, interval time.Duration) {
	s.refreshWorkerIP(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshWorkerIP(ctx)
		}
	}
}

func (s *Server) refreshWorkerIP(ctx context.Context) {
	if s.Host == nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, s.Cfg.HostDescribeTimeout)
	defer cancel()
	ip, err := s.Host.PublicIP(dctx)
	if err != nil {
		slog.Warn("worker IP refresh failed", slog.Any("error", err))
		return
	}
	s.ipMu.Lock()
	if ip != s.workerIP {
		slog.Info("worker IP updated", slog.String("previous", s.workerIP), slog.String("current", ip))
	}
	s.workerIP = ip
	s.ipUpdatedAt = time.Now()
	s.ipMu.Unlock()
}
