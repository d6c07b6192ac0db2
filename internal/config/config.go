// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
// The facade, worker adapter and idle watcher binaries share one schema; each
// reads only the keys it needs.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	AWSRegion     string `env:"AWS_REGION" envDefault:"us-east-1"`
	GPUQueueURL   string `env:"GPU_QUEUE_URL"`
	CPUQueueURL   string `env:"CPU_QUEUE_URL"`
	JobStoreTable string `env:"JOB_STORE_TABLE" envDefault:"task_store"`
	// WorkerInstanceID is the handle of the managed GPU host.
	WorkerInstanceID string `env:"WORKER_INSTANCE_ID"`
	ArtifactBucket   string `env:"ARTIFACT_BUCKET" envDefault:"short-drama-assets"`

	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS"`
	RateLimitPerMin  int    `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`

	// PollWait is the queue long-poll wait applied by the worker adapter.
	PollWait time.Duration `env:"POLL_WAIT" envDefault:"20s"`
	// Visibility timeouts are sized to the longest single-step work within
	// one processing attempt per lane.
	GPUVisibilityTimeout time.Duration `env:"GPU_VISIBILITY_TIMEOUT" envDefault:"300s"`
	CPUVisibilityTimeout time.Duration `env:"CPU_VISIBILITY_TIMEOUT" envDefault:"600s"`
	MaxReceiveCount      int           `env:"MAX_RECEIVE_COUNT" envDefault:"3"`

	// AdapterLane selects which lane this worker adapter process consumes.
	AdapterLane string `env:"ADAPTER_LANE" envDefault:"gpu"`

	EngineBaseURL       string        `env:"ENGINE_BASE_URL" envDefault:"http://localhost:8000"`
	EngineSubmitTimeout time.Duration `env:"ENGINE_SUBMIT_TIMEOUT" envDefault:"30s"`
	EngineStatusTimeout time.Duration `env:"ENGINE_STATUS_TIMEOUT" envDefault:"10s"`
	EnginePollInterval  time.Duration `env:"ENGINE_POLL_INTERVAL" envDefault:"5s"`
	EnginePollTimeout   time.Duration `env:"ENGINE_POLL_TIMEOUT" envDefault:"600s"`

	// Idle detection: the watcher samples the GPU lane depth on a fixed
	// grid and stops the host after IdleEmptySamples consecutive empty
	// samples (6 x 5min = 30min).
	IdleSampleInterval time.Duration `env:"IDLE_SAMPLE_INTERVAL" envDefault:"5m"`
	IdleEmptySamples   int           `env:"IDLE_EMPTY_SAMPLES" envDefault:"6"`

	// StatusReadRetryDelay masks store read-after-write lag on the
	// facade's status endpoint.
	StatusReadRetryDelay time.Duration `env:"STATUS_READ_RETRY_DELAY" envDefault:"1s"`
	HostDescribeTimeout  time.Duration `env:"HOST_DESCRIBE_TIMEOUT" envDefault:"5s"`
	IPRefreshInterval    time.Duration `env:"IP_REFRESH_INTERVAL" envDefault:"5m"`

	JobTTLDays int `env:"JOB_TTL_DAYS" envDefault:"30"`

	MetricsPort           int           `env:"METRICS_PORT" envDefault:"9090"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	ServiceName string `env:"SERVICE_NAME" envDefault:"gpu-task-orchestrator"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// QueueURL returns the endpoint of the given lane.
func (c Config) QueueURL(lane domain.Lane) string {
	if lane == domain.LaneCPU {
		return c.CPUQueueURL
	}
	return c.GPUQueueURL
}

// VisibilityTimeout returns the per-lane visibility lease length.
func (c Config) VisibilityTimeout(lane domain.Lane) time.Duration {
	if lane == domain.LaneCPU {
		return c.CPUVisibilityTimeout
	}
	return c.GPUVisibilityTimeout
}

// Lane parses AdapterLane; unknown values fall back to the GPU lane.
func (c Config) Lane() domain.Lane {
	if strings.EqualFold(c.AdapterLane, string(domain.LaneCPU)) {
		return domain.LaneCPU
	}
	return domain.LaneGPU
}

// JobTTL is the retention period applied after a terminal write.
func (c Config) JobTTL() time.Duration {
	return time.Duration(c.JobTTLDays) * 24 * time.Hour
}
