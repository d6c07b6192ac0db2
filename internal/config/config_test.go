package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "task_store", cfg.JobStoreTable)
	assert.Equal(t, 20*time.Second, cfg.PollWait)
	assert.Equal(t, 300*time.Second, cfg.GPUVisibilityTimeout)
	assert.Equal(t, 600*time.Second, cfg.CPUVisibilityTimeout)
	assert.Equal(t, 3, cfg.MaxReceiveCount)
	assert.Equal(t, 5*time.Second, cfg.EnginePollInterval)
	assert.Equal(t, 600*time.Second, cfg.EnginePollTimeout)
	assert.Equal(t, 5*time.Minute, cfg.IdleSampleInterval)
	assert.Equal(t, 6, cfg.IdleEmptySamples)
	assert.Equal(t, time.Second, cfg.StatusReadRetryDelay)
	assert.Equal(t, 30, cfg.JobTTLDays)
	assert.True(t, cfg.IsDev())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("GPU_QUEUE_URL", "https://sqs.example/gpu")
	t.Setenv("CPU_QUEUE_URL", "https://sqs.example/cpu")
	t.Setenv("ADAPTER_LANE", "cpu")
	t.Setenv("ENGINE_POLL_TIMEOUT", "120s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 120*time.Second, cfg.EnginePollTimeout)
	assert.Equal(t, domain.LaneCPU, cfg.Lane())
	assert.Equal(t, "https://sqs.example/cpu", cfg.QueueURL(domain.LaneCPU))
	assert.Equal(t, "https://sqs.example/gpu", cfg.QueueURL(domain.LaneGPU))
}

func TestConfig_LaneHelpers(t *testing.T) {
	cfg := Config{
		GPUQueueURL:          "gpu-url",
		CPUQueueURL:          "cpu-url",
		GPUVisibilityTimeout: 300 * time.Second,
		CPUVisibilityTimeout: 600 * time.Second,
		AdapterLane:          "bogus",
		JobTTLDays:           30,
	}
	assert.Equal(t, "gpu-url", cfg.QueueURL(domain.LaneGPU))
	assert.Equal(t, 600*time.Second, cfg.VisibilityTimeout(domain.LaneCPU))
	assert.Equal(t, domain.LaneGPU, cfg.Lane(), "unknown lane falls back to gpu")
	assert.Equal(t, 30*24*time.Hour, cfg.JobTTL())
}
