// Command idlewatcher samples the GPU queue depth and stops the worker
// host after a sustained idle window.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ec2ctl "github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/hostctl/ec2"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/queue/sqs"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/config"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		slog.Error("aws config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	q := sqs.New(awssqs.NewFromConfig(awsCfg), cfg.GPUQueueURL, cfg.PollWait, cfg.GPUVisibilityTimeout)
	host := ec2ctl.New(ec2.NewFromConfig(awsCfg), cfg.WorkerInstanceID)

	w := watcher.New(q, host, cfg.IdleSampleInterval, cfg.IdleEmptySamples)

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	slog.Info("idle watcher starting",
		slog.Duration("sample_interval", cfg.IdleSampleInterval),
		slog.Int("empty_samples", cfg.IdleEmptySamples))
	w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	slog.Info("idle watcher stopped")
}
