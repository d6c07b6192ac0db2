// Command adapter runs the worker-side queue consumer for one lane. It
// bridges the task queue to the local inference engine: receive, mark
// processing, submit, poll, finalize.
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
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/engine"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/queue/sqs"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/repo/dynamo"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/config"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/worker"
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

	lane := cfg.Lane()
	q := sqs.New(awssqs.NewFromConfig(awsCfg), cfg.QueueURL(lane), cfg.PollWait, cfg.VisibilityTimeout(lane))
	jobs := dynamo.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.JobStoreTable)
	eng := engine.New(cfg.EngineBaseURL, cfg.EngineSubmitTimeout, cfg.EngineStatusTimeout)

	// Startup probe; the engine may still be loading models, so failure is
	// only a warning and the loop retries on real work.
	if err := eng.Check(ctx); err != nil {
		slog.Warn("engine health probe failed", slog.Any("error", err))
	}

	a := worker.New(q, jobs, eng, worker.Config{
		MaxReceiveCount: cfg.MaxReceiveCount,
		PollInterval:    cfg.EnginePollInterval,
		PollTimeout:     cfg.EnginePollTimeout,
		JobTTL:          cfg.JobTTL(),
	})

	// Metrics sidecar listener; the adapter itself serves no API.
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

	slog.Info("adapter starting", slog.String("lane", string(lane)), slog.String("queue_url", cfg.QueueURL(lane)))
	err = a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err != nil {
		// Persistent infrastructure failure; exit nonzero so the process
		// supervisor restarts with a clean slate.
		slog.Error("adapter stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("adapter stopped")
}
