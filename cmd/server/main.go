// Command server starts the orchestrator HTTP facade.
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
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	ec2ctl "github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/hostctl/ec2"
	httpserver "github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/queue/sqs"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/repo/dynamo"
	s3store "github.com/fairyhunter13/gpu-task-orchestrator/internal/adapter/storage/s3"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/app"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/config"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
	"github.com/fairyhunter13/gpu-task-orchestrator/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		slog.Error("aws config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Adapters
	jobs := dynamo.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.JobStoreTable)
	sqsClient := awssqs.NewFromConfig(awsCfg)
	queues := map[domain.Lane]domain.TaskQueue{
		domain.LaneGPU: sqs.New(sqsClient, cfg.GPUQueueURL, cfg.PollWait, cfg.GPUVisibilityTimeout),
		domain.LaneCPU: sqs.New(sqsClient, cfg.CPUQueueURL, cfg.PollWait, cfg.CPUVisibilityTimeout),
	}
	host := ec2ctl.New(ec2.NewFromConfig(awsCfg), cfg.WorkerInstanceID)
	artifacts := s3store.New(awss3.NewFromConfig(awsCfg), cfg.ArtifactBucket)

	// Usecases
	submitSvc := usecase.NewSubmitService(jobs, queues, host, cfg.HostDescribeTimeout)
	statusSvc := usecase.NewStatusService(jobs, cfg.StatusReadRetryDelay)

	srv := httpserver.NewServer(cfg, submitSvc, statusSvc, artifacts, host, jobs.Check, queues[domain.LaneGPU].Check)

	// Keep the debug worker IP cache warm off the request path.
	refreshCtx, refreshCancel := context.WithCancel(ctx)
	defer refreshCancel()
	go srv.RunIPRefresh(refreshCtx, cfg.IPRefreshInterval)

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
