package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelnorm/internal/config"
	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/presets"
	"github.com/dunamismax/pixelnorm/internal/queue"
	"github.com/dunamismax/pixelnorm/internal/storage"
	"github.com/dunamismax/pixelnorm/internal/store"
	"github.com/dunamismax/pixelnorm/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrObjectStorageUnavailable = errors.New("object storage is not configured")

type Server struct {
	logger          *zap.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	presets         *presets.Registry
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	SendJobEvent(ctx context.Context, endpoint string, event webhook.JobEvent) error
}

// Deps are the collaborators of the worker. Storage may be nil when only
// local_file jobs are served; Presets defaults to the built-ins.
type Deps struct {
	Storage  pipeline.ObjectStore
	Webhook  webhookSender
	Jobs     store.JobStore
	Usage    store.UsageStore
	Presets  *presets.Registry
	Pipeline *pipeline.Pipeline
}

func NewServer(logger *zap.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := newHandler(logger, workerCfg, deps)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			Logger:   logger.Sugar(),
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("task failed",
					zap.String("type", task.Type()),
					zap.Int("retry", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)
	return s
}

// newHandler builds everything except the asynq server, which needs Redis.
func newHandler(logger *zap.Logger, workerCfg config.WorkerConfig, deps Deps) *Server {
	reg := deps.Presets
	if reg == nil {
		reg = presets.Builtin()
	}

	usageStore := deps.Usage
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.Jobs.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	var objectProcessor *pipeline.Processor
	if deps.Storage != nil {
		objectProcessor = pipeline.NewObjectStoreProcessor(deps.Storage, workerCfg.OutputPrefix, deps.Pipeline)
	}

	return &Server{
		logger:          logger,
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, deps.Pipeline),
		objectProcessor: objectProcessor,
		presets:         reg,
		webhookClient:   deps.Webhook,
		jobStore:        deps.Jobs,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("pixelnorm/worker"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeNormalizeImage, s.handleNormalizeImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleNormalizeImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseNormalizeImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %w: %w", err, asynq.SkipRetry)
	}
	return s.process(ctx, payload)
}

func (s *Server) process(ctx context.Context, payload queue.NormalizeImagePayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.normalize_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.variants", len(payload.Variants)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobFinished(payload.SourceType, outcome, time.Since(startedAt))
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.active.Inc()
	defer func() {
		<-s.sem
		s.metrics.active.Dec()
	}()

	log := s.logger.With(zap.String("job_id", payload.JobID), zap.String("source_type", payload.SourceType))
	log.Info("normalizing", zap.Int("variants", len(payload.Variants)), zap.String("object_key", payload.ObjectKey))

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.run(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalize failed")

		fatal := permanent(err)
		if !fatal && !finalAttempt(ctx) {
			log.Warn("normalize failed, will retry", zap.Error(err))
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("run pipeline: %w", err)
		}

		log.Error("normalize failed", zap.Error(err), zap.Bool("fatal", fatal))
		s.finishJob(ctx, payload.JobID, domain.JobStatusFailed, nil, err.Error())
		s.dispatchWebhook(ctx, payload, webhook.JobEvent{
			JobID:       payload.JobID,
			Status:      domain.JobStatusFailed,
			SourceType:  payload.SourceType,
			ObjectKey:   payload.ObjectKey,
			RequestedAt: payload.RequestedAt,
			FinishedAt:  time.Now().UTC(),
			Error:       err.Error(),
			Fatal:       fatal,
		})
		if fatal {
			return fmt.Errorf("run pipeline: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	log.Info("normalized", zap.Int("outputs", len(result.Outputs)), zap.Int64("bytes_saved", result.BytesSaved()))
	s.finishJob(ctx, payload.JobID, domain.JobStatusSucceeded, result.Outputs, "")
	s.metrics.outputsEmitted(result.Outputs)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	s.dispatchWebhook(ctx, payload, webhook.JobEvent{
		JobID:       payload.JobID,
		Status:      domain.JobStatusSucceeded,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
		Outputs:     result.Outputs,
		BytesSaved:  result.BytesSaved(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "normalized")
	return nil
}

func (s *Server) run(ctx context.Context, payload queue.NormalizeImagePayload) (pipeline.Result, error) {
	variants, err := s.presets.ResolveAll(payload.Variants)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("resolve presets: %w", err)
	}

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Variants:   variants,
	}

	if strings.EqualFold(payload.SourceType, domain.SourceTypeLocalFile) {
		return s.localProcessor.Process(ctx, request)
	}
	if s.objectProcessor == nil {
		return pipeline.Result{}, ErrObjectStorageUnavailable
	}
	return s.objectProcessor.Process(ctx, request)
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	return domain.Fatal(err) ||
		errors.Is(err, presets.ErrUnknownPreset) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, pipeline.ErrUnresolvedPreset) ||
		errors.Is(err, storage.ErrObjectTooLarge) ||
		errors.Is(err, ErrObjectStorageUnavailable)
}

// finalAttempt is true outside asynq, where no retry metadata exists.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn("job status update failed", zap.String("job_id", jobID), zap.String("status", status), zap.Error(err))
	}
}

func (s *Server) finishJob(ctx context.Context, jobID, status string, outputs []domain.VariantOutput, errMsg string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Finish(ctx, jobID, status, outputs, errMsg); err != nil {
		s.logger.Warn("job finish failed", zap.String("job_id", jobID), zap.String("status", status), zap.Error(err))
	}
}

// dispatchWebhook never fails the task: the job result is already stored.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.NormalizeImagePayload, event webhook.JobEvent) {
	if strings.TrimSpace(payload.WebhookURL) == "" || s.webhookClient == nil {
		return
	}

	err := s.webhookClient.SendJobEvent(ctx, payload.WebhookURL, event)
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		s.logger.Warn("webhook delivery failed", zap.String("job_id", payload.JobID), zap.String("event", event.Name()), zap.Error(err))
	}
	s.metrics.webhookSent(event.Name(), err)
}

func (s *Server) recordUsage(ctx context.Context, payload queue.NormalizeImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Warn("usage lookup failed", zap.String("job_id", payload.JobID), zap.Error(err))
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	var pixelsProcessed int64
	for _, output := range result.Outputs {
		pixelsProcessed += int64(output.Width) * int64(output.Height)
	}

	bytesSaved := max(0, result.BytesSaved())
	computeTimeMS := max(1, computeDuration.Milliseconds())

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Warn("usage log write failed", zap.String("job_id", payload.JobID), zap.Error(err))
		return
	}

	s.metrics.usageRecorded(usage)
}
