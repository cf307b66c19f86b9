package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelnorm/internal/config"
	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/encode"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/presets"
	"github.com/dunamismax/pixelnorm/internal/queue"
	"github.com/dunamismax/pixelnorm/internal/store"
	"github.com/dunamismax/pixelnorm/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureWebhook struct {
	mu     sync.Mutex
	events []webhook.JobEvent
	err    error
}

func (c *captureWebhook) SendJobEvent(_ context.Context, _ string, event webhook.JobEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func newTestServer(t *testing.T, jobs *store.MemoryJobStore, hooks *captureWebhook) *Server {
	t.Helper()
	return newHandler(zap.NewNop(), config.WorkerConfig{
		MaxActiveJobs:  2,
		LocalOutputDir: t.TempDir(),
	}, Deps{Jobs: jobs, Webhook: hooks})
}

func writeSource(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "source.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func seedJob(t *testing.T, jobs *store.MemoryJobStore, payload queue.NormalizeImagePayload) {
	t.Helper()
	require.NoError(t, jobs.Create(context.Background(), domain.Job{
		ID:         payload.JobID,
		UserID:     "user-1",
		Status:     domain.JobStatusQueued,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Variants:   payload.Variants,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}))
}

func TestProcessLocalJobWithPreset(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhook{}
	s := newTestServer(t, jobs, hooks)

	payload := queue.NormalizeImagePayload{
		JobID:      "job-1",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  writeSource(t, 200, 100),
		WebhookURL: "http://hooks.invalid/pixelnorm",
		Variants: []domain.Variant{
			{ID: "web", Preset: "web"},
			{
				ID:     "thumb",
				Resize: domain.ResizePolicy{Mode: domain.ResizeModeExact, TargetWidth: 40, TargetHeight: 40, Fit: domain.FitCover},
				Output: domain.OutputPolicy{Format: domain.FormatJPEG, Quality: 80},
			},
		},
		RequestedAt: time.Now().UTC(),
	}
	seedJob(t, jobs, payload)

	require.NoError(t, s.process(context.Background(), payload))

	job, ok, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	require.Len(t, job.Outputs, 2)
	assert.Equal(t, "webp", job.Outputs[0].Format)
	assert.Equal(t, 200, job.Outputs[0].Width)
	assert.Equal(t, 40, job.Outputs[1].Width)
	assert.FileExists(t, job.Outputs[1].Path)

	require.Len(t, hooks.events, 1)
	assert.Equal(t, webhook.EventJobCompleted, hooks.events[0].Name())
	assert.Len(t, hooks.events[0].Outputs, 2)

	totals, err := jobs.UsageTotals(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Jobs)
	assert.Equal(t, int64(200*100+40*40), totals.PixelsProcessed)
}

func TestProcessDecodeFailureSkipsRetry(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhook{}
	s := newTestServer(t, jobs, hooks)

	broken := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(broken, []byte("not an image"), 0o644))

	payload := queue.NormalizeImagePayload{
		JobID:      "job-2",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  broken,
		WebhookURL: "http://hooks.invalid/pixelnorm",
		Variants:   []domain.Variant{{ID: "web", Preset: "web"}},
	}
	seedJob(t, jobs, payload)

	err := s.process(context.Background(), payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, domain.ErrDecode)

	job, _, err := jobs.Get(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "decode")

	require.Len(t, hooks.events, 1)
	assert.Equal(t, webhook.EventJobFailed, hooks.events[0].Name())
	assert.True(t, hooks.events[0].Fatal)
}

func TestProcessUnknownPresetSkipsRetry(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	s := newTestServer(t, jobs, &captureWebhook{})

	payload := queue.NormalizeImagePayload{
		JobID:      "job-3",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  writeSource(t, 4, 4),
		Variants:   []domain.Variant{{ID: "x", Preset: "does-not-exist"}},
	}
	seedJob(t, jobs, payload)

	err := s.process(context.Background(), payload)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, presets.ErrUnknownPreset)
}

type brokenBackend struct{}

func (brokenBackend) Name() string { return "broken" }

func (brokenBackend) Encode(image.Image, encode.Params) ([]byte, error) {
	return nil, errors.New("encoder crashed")
}

func TestProcessEncodeFailureSkipsRetry(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	s := newHandler(zap.NewNop(), config.WorkerConfig{
		MaxActiveJobs:  1,
		LocalOutputDir: t.TempDir(),
	}, Deps{
		Jobs:     jobs,
		Pipeline: pipeline.New(nil, encode.NewWithBackend(brokenBackend{})),
	})

	payload := queue.NormalizeImagePayload{
		JobID:      "job-6",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  writeSource(t, 6, 6),
		Variants:   []domain.Variant{{ID: "web", Preset: "web"}},
	}
	seedJob(t, jobs, payload)

	err := s.process(context.Background(), payload)
	assert.ErrorIs(t, err, domain.ErrEncode)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	job, _, err := jobs.Get(context.Background(), "job-6")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestHandleMalformedPayloadSkipsRetry(t *testing.T) {
	s := newTestServer(t, store.NewMemoryJobStore(), nil)

	err := s.handleNormalizeImage(context.Background(), asynq.NewTask(queue.TypeNormalizeImage, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestProcessWithoutStorageFailsObjectJobs(t *testing.T) {
	s := newTestServer(t, store.NewMemoryJobStore(), nil)

	err := s.process(context.Background(), queue.NormalizeImagePayload{
		JobID:      "job-4",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-4/source",
		Variants:   []domain.Variant{{ID: "web", Preset: "web"}},
	})
	assert.ErrorIs(t, err, ErrObjectStorageUnavailable)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestWebhookFailureDoesNotFailJob(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	hooks := &captureWebhook{err: errors.New("endpoint down")}
	s := newTestServer(t, jobs, hooks)

	payload := queue.NormalizeImagePayload{
		JobID:      "job-5",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  writeSource(t, 8, 8),
		WebhookURL: "http://hooks.invalid/pixelnorm",
		Variants:   []domain.Variant{{ID: "web", Preset: "web"}},
	}
	seedJob(t, jobs, payload)

	require.NoError(t, s.process(context.Background(), payload))
	assert.Len(t, hooks.events, 1)
}

func TestRecordUsageWritesUsageLog(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	require.NoError(t, jobStore.Create(context.Background(), domain.Job{ID: "job-1", UserID: "user-1"}))

	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     zap.NewNop(),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), queue.NormalizeImagePayload{JobID: "job-1"}, pipeline.Result{
		SourceBytes: 1_000,
		Outputs: []pipeline.Output{
			{Width: 10, Height: 10, Bytes: 300},
			{Width: 20, Height: 20, Bytes: 400},
		},
	}, 250*time.Millisecond)

	require.True(t, usageStore.called)
	assert.Equal(t, "user-1", usageStore.log.UserID)
	assert.Equal(t, int64(500), usageStore.log.PixelsProcessed)
	assert.Equal(t, int64(1300), usageStore.log.BytesSaved)
	assert.Equal(t, int64(250), usageStore.log.ComputeTimeMS)
}

func TestRecordUsageClampsNegativeBytesSaved(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     zap.NewNop(),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), queue.NormalizeImagePayload{JobID: "job-2", UserID: "u"}, pipeline.Result{
		SourceBytes: 100,
		Outputs:     []pipeline.Output{{Width: 5, Height: 5, Bytes: 200}},
	}, 0)

	assert.Equal(t, "u", usageStore.log.UserID)
	assert.Equal(t, int64(0), usageStore.log.BytesSaved)
	assert.Equal(t, int64(1), usageStore.log.ComputeTimeMS)
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}

func (s *captureUsageStore) UsageTotals(_ context.Context, userID string) (domain.UsageTotals, error) {
	return domain.UsageTotals{UserID: userID}, nil
}
