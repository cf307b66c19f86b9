package config

import (
	"fmt"
	"runtime"

	"github.com/hibiken/asynq"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Log       LogConfig
	Tracing   TracingConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
}

type APIConfig struct {
	Addr             string `envconfig:"PIXELNORM_API_ADDR" default:":8080"`
	UserIDHeader     string `envconfig:"PIXELNORM_USER_ID_HEADER" default:"X-User-ID"`
	WebhookSecret    string `envconfig:"PIXELNORM_WEBHOOK_SECRET"`
	MaxRequestBodyKB int    `envconfig:"PIXELNORM_MAX_REQUEST_BODY_KB" default:"256"`
}

type QueueConfig struct {
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	Name          string `envconfig:"ASYNC_QUEUE" default:"default"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// Concurrency and MaxActiveJobs fall back to CPU-derived values when unset.
type WorkerConfig struct {
	Concurrency    int    `envconfig:"WORKER_CONCURRENCY"`
	MaxActiveJobs  int    `envconfig:"WORKER_MAX_ACTIVE_JOBS"`
	LocalOutputDir string `envconfig:"WORKER_LOCAL_OUTPUT_DIR" default:"./.pixelnorm-output"`
	OutputPrefix   string `envconfig:"WORKER_OUTPUT_PREFIX" default:"outputs"`
	MetricsAddr    string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

type StorageConfig struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"MINIO_BUCKET" default:"pixelnorm-jobs"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

// An empty DSN keeps jobs in memory.
type DatabaseConfig struct {
	DSN string `envconfig:"POSTGRES_DSN"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

type TracingConfig struct {
	Exporter     string  `envconfig:"TRACE_EXPORTER" default:"none"`
	ServiceName  string  `envconfig:"OTEL_SERVICE_NAME"`
	OTLPEndpoint string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	SampleRatio  float64 `envconfig:"TRACE_SAMPLE_RATIO" default:"1"`
}

type PipelineConfig struct {
	PresetsFile string `envconfig:"PIXELNORM_PRESETS_FILE"`
	Resampler   string `envconfig:"PIXELNORM_RESAMPLER" default:"imaging"`
	MaxPixels   int64  `envconfig:"PIXELNORM_MAX_PIXELS" default:"100000000"`
}

type RateLimitConfig struct {
	Enabled        bool `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
	RequestsPerMin int  `envconfig:"RATE_LIMIT_REQUESTS_PER_MIN" default:"120"`
	BurstSize      int  `envconfig:"RATE_LIMIT_BURST_SIZE" default:"20"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = max(2, runtime.NumCPU())
	}
	if cfg.Worker.MaxActiveJobs <= 0 {
		cfg.Worker.MaxActiveJobs = max(1, runtime.NumCPU()/2)
	}
	return cfg, nil
}
