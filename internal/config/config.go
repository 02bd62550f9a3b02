package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Upload    UploadAPIConfig
	Convert   ConvertAPIConfig
}

type APIConfig struct {
	Addr              string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency      int
	MaxActiveSubmits int
	MetricsAddr      string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// UploadAPIConfig addresses the external file-hosting collaborator.
type UploadAPIConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// ConvertAPIConfig addresses the external convert collaborator plus the
// fixed metadata fields sent with every convert call.
type ConvertAPIConfig struct {
	Endpoint     string
	Token        string
	EntityType   string
	EntityID     string
	ClassID      string
	SchoolID     string
	AcademicYear string
	Timeout      time.Duration
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:              env("SHEETSCAN_API_ADDR", ":8080"),
			RateLimitRequests: envInt("SHEETSCAN_RATE_LIMIT_REQUESTS", 30),
			RateLimitWindow:   envDuration("SHEETSCAN_RATE_LIMIT_WINDOW", time.Minute),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:      envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveSubmits: envInt("WORKER_MAX_ACTIVE_SUBMITS", defaultWorkerSlots),
			MetricsAddr:      env("WORKER_METRICS_ADDR", ":9090"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "sheetscan-sessions"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTLP_INSECURE", true),
		},
		Upload: UploadAPIConfig{
			Endpoint: env("UPLOAD_API_URL", ""),
			Timeout:  envDuration("UPLOAD_API_TIMEOUT", 30*time.Second),
		},
		Convert: ConvertAPIConfig{
			Endpoint:     env("CONVERT_API_URL", ""),
			Token:        env("CONVERT_API_TOKEN", ""),
			EntityType:   env("CONVERT_ENTITY_TYPE", "worksheet"),
			EntityID:     env("CONVERT_ENTITY_ID", ""),
			ClassID:      env("CONVERT_CLASS_ID", ""),
			SchoolID:     env("CONVERT_SCHOOL_ID", ""),
			AcademicYear: env("CONVERT_ACADEMIC_YEAR", ""),
			Timeout:      envDuration("CONVERT_API_TIMEOUT", 60*time.Second),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
