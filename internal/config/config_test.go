package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default api addr, got %s", cfg.API.Addr)
	}
	if cfg.API.RateLimitRequests != 30 || cfg.API.RateLimitWindow != time.Minute {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.API)
	}
	if cfg.Queue.Name != "default" {
		t.Fatalf("expected default queue name, got %s", cfg.Queue.Name)
	}
	if cfg.Storage.Bucket != "sheetscan-sessions" {
		t.Fatalf("expected default bucket, got %s", cfg.Storage.Bucket)
	}
	if cfg.Convert.EntityType != "worksheet" {
		t.Fatalf("expected default entity type, got %s", cfg.Convert.EntityType)
	}
	if cfg.Upload.Timeout != 30*time.Second || cfg.Convert.Timeout != 60*time.Second {
		t.Fatalf("unexpected collaborator timeouts: upload=%v convert=%v", cfg.Upload.Timeout, cfg.Convert.Timeout)
	}
	if cfg.Worker.Concurrency < 2 || cfg.Worker.MaxActiveSubmits < 1 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SHEETSCAN_API_ADDR", ":9999")
	t.Setenv("UPLOAD_API_URL", "https://files.example.com/upload")
	t.Setenv("UPLOAD_API_TIMEOUT", "5s")
	t.Setenv("CONVERT_API_TOKEN", "tok-123")
	t.Setenv("WORKER_MAX_ACTIVE_SUBMITS", "3")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()

	if cfg.API.Addr != ":9999" {
		t.Fatalf("expected overridden addr, got %s", cfg.API.Addr)
	}
	if cfg.Upload.Endpoint != "https://files.example.com/upload" || cfg.Upload.Timeout != 5*time.Second {
		t.Fatalf("unexpected upload config: %+v", cfg.Upload)
	}
	if cfg.Convert.Token != "tok-123" {
		t.Fatalf("expected overridden token, got %q", cfg.Convert.Token)
	}
	if cfg.Worker.MaxActiveSubmits != 3 {
		t.Fatalf("expected 3 active submits, got %d", cfg.Worker.MaxActiveSubmits)
	}
	if !cfg.Storage.UseSSL {
		t.Fatal("expected ssl enabled")
	}
}

func TestEnvFallbacksOnBadValues(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")
	t.Setenv("UPLOAD_API_TIMEOUT", "soon")
	t.Setenv("MINIO_USE_SSL", "maybe")

	cfg := Load()

	if cfg.Worker.Concurrency < 2 {
		t.Fatalf("expected fallback concurrency, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Upload.Timeout != 30*time.Second {
		t.Fatalf("expected fallback timeout, got %v", cfg.Upload.Timeout)
	}
	if cfg.Storage.UseSSL {
		t.Fatal("expected fallback ssl=false")
	}
}
