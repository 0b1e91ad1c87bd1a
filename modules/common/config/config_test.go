package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadRequiresGenerationTimeout(t *testing.T) {
	t.Setenv("GENERATION_TIMEOUT", "")
	t.Setenv("FALLBACK_ONLY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when GENERATION_TIMEOUT is missing")
	}
	if !strings.Contains(err.Error(), "GENERATION_TIMEOUT") {
		t.Errorf("error should name the variable, got %v", err)
	}
}

func TestLoadFallbackOnlyNeedsNoTimeout(t *testing.T) {
	t.Setenv("GENERATION_TIMEOUT", "")
	t.Setenv("FALLBACK_ONLY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.FallbackOnly {
		t.Error("FallbackOnly should be set")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GENERATION_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GenerationTimeout != 90*time.Second {
		t.Errorf("GenerationTimeout = %v", cfg.GenerationTimeout)
	}
	if cfg.GenerationWorkers != 1 {
		t.Errorf("GenerationWorkers = %d, want 1", cfg.GenerationWorkers)
	}
	if cfg.StorageBackend != StorageLocal {
		t.Errorf("StorageBackend = %q", cfg.StorageBackend)
	}
	if cfg.ImagesDir != "static/visualizations" {
		t.Errorf("ImagesDir = %q", cfg.ImagesDir)
	}
	if cfg.RedisEnabled() {
		t.Error("redis should be disabled without REDIS_HOST")
	}
}

func TestLoadParsesValues(t *testing.T) {
	t.Setenv("GENERATION_TIMEOUT", "45")
	t.Setenv("GENERATION_WORKERS", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("IMAGE_FORMAT", "WEBP")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GenerationTimeout != 45*time.Second {
		t.Errorf("GenerationTimeout = %v", cfg.GenerationTimeout)
	}
	if cfg.GenerationWorkers != 3 {
		t.Errorf("GenerationWorkers = %d", cfg.GenerationWorkers)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if got := cfg.GetRedisAddr(); got != "cache:6380" {
		t.Errorf("GetRedisAddr = %q", got)
	}
	if cfg.ImageFormat != FormatWebP {
		t.Errorf("ImageFormat = %q", cfg.ImageFormat)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad duration", key: "GENERATION_TIMEOUT", val: "soon"},
		{name: "bad workers", key: "GENERATION_WORKERS", val: "many"},
		{name: "zero workers", key: "GENERATION_WORKERS", val: "0"},
		{name: "bad bool", key: "FALLBACK_ONLY", val: "maybe"},
		{name: "bad backend", key: "STORAGE_BACKEND", val: "s3"},
		{name: "supabase without url", key: "STORAGE_BACKEND", val: "supabase"},
		{name: "bad format", key: "IMAGE_FORMAT", val: "bmp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key != "GENERATION_TIMEOUT" {
				t.Setenv("GENERATION_TIMEOUT", "30s")
			}
			t.Setenv(tt.key, tt.val)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}
