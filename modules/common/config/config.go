package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	StorageLocal    = "local"
	StorageSupabase = "supabase"
)

// Image formats written by the image store
const (
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// Config - every setting the visualizer reads from the environment
type Config struct {
	// Model
	ModelSource         string
	GeminiAPIKey        string
	GoogleCloudProject  string
	GoogleCloudLocation string
	VertexCredsJSON     string
	VertexCredsPath     string
	GenerationTimeout   time.Duration
	ModelLoadTimeout    time.Duration
	GenerationWorkers   int
	GenerationQueueSize int
	FallbackOnly        bool

	// Image store
	StorageBackend string
	ImagesDir      string
	ImageFormat    string
	WebPQuality    int
	PublicBaseURL  string

	// Supabase
	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseBucket         string
	SupabaseStorageBaseURL string
	RecordTable            string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Server
	Port              string
	WorkerConcurrency int
	LogLevel          string
}

// Load - read .env (if present) and the process environment
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	r := &envReader{}

	cfg := &Config{
		ModelSource:         r.str("MODEL_SOURCE", "gemini:gemini-2.5-flash-image"),
		GeminiAPIKey:        r.str("GEMINI_API_KEY", ""),
		GoogleCloudProject:  r.str("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation: r.str("GOOGLE_CLOUD_LOCATION", "us-central1"),
		VertexCredsJSON:     r.str("VERTEXAI_CREDENTIALS_JSON", ""),
		VertexCredsPath:     r.str("VERTEXAI_CREDENTIALS_PATH", ""),
		GenerationTimeout:   r.duration("GENERATION_TIMEOUT", 0),
		ModelLoadTimeout:    r.duration("MODEL_LOAD_TIMEOUT", 2*time.Minute),
		GenerationWorkers:   r.integer("GENERATION_WORKERS", 1),
		GenerationQueueSize: r.integer("GENERATION_QUEUE_SIZE", 16),
		FallbackOnly:        r.boolean("FALLBACK_ONLY", false),

		StorageBackend: strings.ToLower(r.str("STORAGE_BACKEND", StorageLocal)),
		ImagesDir:      r.str("IMAGES_DIR", "static/visualizations"),
		ImageFormat:    strings.ToLower(r.str("IMAGE_FORMAT", FormatPNG)),
		WebPQuality:    r.integer("WEBP_QUALITY", 90),
		PublicBaseURL:  strings.TrimRight(r.str("PUBLIC_BASE_URL", ""), "/"),

		SupabaseURL:            strings.TrimRight(r.str("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey:     r.str("SUPABASE_SERVICE_KEY", ""),
		SupabaseBucket:         r.str("SUPABASE_BUCKET", "visualizations"),
		SupabaseStorageBaseURL: r.str("SUPABASE_STORAGE_BASE_URL", ""),
		RecordTable:            r.str("RECORD_TABLE", "bouquet_visualizations"),

		RedisHost:     r.str("REDIS_HOST", ""),
		RedisPort:     r.str("REDIS_PORT", "6379"),
		RedisUsername: r.str("REDIS_USERNAME", ""),
		RedisPassword: r.str("REDIS_PASSWORD", ""),
		RedisUseTLS:   r.boolean("REDIS_USE_TLS", false),

		KafkaBrokers: r.list("KAFKA_BROKERS"),
		KafkaTopic:   r.str("KAFKA_TOPIC", "bouquet.visualization.completed"),

		Port:              r.str("PORT", "8080"),
		WorkerConcurrency: r.integer("WORKER_CONCURRENCY", 2),
		LogLevel:          strings.ToLower(r.str("LOG_LEVEL", "info")),
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate - cross-field checks
func (c *Config) validate() error {
	if !c.FallbackOnly && c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT is required unless FALLBACK_ONLY=true")
	}
	if c.GenerationWorkers < 1 {
		return fmt.Errorf("GENERATION_WORKERS must be at least 1, got %d", c.GenerationWorkers)
	}
	if c.GenerationQueueSize < 0 {
		return fmt.Errorf("GENERATION_QUEUE_SIZE must not be negative, got %d", c.GenerationQueueSize)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.ImagesDir == "" {
			return fmt.Errorf("IMAGES_DIR is required for local storage")
		}
	case StorageSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required for supabase storage")
		}
		if c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_SERVICE_KEY is required for supabase storage")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageLocal, StorageSupabase, c.StorageBackend)
	}

	switch c.ImageFormat {
	case FormatPNG, FormatWebP:
	default:
		return fmt.Errorf("IMAGE_FORMAT must be %q or %q, got %q", FormatPNG, FormatWebP, c.ImageFormat)
	}
	if c.WebPQuality < 1 || c.WebPQuality > 100 {
		return fmt.Errorf("WEBP_QUALITY must be within 1..100, got %d", c.WebPQuality)
	}
	return nil
}

// RedisEnabled reports whether a Redis host is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// SupabaseEnabled reports whether Supabase credentials are configured.
func (c *Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// KafkaEnabled reports whether completion events should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// GetRedisAddr - host:port for the Redis client
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (r *envReader) integer(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return fallback
	}
	return parsed
}

func (r *envReader) boolean(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return fallback
	}
	return parsed
}

// duration accepts Go durations ("90s", "2m") or a bare number of seconds.
func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return fallback
	}
	return parsed
}

func (r *envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
