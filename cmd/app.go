package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"bouquet-visualizer/modules/common/clock"
	"bouquet-visualizer/modules/common/config"
	"bouquet-visualizer/modules/common/database"
	"bouquet-visualizer/modules/common/diffusion"
	"bouquet-visualizer/modules/common/events"
	"bouquet-visualizer/modules/common/fallback"
	"bouquet-visualizer/modules/common/gemini"
	"bouquet-visualizer/modules/common/redis"
	"bouquet-visualizer/modules/common/storage"
	"bouquet-visualizer/modules/progress"
	"bouquet-visualizer/modules/prompt"
	"bouquet-visualizer/modules/provider"
	"bouquet-visualizer/modules/visualization"
)

// app holds every wired component for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	clock    clock.Clock
	provider *provider.Provider
	service  *visualization.Service
	lookup   visualization.Lookup
	history  visualization.History
	images   visualization.ImageOpener
	hub      *progress.Hub
	queue    *redis.Queue

	closers []func()
}

type appOptions struct {
	fallbackOnly bool
	withHub      bool
	// logs go to stderr for commands that print results on stdout
	logToStderr bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if opts.fallbackOnly {
		cfg.FallbackOnly = true
	}
	out := os.Stdout
	if opts.logToStderr {
		out = os.Stderr
	}
	logger := newLogger(out, cfg.SlogLevel())
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, clock: clock.NewSystem()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.provider, err = newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := a.provider.Close(); err != nil {
			logger.Warn("closing model failed", "err", err)
		}
	})

	store, err := a.newStore()
	if err != nil {
		return nil, err
	}

	recorders, err := a.newRecorders(ctx)
	if err != nil {
		return nil, err
	}

	var observers []visualization.Observer
	if opts.withHub {
		a.hub = progress.NewHub(logger.With("component", "progress"))
		observers = append(observers, a.hub)
		a.closers = append(a.closers, a.hub.Close)
	}

	a.service, err = visualization.NewService(visualization.Options{
		Prompts:     prompt.NewBuilder(),
		Generator:   a.provider,
		Placeholder: fallback.NewRenderer(),
		Store:       store,
		Recorders:   recorders,
		Observers:   observers,
		Clock:       a.clock,
		Logger:      logger.With("component", "visualization"),
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// newProvider picks the model backend from MODEL_SOURCE:
// gemini:<model>, vertex:<model> or the URL of a local diffusion server.
func newProvider(cfg *config.Config, logger *slog.Logger) (*provider.Provider, error) {
	if cfg.FallbackOnly {
		logger.Info("fallback-only mode, model disabled")
		return provider.Disabled("fallback-only mode"), nil
	}

	load, err := loaderFor(cfg, logger)
	if err != nil {
		return nil, err
	}
	return provider.New(provider.Options{
		Load:        load,
		Timeout:     cfg.GenerationTimeout,
		LoadTimeout: cfg.ModelLoadTimeout,
		Workers:     cfg.GenerationWorkers,
		QueueSize:   cfg.GenerationQueueSize,
		Logger:      logger.With("component", "provider"),
	})
}

func loaderFor(cfg *config.Config, logger *slog.Logger) (provider.Loader, error) {
	src := strings.TrimSpace(cfg.ModelSource)

	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return func(ctx context.Context) (provider.Model, error) {
			c, err := diffusion.Load(ctx, diffusion.Options{BaseURL: src})
			if err != nil {
				return nil, err
			}
			return c, nil
		}, nil
	}

	backend, modelName, found := strings.Cut(src, ":")
	if !found || modelName == "" {
		return nil, fmt.Errorf("MODEL_SOURCE %q: want gemini:<model>, vertex:<model> or an http(s) URL", src)
	}
	opts := gemini.Options{
		Model:  modelName,
		Retry:  gemini.DefaultRetryPolicy,
		Logger: logger.With("component", "gemini"),
	}
	switch gemini.Backend(backend) {
	case gemini.BackendGeminiAPI:
		opts.Backend = gemini.BackendGeminiAPI
		opts.APIKey = cfg.GeminiAPIKey
	case gemini.BackendVertexAI:
		opts.Backend = gemini.BackendVertexAI
		opts.Project = cfg.GoogleCloudProject
		opts.Location = cfg.GoogleCloudLocation
		opts.CredentialsJSON = cfg.VertexCredsJSON
		opts.CredentialsPath = cfg.VertexCredsPath
	default:
		return nil, fmt.Errorf("MODEL_SOURCE %q: unknown backend %q", src, backend)
	}
	return func(ctx context.Context) (provider.Model, error) {
		c, err := gemini.Load(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, nil
}

func (a *app) newStore() (visualization.Store, error) {
	enc := storage.Encoding{Format: a.cfg.ImageFormat, Quality: a.cfg.WebPQuality}
	logger := a.logger.With("component", "storage")

	switch a.cfg.StorageBackend {
	case config.StorageSupabase:
		return storage.NewSupabaseStore(storage.SupabaseOptions{
			URL:           a.cfg.SupabaseURL,
			ServiceKey:    a.cfg.SupabaseServiceKey,
			Bucket:        a.cfg.SupabaseBucket,
			PublicBaseURL: a.cfg.SupabaseStorageBaseURL,
			Encoding:      enc,
			Clock:         a.clock,
			Logger:        logger,
		})
	default:
		local := storage.NewLocalStore(storage.LocalOptions{
			Dir:           a.cfg.ImagesDir,
			PublicBaseURL: a.cfg.PublicBaseURL,
			Encoding:      enc,
			Logger:        logger,
		})
		a.images = local
		return local, nil
	}
}

// newRecorders wires the latest-result index, Supabase history rows and Kafka
// completion events, each only when configured. Latest lookups prefer Redis, then
// Supabase, then an in-process index.
func (a *app) newRecorders(ctx context.Context) ([]visualization.Recorder, error) {
	var recorders []visualization.Recorder

	if a.cfg.RedisEnabled() {
		rdb, err := redis.Connect(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeRedis(rdb, a.logger))
		a.logger.Info("redis connected", "addr", a.cfg.GetRedisAddr())

		index := redis.NewResultIndex(rdb)
		a.lookup = index
		a.queue = redis.NewQueue(rdb)
		recorders = append(recorders, index)
	}

	if a.cfg.SupabaseEnabled() {
		db, err := database.NewClient(a.cfg.SupabaseURL, a.cfg.SupabaseServiceKey, a.cfg.RecordTable, a.logger.With("component", "database"))
		if err != nil {
			return nil, err
		}
		recorders = append(recorders, db)
		a.history = db
		if a.lookup == nil {
			a.lookup = db
		}
	}

	if a.lookup == nil {
		index := visualization.NewMemoryIndex()
		a.lookup = index
		recorders = append(recorders, index)
	}

	if a.cfg.KafkaEnabled() {
		producer := events.NewProducer(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, 256, a.logger.With("component", "events"))
		producer.Start(ctx)
		a.closers = append(a.closers, func() {
			producer.Close()
			producer.WaitClosed()
		})
		recorders = append(recorders, events.NewPublisher(producer))
		a.logger.Info("publishing completion events", "topic", a.cfg.KafkaTopic, "brokers", a.cfg.KafkaBrokers)
	}
	return recorders, nil
}

func closeRedis(rdb *goredis.Client, logger *slog.Logger) func() {
	return func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("closing redis failed", "err", err)
		}
	}
}

// Close releases everything in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
