package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bouquet-visualizer/modules/common/model"
	"bouquet-visualizer/modules/common/utils"
)

// Model is a loaded text-to-image backend.
type Model interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// Loader creates the model. A Provider calls it at most once.
type Loader func(ctx context.Context) (Model, error)

// ErrClosed - provider was shut down
var ErrClosed = errors.New("provider closed")

const (
	stateUninitialized int32 = iota
	stateReady
	stateFailed
)

// Options configures a Provider.
type Options struct {
	Load Loader
	// Timeout bounds a single generation. Required.
	Timeout time.Duration
	// LoadTimeout bounds the one-time model load. Zero means no bound.
	LoadTimeout time.Duration
	// Workers is how many generations may run at once. 1 serializes every call,
	// which is what non-reentrant local models need.
	Workers int
	// QueueSize is how many requests may wait for a worker.
	QueueSize int
	Logger    *slog.Logger
}

// Status - snapshot for health endpoints
type Status struct {
	Initialized bool   `json:"initialized"`
	Available   bool   `json:"available"`
	Reason      string `json:"reason,omitempty"`
}

// Provider owns the process-wide model handle. The model is loaded lazily on first
// use, exactly once; a failed load leaves the provider permanently unavailable.
// Generation runs on dedicated worker goroutines fed by a bounded queue.
type Provider struct {
	opts   Options
	logger *slog.Logger

	state   atomic.Int32
	mu      sync.Mutex
	model   Model
	loadErr error

	jobs      chan *job
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type job struct {
	ctx    context.Context
	prompt string
	result chan outcome
}

type outcome struct {
	data []byte
	err  error
}

// New - provider that loads its model on first use
func New(opts Options) (*Provider, error) {
	if opts.Load == nil {
		return nil, fmt.Errorf("provider: loader is required")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("provider: generation timeout is required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Provider{
		opts:   opts,
		logger: logger,
		jobs:   make(chan *job, opts.QueueSize),
		done:   make(chan struct{}),
	}, nil
}

// Disabled - provider that never loads anything and always reports unavailable
func Disabled(reason string) *Provider {
	p := &Provider{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		loadErr: errors.New(reason),
		done:    make(chan struct{}),
	}
	p.state.Store(stateFailed)
	return p
}

// IsAvailable - triggers the one-time load if needed, then reports whether a model is usable
func (p *Provider) IsAvailable(ctx context.Context) bool {
	_, err := p.ensureLoaded(ctx)
	return err == nil
}

// Status reports the cached state without triggering a load.
func (p *Provider) Status() Status {
	switch p.state.Load() {
	case stateReady:
		return Status{Initialized: true, Available: true}
	case stateFailed:
		p.mu.Lock()
		defer p.mu.Unlock()
		reason := ""
		if p.loadErr != nil {
			reason = p.loadErr.Error()
		}
		return Status{Initialized: true, Reason: reason}
	default:
		return Status{}
	}
}

// ensureLoaded - double-checked lazy initialisation
func (p *Provider) ensureLoaded(ctx context.Context) (Model, error) {
	// fast path, no lock
	switch p.state.Load() {
	case stateReady:
		return p.model, nil
	case stateFailed:
		return nil, p.failure()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state.Load() {
	case stateReady:
		return p.model, nil
	case stateFailed:
		return nil, p.loadErr
	}

	// The load outlives any single caller: it is shared by everyone waiting on it.
	loadCtx := context.WithoutCancel(ctx)
	if p.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(loadCtx, p.opts.LoadTimeout)
		defer cancel()
	}

	start := time.Now()
	p.logger.Info("loading model")
	m, err := p.opts.Load(loadCtx)
	if err == nil && m == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil {
		p.loadErr = err
		p.state.Store(stateFailed)
		p.logger.Error("model load failed, generation disabled", "err", err, "elapsed", time.Since(start))
		return nil, err
	}

	p.model = m
	p.state.Store(stateReady)
	p.logger.Info("model loaded", "elapsed", time.Since(start))
	return m, nil
}

func (p *Provider) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadErr
}

// Generate - run the model on the dedicated workers
// Errors are always *model.GenerationError. If ctx ends while the model is running,
// the call returns immediately and the finished image is discarded.
func (p *Provider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	m, err := p.ensureLoaded(ctx)
	if err != nil {
		return nil, &model.GenerationError{Kind: model.FailureUnavailable, Err: err}
	}
	p.startOnce.Do(func() { p.startWorkers(m) })

	j := &job{ctx: ctx, prompt: prompt, result: make(chan outcome, 1)}

	select {
	case p.jobs <- j:
	case <-p.done:
		return nil, &model.GenerationError{Kind: model.FailureUnavailable, Err: ErrClosed}
	case <-ctx.Done():
		return nil, &model.GenerationError{Kind: model.FailureCancelled, Err: ctx.Err()}
	}

	select {
	case res := <-j.result:
		return res.data, res.err
	case <-p.done:
		return nil, &model.GenerationError{Kind: model.FailureUnavailable, Err: ErrClosed}
	case <-ctx.Done():
		return nil, &model.GenerationError{Kind: model.FailureCancelled, Err: ctx.Err()}
	}
}

func (p *Provider) startWorkers(m Model) {
	p.logger.Info("starting generation workers", "workers", p.opts.Workers, "queue", p.opts.QueueSize)
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(m)
	}
}

func (p *Provider) worker(m Model) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			// abandoned while queued: do not start new work for it
			if err := j.ctx.Err(); err != nil {
				j.result <- outcome{err: &model.GenerationError{Kind: model.FailureCancelled, Err: err}}
				continue
			}
			j.result <- p.run(m, j)
		}
	}
}

func (p *Provider) run(m Model, j *job) outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), p.opts.Timeout)
	defer cancel()

	start := time.Now()
	data, err := m.GenerateImage(ctx, j.prompt)
	elapsed := time.Since(start)

	if err != nil {
		kind := model.FailureInference
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			kind = model.FailureTimeout
		}
		p.logger.Warn("generation failed", "kind", kind, "err", err, "elapsed", elapsed)
		return outcome{err: &model.GenerationError{Kind: kind, Err: err}}
	}
	if ctx.Err() != nil {
		p.logger.Warn("generation finished after deadline", "elapsed", elapsed)
		return outcome{err: &model.GenerationError{Kind: model.FailureTimeout, Err: ctx.Err()}}
	}
	if _, err := utils.ValidateImage(data); err != nil {
		p.logger.Warn("generation returned unusable output", "err", err, "bytes", len(data))
		return outcome{err: &model.GenerationError{Kind: model.FailureInvalidOutput, Err: err}}
	}

	p.logger.Debug("generation finished", "bytes", len(data), "elapsed", elapsed)
	return outcome{data: data}
}

// Close stops the workers. Requests still queued are answered as unavailable.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()

	// answer anything left in the queue
	for {
		select {
		case j := <-p.jobs:
			j.result <- outcome{err: &model.GenerationError{Kind: model.FailureUnavailable, Err: ErrClosed}}
		default:
			return p.closeModel()
		}
	}
}

func (p *Provider) closeModel() error {
	if p.state.Load() != stateReady {
		return nil
	}
	if c, ok := p.model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
