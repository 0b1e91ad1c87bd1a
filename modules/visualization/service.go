package visualization

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"bouquet-visualizer/modules/common/clock"
	"bouquet-visualizer/modules/common/model"
)

// PromptBuilder turns an order into a generation prompt.
type PromptBuilder interface {
	Build(order model.Order) string
}

// Generator is the model side; *provider.Provider satisfies it.
type Generator interface {
	IsAvailable(ctx context.Context) bool
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// PlaceholderRenderer draws the stand-in image.
type PlaceholderRenderer interface {
	Render(order model.Order) []byte
}

// Store persists image bytes.
type Store interface {
	Save(ctx context.Context, orderID string, data []byte) (model.StoredImage, error)
}

// Recorder is told about every finished visualization.
type Recorder interface {
	Record(ctx context.Context, result model.VisualizationResult) error
}

// Options wires a Service. Prompts, Generator, Placeholder and Store are required.
type Options struct {
	Prompts     PromptBuilder
	Generator   Generator
	Placeholder PlaceholderRenderer
	Store       Store
	Recorders   []Recorder
	Observers   []Observer
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Service runs the order -> prompt -> image -> stored reference pipeline.
type Service struct {
	prompts     PromptBuilder
	generator   Generator
	placeholder PlaceholderRenderer
	store       Store
	recorders   []Recorder
	observers   []Observer
	clock       clock.Clock
	logger      *slog.Logger
}

// NewService - validates the wiring
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Prompts == nil:
		return nil, errors.New("visualization: prompt builder is required")
	case opts.Generator == nil:
		return nil, errors.New("visualization: generator is required")
	case opts.Placeholder == nil:
		return nil, errors.New("visualization: placeholder renderer is required")
	case opts.Store == nil:
		return nil, errors.New("visualization: store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		prompts:     opts.Prompts,
		generator:   opts.Generator,
		placeholder: opts.Placeholder,
		store:       opts.Store,
		recorders:   opts.Recorders,
		observers:   opts.Observers,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}, nil
}

// run tracks one request through the state machine.
type run struct {
	s       *Service
	orderID string
	state   State
	logger  *slog.Logger
}

func (r *run) to(next State) {
	if !CanTransition(r.state, next) {
		// programming error in the pipeline below, never input-driven
		panic(fmt.Sprintf("visualization: illegal transition %s -> %s", r.state, next))
	}
	t := Transition{OrderID: r.orderID, From: r.state, To: next, At: r.s.clock.Now()}
	r.state = next
	r.logger.Debug("state", "from", t.From, "state", t.To)
	for _, o := range r.s.observers {
		o.OnTransition(t)
	}
}

// Visualize renders and stores an image for order.
//
// Errors are *model.ValidationError (nothing was attempted), *model.StorageError (the
// image could not be persisted) or the caller's context error when the request was
// abandoned before storing. Generation failures never surface: they fall back to the
// placeholder image.
func (s *Service) Visualize(ctx context.Context, order model.Order) (*model.VisualizationResult, error) {
	r := &run{s: s, orderID: order.ID, state: StatePrompting, logger: s.logger.With("order_id", order.ID)}

	if err := order.Validate(); err != nil {
		r.logger.Info("order rejected", "err", err)
		return nil, err
	}
	prompt := s.prompts.Build(order)

	r.to(StateGenerating)
	data, placeholder := s.generate(ctx, r, order, prompt)
	if err := ctx.Err(); err != nil {
		r.logger.Info("request abandoned", "state", r.state, "err", err)
		return nil, fmt.Errorf("visualization abandoned: %w", err)
	}
	if placeholder {
		r.to(StateFallback)
	} else {
		r.to(StateSuccess)
	}

	r.to(StateStoring)
	stored, err := s.store.Save(ctx, order.ID, data)
	if err != nil {
		r.to(StateFailed)
		var se *model.StorageError
		if !errors.As(err, &se) {
			err = &model.StorageError{OrderID: order.ID, Op: "save", Err: err}
		}
		r.logger.Error("image storage failed", "err", err)
		return nil, err
	}

	result := model.VisualizationResult{
		OrderID:       order.ID,
		ImageRef:      stored.Ref,
		ImageURL:      stored.URL,
		ContentType:   stored.ContentType,
		Prompt:        prompt,
		IsPlaceholder: placeholder,
		CreatedAt:     s.clock.Now(),
	}
	r.to(StateDone)
	r.logger.Info("visualization done", "ref", result.ImageRef, "placeholder", placeholder)

	s.record(ctx, result)
	return &result, nil
}

// generate returns the image bytes and whether they are the placeholder.
func (s *Service) generate(ctx context.Context, r *run, order model.Order, prompt string) ([]byte, bool) {
	if !s.generator.IsAvailable(ctx) {
		r.logger.Info("model unavailable, using placeholder")
		return s.placeholder.Render(order), true
	}

	data, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("generation failed, using placeholder", "err", err)
		}
		return s.placeholder.Render(order), true
	}
	return data, false
}

func (s *Service) record(ctx context.Context, result model.VisualizationResult) {
	// recorders run even when the caller has gone away
	ctx = context.WithoutCancel(ctx)
	for _, rec := range s.recorders {
		if err := rec.Record(ctx, result); err != nil {
			s.logger.Warn("recording result failed", "order_id", result.OrderID, "recorder", fmt.Sprintf("%T", rec), "err", err)
		}
	}
}
