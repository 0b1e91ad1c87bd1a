package provider

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bouquet-visualizer/modules/common/model"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// fakeModel records concurrency and can be told to block or fail.
type fakeModel struct {
	data    []byte
	err     error
	delay   time.Duration
	release chan struct{}

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (m *fakeModel) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		old := m.maxSeen.Load()
		if n <= old || m.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}

	if m.release != nil {
		<-m.release
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.data, m.err
}

func countingLoader(m Model, err error, loads *atomic.Int32) Loader {
	return func(ctx context.Context) (Model, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func newProvider(t *testing.T, opts Options) *Provider {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func generationKind(t *testing.T, err error) model.GenerationFailure {
	t.Helper()
	var gerr *model.GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	return gerr.Kind
}

func TestNewRequiresLoaderAndTimeout(t *testing.T) {
	if _, err := New(Options{Timeout: time.Second}); err == nil {
		t.Error("missing loader should fail")
	}
	if _, err := New(Options{Load: func(context.Context) (Model, error) { return nil, nil }}); err == nil {
		t.Error("missing timeout should fail")
	}
}

func TestLoadsExactlyOnceUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	fm := &fakeModel{data: pngBytes(t)}
	p := newProvider(t, Options{Load: countingLoader(fm, nil, &loads), Workers: 4, QueueSize: 64})

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !p.IsAvailable(context.Background()) {
				errs <- errors.New("provider unavailable")
				return
			}
			if _, err := p.Generate(context.Background(), "prompt"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("caller failed: %v", err)
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("loader called %d times, want 1", got)
	}
	if got := fm.calls.Load(); got != callers {
		t.Errorf("model called %d times, want %d", got, callers)
	}
}

func TestLoadFailureIsPermanent(t *testing.T) {
	var loads atomic.Int32
	p := newProvider(t, Options{Load: countingLoader(nil, errors.New("weights missing"), &loads)})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.IsAvailable(context.Background()) {
				t.Error("provider should be unavailable")
			}
		}()
	}
	wg.Wait()

	_, err := p.Generate(context.Background(), "prompt")
	if kind := generationKind(t, err); kind != model.FailureUnavailable {
		t.Errorf("kind = %s", kind)
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("loader called %d times, want 1", got)
	}

	st := p.Status()
	if !st.Initialized || st.Available || st.Reason != "weights missing" {
		t.Errorf("status = %+v", st)
	}
}

func TestLoaderReturningNilModel(t *testing.T) {
	p := newProvider(t, Options{Load: func(context.Context) (Model, error) { return nil, nil }})
	if p.IsAvailable(context.Background()) {
		t.Error("nil model must count as a failed load")
	}
}

func TestStatusBeforeLoad(t *testing.T) {
	p := newProvider(t, Options{Load: func(context.Context) (Model, error) { return &fakeModel{}, nil }})
	if st := p.Status(); st.Initialized {
		t.Errorf("Status must not trigger a load: %+v", st)
	}
}

func TestLoadIgnoresCallerCancellation(t *testing.T) {
	var loads atomic.Int32
	fm := &fakeModel{data: pngBytes(t)}
	p := newProvider(t, Options{Load: func(ctx context.Context) (Model, error) {
		loads.Add(1)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fm, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.IsAvailable(ctx)

	if !p.IsAvailable(context.Background()) {
		t.Error("a cancelled first caller must not poison the shared load")
	}
}

func TestDisabled(t *testing.T) {
	p := Disabled("fallback-only mode")
	defer p.Close()

	if p.IsAvailable(context.Background()) {
		t.Error("disabled provider reported available")
	}
	_, err := p.Generate(context.Background(), "prompt")
	if kind := generationKind(t, err); kind != model.FailureUnavailable {
		t.Errorf("kind = %s", kind)
	}
	if st := p.Status(); st.Reason != "fallback-only mode" {
		t.Errorf("status = %+v", st)
	}
}

func TestGenerateFailureKinds(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		want  model.GenerationFailure
	}{
		{name: "inference error", model: &fakeModel{err: errors.New("cuda oom")}, want: model.FailureInference},
		{name: "timeout", model: &fakeModel{delay: time.Second}, want: model.FailureTimeout},
		{name: "empty output", model: &fakeModel{data: nil}, want: model.FailureInvalidOutput},
		{name: "garbage output", model: &fakeModel{data: []byte("<html>quota</html>")}, want: model.FailureInvalidOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.model
			p := newProvider(t, Options{
				Load:    func(context.Context) (Model, error) { return m, nil },
				Timeout: 50 * time.Millisecond,
			})
			_, err := p.Generate(context.Background(), "prompt")
			if kind := generationKind(t, err); kind != tt.want {
				t.Errorf("kind = %s, want %s", kind, tt.want)
			}
		})
	}
}

func TestGenerateSerializesByDefault(t *testing.T) {
	fm := &fakeModel{data: pngBytes(t), delay: 5 * time.Millisecond}
	p := newProvider(t, Options{Load: func(context.Context) (Model, error) { return fm, nil }, QueueSize: 16})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Generate(context.Background(), "prompt"); err != nil {
				t.Errorf("generate: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := fm.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent generations = %d, want 1", got)
	}
}

func TestCancelledCallerDiscardsRunningGeneration(t *testing.T) {
	fm := &fakeModel{data: pngBytes(t), release: make(chan struct{})}
	p := newProvider(t, Options{Load: func(context.Context) (Model, error) { return fm, nil }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Generate(ctx, "prompt")
		done <- err
	}()

	// wait until the model is running
	deadline := time.After(time.Second)
	for fm.inFlight.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("generation never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-done:
		if kind := generationKind(t, err); kind != model.FailureCancelled {
			t.Errorf("kind = %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Generate did not return after cancellation")
	}

	// the model is still allowed to finish
	if fm.inFlight.Load() != 1 {
		t.Error("running generation should not be interrupted")
	}
	close(fm.release)

	// the worker is free again afterwards
	if _, err := p.Generate(context.Background(), "next"); err != nil {
		t.Errorf("next generation: %v", err)
	}
}

func TestQueuedJobSkippedAfterCancellation(t *testing.T) {
	fm := &fakeModel{data: pngBytes(t), release: make(chan struct{})}
	p := newProvider(t, Options{Load: func(context.Context) (Model, error) { return fm, nil }, QueueSize: 4})

	// occupy the only worker
	first := make(chan error, 1)
	go func() {
		_, err := p.Generate(context.Background(), "first")
		first <- err
	}()
	for fm.inFlight.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan error, 1)
	go func() {
		_, err := p.Generate(ctx, "queued")
		queued <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-queued

	close(fm.release)
	if err := <-first; err != nil {
		t.Fatalf("first: %v", err)
	}
	// give the worker a moment to drain the abandoned job
	time.Sleep(20 * time.Millisecond)
	if got := fm.calls.Load(); got != 1 {
		t.Errorf("model called %d times, want 1", got)
	}
}

type closingModel struct {
	fakeModel
	closed atomic.Bool
}

func (c *closingModel) Close() error {
	c.closed.Store(true)
	return nil
}

func TestCloseReleasesModel(t *testing.T) {
	cm := &closingModel{fakeModel: fakeModel{data: pngBytes(t)}}
	p, err := New(Options{Load: func(context.Context) (Model, error) { return cm, nil }, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Generate(context.Background(), "prompt"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !cm.closed.Load() {
		t.Error("model Close was not called")
	}

	_, err = p.Generate(context.Background(), "after close")
	if kind := generationKind(t, err); kind != model.FailureUnavailable {
		t.Errorf("kind = %s", kind)
	}
}
