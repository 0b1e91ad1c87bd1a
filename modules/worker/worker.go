package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"bouquet-visualizer/modules/common/clock"
	"bouquet-visualizer/modules/common/model"
	redisq "bouquet-visualizer/modules/common/redis"
)

const (
	defaultPollTimeout = 5 * time.Second
	defaultCancelPoll  = time.Second
	errorBackoff       = 5 * time.Second
)

// JobQueue is the Redis queue as seen by the worker and the HTTP handlers.
// *redis.Queue implements it. Pop returns redis.ErrQueueEmpty on timeout.
type JobQueue interface {
	Name() string
	Push(ctx context.Context, payload []byte) (int64, error)
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	SaveState(ctx context.Context, state model.JobState) error
	State(ctx context.Context, jobID string) (model.JobState, error)
	Cancel(ctx context.Context, jobID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
}

// Visualizer - *visualization.Service
type Visualizer interface {
	Visualize(ctx context.Context, order model.Order) (*model.VisualizationResult, error)
}

// Options configures a Worker.
type Options struct {
	Queue   JobQueue
	Service Visualizer
	// Concurrency is the number of jobs in flight. Defaults to 1.
	Concurrency int
	// PollTimeout bounds each BRPOP so shutdown is noticed.
	PollTimeout time.Duration
	// CancelPoll is how often a running job checks its cancel flag.
	CancelPoll time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Worker pulls visualization jobs off the queue and runs them.
type Worker struct {
	queue       JobQueue
	svc         Visualizer
	concurrency int
	pollTimeout time.Duration
	cancelPoll  time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

func New(opts Options) *Worker {
	w := &Worker{
		queue:       opts.Queue,
		svc:         opts.Service,
		concurrency: opts.Concurrency,
		pollTimeout: opts.PollTimeout,
		cancelPoll:  opts.CancelPoll,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	if w.pollTimeout <= 0 {
		w.pollTimeout = defaultPollTimeout
	}
	if w.cancelPoll <= 0 {
		w.cancelPoll = defaultCancelPoll
	}
	if w.clock == nil {
		w.clock = clock.NewSystem()
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return w
}

// Run watches the queue until ctx is done, then waits for jobs in flight.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("watching queue", "queue", w.queue.Name(), "concurrency", w.concurrency)

	sem := semaphore.NewWeighted(int64(w.concurrency))
	var wg sync.WaitGroup
	defer wg.Wait()

	// jobs that already started are finished even when ctx ends
	jobCtx := context.WithoutCancel(ctx)

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			w.logger.Info("worker stopping", "queue", w.queue.Name())
			return nil
		}

		payload, err := w.queue.Pop(ctx, w.pollTimeout)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				w.logger.Info("worker stopping", "queue", w.queue.Name())
				return nil
			}
			if errors.Is(err, redisq.ErrQueueEmpty) {
				continue
			}
			w.logger.Error("queue pop failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errorBackoff):
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			w.Process(jobCtx, payload)
		}()
	}
}

// Process runs one queued payload and records its status.
func (w *Worker) Process(ctx context.Context, payload []byte) {
	var job model.Job
	if err := json.Unmarshal(payload, &job); err != nil || job.JobID == "" {
		if err == nil {
			err = errors.New("missing job_id")
		}
		w.logger.Error("dropping invalid job payload", "err", err, "bytes", len(payload))
		if job.JobID != "" {
			w.saveState(ctx, job, model.StatusFailed, nil, "invalid job payload: "+err.Error())
		}
		return
	}
	logger := w.logger.With("job_id", job.JobID, "order_id", job.Order.ID)

	if w.cancelled(ctx, job.JobID) {
		logger.Info("job cancelled before start")
		w.saveState(ctx, job, model.StatusCancelled, nil, "")
		return
	}

	w.saveState(ctx, job, model.StatusProcessing, nil, "")
	start := w.clock.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.watchCancel(runCtx, cancel, job.JobID)

	result, err := w.svc.Visualize(runCtx, job.Order)
	switch {
	case err == nil:
		logger.Info("job completed", "ref", result.ImageRef, "placeholder", result.IsPlaceholder, "elapsed", w.clock.Now().Sub(start))
		w.saveState(ctx, job, model.StatusCompleted, result, "")
	case runCtx.Err() != nil && ctx.Err() == nil:
		logger.Info("job cancelled while running")
		w.saveState(ctx, job, model.StatusCancelled, nil, "")
	default:
		logger.Warn("job failed", "err", err)
		w.saveState(ctx, job, model.StatusFailed, nil, err.Error())
	}
}

// watchCancel polls the job's cancel flag until ctx ends.
func (w *Worker) watchCancel(ctx context.Context, cancel context.CancelFunc, jobID string) {
	ticker := time.NewTicker(w.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.cancelled(ctx, jobID) {
				cancel()
				return
			}
		}
	}
}

func (w *Worker) cancelled(ctx context.Context, jobID string) bool {
	ok, err := w.queue.IsCancelled(ctx, jobID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("cancel flag check failed", "job_id", jobID, "err", err)
		}
		return false
	}
	return ok
}

func (w *Worker) saveState(ctx context.Context, job model.Job, status string, result *model.VisualizationResult, msg string) {
	state := model.JobState{
		JobID:     job.JobID,
		OrderID:   job.Order.ID,
		Status:    status,
		Result:    result,
		Error:     msg,
		UpdatedAt: w.clock.Now(),
	}
	if err := w.queue.SaveState(ctx, state); err != nil {
		w.logger.Error("saving job state failed", "job_id", job.JobID, "status", status, "err", err)
	}
}
