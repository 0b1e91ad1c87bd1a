package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"bouquet-visualizer/modules/common/model"
)

func TestQueueIsFIFO(t *testing.T) {
	_, rdb := newTestClient(t)
	q := NewQueue(rdb)
	ctx := context.Background()

	if q.Name() != KeyVisualizationQueue {
		t.Errorf("Name = %q", q.Name())
	}
	for i, payload := range []string{"first", "second"} {
		n, err := q.Push(ctx, []byte(payload))
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if n != int64(i+1) {
			t.Errorf("queue length after push %d = %d", i, n)
		}
	}

	for _, want := range []string{"first", "second"} {
		got, err := q.Pop(ctx, time.Second)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if string(got) != want {
			t.Errorf("Pop = %q, want %q", got, want)
		}
	}
}

func TestQueuePopEmpty(t *testing.T) {
	_, rdb := newTestClient(t)
	q := NewQueue(rdb)

	if _, err := q.Pop(context.Background(), time.Second); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("err = %v, want ErrQueueEmpty", err)
	}
}

func TestQueueServerError(t *testing.T) {
	mr, rdb := newTestClient(t)
	q := NewQueue(rdb)

	mr.SetError("ERR injected failure")
	if _, err := q.Push(context.Background(), []byte("job")); err == nil {
		t.Error("expected Push to fail")
	}
	if _, err := q.Pop(context.Background(), time.Second); err == nil || errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Pop err = %v, want a server error", err)
	}
}

func TestQueueJobState(t *testing.T) {
	mr, rdb := newTestClient(t)
	q := NewQueue(rdb)
	ctx := context.Background()

	if _, err := q.State(ctx, "j1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown job: err = %v, want ErrNotFound", err)
	}

	updated := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	want := model.JobState{
		JobID:     "j1",
		OrderID:   "o1",
		Status:    model.StatusCompleted,
		Result:    &model.VisualizationResult{OrderID: "o1", ImageRef: "o1/x.png", IsPlaceholder: true},
		UpdatedAt: updated,
	}
	if err := q.SaveState(ctx, want); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, err := q.State(ctx, "j1")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if got.Status != model.StatusCompleted || got.OrderID != "o1" || !got.UpdatedAt.Equal(updated) {
		t.Errorf("State = %+v", got)
	}
	if got.Result == nil || got.Result.ImageRef != "o1/x.png" || !got.Result.IsPlaceholder {
		t.Errorf("State.Result = %+v", got.Result)
	}
	if ttl := mr.TTL(jobKey("j1")); ttl != TTLJobState {
		t.Errorf("ttl = %v, want %v", ttl, TTLJobState)
	}

	mr.Set(jobKey("j2"), "{")
	if _, err := q.State(ctx, "j2"); err == nil || errors.Is(err, model.ErrNotFound) {
		t.Errorf("corrupt state: err = %v", err)
	}
}

func TestQueueCancelFlag(t *testing.T) {
	mr, rdb := newTestClient(t)
	q := NewQueue(rdb)
	ctx := context.Background()

	cancelled, err := q.IsCancelled(ctx, "j1")
	if err != nil || cancelled {
		t.Fatalf("fresh job: cancelled = %v, err = %v", cancelled, err)
	}
	if err := q.Cancel(ctx, "j1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled, err = q.IsCancelled(ctx, "j1"); err != nil || !cancelled {
		t.Errorf("after Cancel: cancelled = %v, err = %v", cancelled, err)
	}
	if other, _ := q.IsCancelled(ctx, "j2"); other {
		t.Error("cancel flag leaked to another job")
	}

	mr.FastForward(TTLJobState + time.Second)
	if cancelled, _ = q.IsCancelled(ctx, "j1"); cancelled {
		t.Error("cancel flag should expire with the job record")
	}
}
