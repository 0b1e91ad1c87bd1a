package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bouquet-visualizer/modules/common/model"
)

// ErrQueueEmpty - BRPOP timed out without a job
var ErrQueueEmpty = errors.New("queue empty")

// Queue is a Redis list used as a FIFO job queue plus per-job status records.
type Queue struct {
	rdb  *redis.Client
	name string
}

// NewQueue - queue on the default list key
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, name: KeyVisualizationQueue}
}

// Name of the underlying list
func (q *Queue) Name() string { return q.name }

// Push - LPUSH, returns the queue length afterwards
func (q *Queue) Push(ctx context.Context, payload []byte) (int64, error) {
	n, err := q.rdb.LPush(ctx, q.name, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LPUSH: %w", err)
	}
	return n, nil
}

// Pop - BRPOP with a timeout so callers can notice shutdown
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	// res[0] is the list name, res[1] the payload
	if len(res) < 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply %v", res)
	}
	return []byte(res[1]), nil
}

// SaveState - store a job status record
func (q *Queue) SaveState(ctx context.Context, state model.JobState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	if err := q.rdb.Set(ctx, jobKey(state.JobID), payload, TTLJobState).Err(); err != nil {
		return fmt.Errorf("redis SET job state: %w", err)
	}
	return nil
}

// State - model.ErrNotFound for unknown or expired jobs
func (q *Queue) State(ctx context.Context, jobID string) (model.JobState, error) {
	var out model.JobState
	payload, err := q.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, model.ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("redis GET job state: %w", err)
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode job state: %w", err)
	}
	return out, nil
}

// Cancel - flag a job; the worker skips it or abandons it mid-run
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	if err := q.rdb.Set(ctx, cancelKey(jobID), "1", TTLJobState).Err(); err != nil {
		return fmt.Errorf("redis SET cancel flag: %w", err)
	}
	return nil
}

// IsCancelled - whether Cancel was called for the job
func (q *Queue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	n, err := q.rdb.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS cancel flag: %w", err)
	}
	return n > 0, nil
}
