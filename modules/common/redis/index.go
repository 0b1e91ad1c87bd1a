package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bouquet-visualizer/modules/common/model"
)

// ResultIndex keeps the latest visualization per order.
type ResultIndex struct {
	rdb *redis.Client
}

// NewResultIndex - index backed by rdb
func NewResultIndex(rdb *redis.Client) *ResultIndex {
	return &ResultIndex{rdb: rdb}
}

// maxRecordAttempts bounds WATCH retries when writers race on one order.
const maxRecordAttempts = 16

// Record - store result unless a newer one is already indexed for the order
func (i *ResultIndex) Record(ctx context.Context, result model.VisualizationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := latestKey(result.OrderID)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var prev model.VisualizationResult
			if json.Unmarshal(current, &prev) == nil && prev.CreatedAt.After(result.CreatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, TTLLatest)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxRecordAttempts; attempt++ {
		err = i.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("redis SET latest: %w", err)
	}
	return nil
}

// Latest - model.ErrNotFound when nothing is recorded
func (i *ResultIndex) Latest(ctx context.Context, orderID string) (model.VisualizationResult, error) {
	var out model.VisualizationResult
	payload, err := i.rdb.Get(ctx, latestKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, model.ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("redis GET latest: %w", err)
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode latest: %w", err)
	}
	return out, nil
}
