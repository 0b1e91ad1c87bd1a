package visualization

import (
	"context"
	"sync"

	"bouquet-visualizer/modules/common/model"
)

// Lookup finds the most recent result for an order.
type Lookup interface {
	Latest(ctx context.Context, orderID string) (model.VisualizationResult, error)
}

// MemoryIndex is an in-process latest-result index, used when Redis is not configured.
type MemoryIndex struct {
	mu     sync.RWMutex
	latest map[string]model.VisualizationResult
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{latest: make(map[string]model.VisualizationResult)}
}

// Record keeps result unless a newer one is already indexed.
func (m *MemoryIndex) Record(_ context.Context, result model.VisualizationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.latest[result.OrderID]; ok && cur.CreatedAt.After(result.CreatedAt) {
		return nil
	}
	m.latest[result.OrderID] = result
	return nil
}

func (m *MemoryIndex) Latest(_ context.Context, orderID string) (model.VisualizationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.latest[orderID]
	if !ok {
		return model.VisualizationResult{}, model.ErrNotFound
	}
	return r, nil
}
