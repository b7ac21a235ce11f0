package tracker

import (
	"context"
	"sync"

	"github.com/fushengyk/spreadscan/internal/domain"
)

// MemorySnapshots keeps the batch in process. Used when Redis is disabled;
// the rolling maximum then resets on restart.
type MemorySnapshots struct {
	mu  sync.RWMutex
	ops []domain.ArbitrageOpportunity
}

// Load returns a copy of the stored batch
func (m *MemorySnapshots) Load(context.Context) ([]domain.ArbitrageOpportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ops == nil {
		return nil, nil
	}
	return append([]domain.ArbitrageOpportunity(nil), m.ops...), nil
}

// Save replaces the stored batch
func (m *MemorySnapshots) Save(_ context.Context, ops []domain.ArbitrageOpportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append([]domain.ArbitrageOpportunity{}, ops...)
	return nil
}
