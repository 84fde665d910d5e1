package publish

import (
	"context"
	"sync"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
)

// Memory records publishes for inspection. Err, when set, is returned from
// every Publish.
type Memory struct {
	mu     sync.RWMutex
	chains []string
	Err    error
}

// NewMemory returns an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the chain name.
func (m *Memory) Publish(_ context.Context, ch chain.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = append(m.chains, ch.Name)
	return m.Err
}

// Chains returns the published chain names in call order.
func (m *Memory) Chains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.chains))
	copy(out, m.chains)
	return out
}
