// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routing

import (
	"sync"

	"meshcore.dev/core/internal/errors"
)

// ErrPoolExhausted is returned when no table ID remains free in the pool.
var ErrPoolExhausted = errors.New(errors.KindUnavailable, "routing table pool exhausted")

// TablePool hands out kernel policy-routing table IDs from a fixed,
// contiguous range, e.g. 100-199.
type TablePool struct {
	mu   sync.Mutex
	min  int
	max  int
	used map[int]bool
}

// NewTablePool returns a pool covering [min, max] inclusive.
func NewTablePool(min, max int) *TablePool {
	return &TablePool{min: min, max: max, used: make(map[int]bool)}
}

// Acquire reserves and returns the lowest free table ID.
func (p *TablePool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := p.min; id <= p.max; id++ {
		if !p.used[id] {
			p.used[id] = true
			return id, nil
		}
	}
	return 0, ErrPoolExhausted
}

// Release returns id to the pool. Releasing an unheld or out-of-range ID is
// a no-op.
func (p *TablePool) Release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, id)
}

// InUse reports how many IDs are currently held, for metrics/diagnostics.
func (p *TablePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
