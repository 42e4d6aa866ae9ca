// Package store provides in-memory stock.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.Mutex
	nodes       map[key]stock.Node
	records     []stock.AllocationRecord
	idempotency map[string]bool
}

type key struct {
	Resource stock.ResourceType
	Node     stock.NodeKey
}

func NewMemory() *Memory {
	return &Memory{
		nodes:       make(map[key]stock.Node),
		idempotency: make(map[string]bool),
	}
}

// Seed writes a node directly, bypassing the ledger. Test fixtures only.
func (m *Memory) Seed(n stock.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.Version == 0 {
		n.Version = 1
	}
	m.nodes[key{Resource: n.Resource, Node: n.Key}] = n
}

func (m *Memory) GetNode(_ context.Context, resource stock.ResourceType, k stock.NodeKey) (*stock.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[key{Resource: resource, Node: k}]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (m *Memory) ListNodes(_ context.Context, filter stock.NodeFilter) ([]stock.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []stock.Node
	for _, n := range m.nodes {
		if filter.Matches(n) {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Key.Tier.Level() != b.Key.Tier.Level() {
			return a.Key.Tier.Level() < b.Key.Tier.Level()
		}
		if a.Key.OwnerID != b.Key.OwnerID {
			return a.Key.OwnerID < b.Key.OwnerID
		}
		return a.Resource < b.Resource
	})
	return result, nil
}

func (m *Memory) ListAllocations(_ context.Context, filter stock.AllocationFilter) ([]stock.AllocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []stock.AllocationRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if filter.Matches(m.records[i]) {
			result = append(result, m.records[i])
			if filter.Limit > 0 && len(result) >= filter.Limit {
				break
			}
		}
	}
	return result, nil
}

// WithTx runs fn against a staged view. Writes become visible only if fn
// returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(stock.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{parent: m, nodes: make(map[key]stock.Node), idempotency: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}

	for k, n := range tx.nodes {
		m.nodes[k] = n
	}
	m.records = append(m.records, tx.records...)
	for k := range tx.idempotency {
		m.idempotency[k] = true
	}
	return nil
}

// =============================================================================
// STAGED TRANSACTION
// =============================================================================

// memTx is only used while parent.mu is held.
type memTx struct {
	parent      *Memory
	nodes       map[key]stock.Node
	records     []stock.AllocationRecord
	idempotency map[string]bool
}

func (t *memTx) lookup(k key) (stock.Node, bool) {
	if n, ok := t.nodes[k]; ok {
		return n, true
	}
	n, ok := t.parent.nodes[k]
	return n, ok
}

func (t *memTx) GetNode(_ context.Context, resource stock.ResourceType, nk stock.NodeKey) (*stock.Node, error) {
	n, ok := t.lookup(key{Resource: resource, Node: nk})
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (t *memTx) InsertNode(_ context.Context, n stock.Node) error {
	k := key{Resource: n.Resource, Node: n.Key}
	if _, exists := t.lookup(k); exists {
		return stock.ErrConcurrentModification
	}
	t.nodes[k] = n
	return nil
}

func (t *memTx) UpdateNode(_ context.Context, n stock.Node) error {
	k := key{Resource: n.Resource, Node: n.Key}
	current, ok := t.lookup(k)
	if !ok || current.Version != n.Version {
		return stock.ErrConcurrentModification
	}
	n.Version++
	t.nodes[k] = n
	return nil
}

func (t *memTx) AppendAllocation(_ context.Context, rec stock.AllocationRecord) error {
	if rec.IdempotencyKey != "" {
		if t.parent.idempotency[rec.IdempotencyKey] || t.idempotency[rec.IdempotencyKey] {
			return stock.ErrDuplicateIdempotencyKey
		}
		t.idempotency[rec.IdempotencyKey] = true
	}
	t.records = append(t.records, rec)
	return nil
}
