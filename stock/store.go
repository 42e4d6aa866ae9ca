/*
store.go - Persistence interface for stock nodes and allocation records

PURPOSE:
  Defines the interface between the ledger and the database. Stock nodes are
  mutable (only through the ledger); allocation records are append-only.

KEY INTERFACES:
  Reader: Node and record queries outside of a transaction
  Tx:     Operations available inside one atomic unit
  Store:  Reader plus WithTx

OPTIMISTIC CONCURRENCY:
  Every Node carries a Version. Tx.UpdateNode writes only if the stored
  version still equals node.Version, and bumps it by one. A mismatch returns
  ErrConcurrentModification and the ledger retries the whole transfer.

APPEND-ONLY CONTRACT:
  AllocationRecords have no Update or Delete. An idempotency key, when set,
  is unique across all records.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - stock/store: In-memory for tests

SEE ALSO:
  - ledger.go: The only caller of Tx
*/
package stock

import "context"

// NodeFilter narrows ListNodes. Zero fields match everything.
type NodeFilter struct {
	Resource ResourceType
	Tier     Tier
	OwnerID  string
}

// Matches reports whether a node passes the filter.
func (f NodeFilter) Matches(n Node) bool {
	if f.Resource != "" && n.Resource != f.Resource {
		return false
	}
	if f.Tier != "" && n.Key.Tier != f.Tier {
		return false
	}
	if f.OwnerID != "" && n.Key.OwnerID != f.OwnerID {
		return false
	}
	return true
}

// AllocationFilter narrows ListAllocations. Zero fields match everything.
type AllocationFilter struct {
	Resource    ResourceType
	ReferenceID string
	Destination *NodeKey
	Limit       int
}

// Matches reports whether a record passes the filter (Limit is not applied).
func (f AllocationFilter) Matches(r AllocationRecord) bool {
	if f.Resource != "" && r.Resource != f.Resource {
		return false
	}
	if f.ReferenceID != "" && r.ReferenceID != f.ReferenceID {
		return false
	}
	if f.Destination != nil && r.Destination != *f.Destination {
		return false
	}
	return true
}

// Reader exposes read-only queries.
type Reader interface {
	// GetNode returns the node for (resource, key), or nil if none exists.
	GetNode(ctx context.Context, resource ResourceType, key NodeKey) (*Node, error)

	// ListNodes returns nodes ordered by tier, owner, resource.
	ListNodes(ctx context.Context, filter NodeFilter) ([]Node, error)

	// ListAllocations returns records newest first.
	ListAllocations(ctx context.Context, filter AllocationFilter) ([]AllocationRecord, error)
}

// Tx is the set of operations available inside one atomic unit.
type Tx interface {
	GetNode(ctx context.Context, resource ResourceType, key NodeKey) (*Node, error)

	// InsertNode creates a node. Returns ErrConcurrentModification if a node
	// for the same (resource, key) was created concurrently.
	InsertNode(ctx context.Context, node Node) error

	// UpdateNode writes node if the stored version equals node.Version.
	UpdateNode(ctx context.Context, node Node) error

	// AppendAllocation persists a record. Returns ErrDuplicateIdempotencyKey
	// if the key is already used.
	AppendAllocation(ctx context.Context, rec AllocationRecord) error
}

// Store handles persistence of stock nodes and allocation records.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through Tx is discarded.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
