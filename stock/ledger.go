/*
ledger.go - Hierarchical stock-transfer primitive

PURPOSE:
  The Ledger is the only writer of stock nodes. Every tier's "allocate to
  child" operation (national→province, province→district, district→shelter)
  and every approved suggestion calls Transfer.

TRANSFER STEPS (one atomic unit):
  1. Load the source node; missing source fails with NodeNotFoundError
  2. Load the destination; auto-provision it from the catalog if missing
  3. Require quantity ≤ source.Quantity - source.Allocated
  4. source.Quantity -= q, source.Allocated += q, destination.Quantity += q,
     then recompute derived status / supply level
  5. Append an immutable AllocationRecord

CONSERVATION:
  For any sequence of successful transfers out of a node:
    quantityBefore  == quantityAfter + Σq
    allocatedAfter  == allocatedBefore + Σq

CONCURRENCY:
  Steps 1-5 run inside Store.WithTx. Node writes are version-checked; when
  another writer got there first the transaction is discarded and the whole
  transfer is retried from step 1, up to MaxAttempts times.

EXAMPLE:
  ledger := stock.NewLedger(store, stock.WithLogger(log))
  rec, err := ledger.Transfer(ctx, stock.TransferRequest{
      Resource:    stock.ResourceFood,
      Source:      stock.ProvinceKey("prov-01"),
      Destination: stock.DistrictKey("dist-07"),
      Quantity:    decimal.NewFromInt(1200),
      Note:        "pre-positioning for monsoon",
  })
  var short *stock.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Println("short by", short.Shortfall)
  }

SEE ALSO:
  - store.go: Tx interface used here
  - status.go: Derived fields
  - resource.go: Provisioning defaults
*/
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds optimistic-concurrency retries per transfer.
const DefaultMaxAttempts = 5

// =============================================================================
// REQUESTS
// =============================================================================

// TransferRequest moves Quantity of Resource from Source to Destination.
// Destination must be exactly one tier below Source.
type TransferRequest struct {
	Resource    ResourceType
	Source      NodeKey
	Destination NodeKey
	Quantity    decimal.Decimal
	Note        string
	ActorID     string

	// ReferenceID links the record to whatever caused it (e.g. a suggestion id).
	ReferenceID string

	// IdempotencyKey, when set, guarantees at most one record for the key.
	IdempotencyKey string
}

// IntakeRequest adds stock received from outside the hierarchy to a node.
type IntakeRequest struct {
	Resource       ResourceType
	Destination    NodeKey
	Quantity       decimal.Decimal
	Note           string
	ActorID        string
	ReferenceID    string
	IdempotencyKey string
}

// Metrics receives the outcome of every ledger write. Implementations must
// be safe for concurrent use.
type Metrics interface {
	ObserveTransfer(route Tier, resource ResourceType, quantity decimal.Decimal, err error)
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store       Store
	catalog     *Catalog
	log         *zap.Logger
	metrics     Metrics
	now         func() time.Time
	newID       func() string
	maxAttempts int
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithCatalog(c *Catalog) Option { return func(l *Ledger) { l.catalog = c } }
func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = log } }
func WithMetrics(m Metrics) Option { return func(l *Ledger) { l.metrics = m } }
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }
func WithMaxAttempts(n int) Option { return func(l *Ledger) { l.maxAttempts = n } }

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		catalog:     DefaultCatalog(),
		log:         zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.NewString() },
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.maxAttempts < 1 {
		l.maxAttempts = 1
	}
	l.log = l.log.Named("ledger")
	return l
}

// Catalog returns the resource catalog used for provisioning.
func (l *Ledger) Catalog() *Catalog { return l.catalog }

// Transfer moves stock one tier down the hierarchy. See the file comment for
// the exact steps.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (*AllocationRecord, error) {
	defaults, err := l.validateTransfer(req)
	if err != nil {
		l.observe(req.Destination.Tier, req.Resource, req.Quantity, err)
		return nil, err
	}

	rec, err := l.retry(ctx, func() (*AllocationRecord, error) {
		return l.transferOnce(ctx, req, defaults)
	})
	l.observe(req.Destination.Tier, req.Resource, req.Quantity, err)
	if err != nil {
		l.log.Warn("transfer failed",
			zap.String("resource", string(req.Resource)),
			zap.String("source", req.Source.String()),
			zap.String("destination", req.Destination.String()),
			zap.String("quantity", req.Quantity.String()),
			zap.Error(err),
		)
		return nil, err
	}

	l.log.Info("transfer completed",
		zap.String("record_id", rec.ID),
		zap.String("resource", string(req.Resource)),
		zap.String("source", req.Source.String()),
		zap.String("destination", req.Destination.String()),
		zap.String("quantity", req.Quantity.String()),
		zap.String("actor", req.ActorID),
	)
	return rec, nil
}

// Receive adds externally sourced stock to a node, creating it if needed.
func (l *Ledger) Receive(ctx context.Context, req IntakeRequest) (*AllocationRecord, error) {
	if err := req.Destination.Validate(); err != nil {
		return nil, err
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidQuantity, req.Quantity)
	}
	defaults, ok := l.catalog.Lookup(req.Resource)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, req.Resource)
	}

	rec, err := l.retry(ctx, func() (*AllocationRecord, error) {
		return l.receiveOnce(ctx, req, defaults)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("stock received",
		zap.String("record_id", rec.ID),
		zap.String("resource", string(req.Resource)),
		zap.String("destination", req.Destination.String()),
		zap.String("quantity", req.Quantity.String()),
	)
	return rec, nil
}

// Node returns the node for (resource, key) or a NodeNotFoundError.
func (l *Ledger) Node(ctx context.Context, resource ResourceType, key NodeKey) (*Node, error) {
	n, err := l.store.GetNode(ctx, resource, key)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &NodeNotFoundError{Resource: resource, Key: key}
	}
	return n, nil
}

func (l *Ledger) Nodes(ctx context.Context, filter NodeFilter) ([]Node, error) {
	return l.store.ListNodes(ctx, filter)
}

func (l *Ledger) Allocations(ctx context.Context, filter AllocationFilter) ([]AllocationRecord, error) {
	return l.store.ListAllocations(ctx, filter)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) validateTransfer(req TransferRequest) (ResourceDefaults, error) {
	if err := req.Source.Validate(); err != nil {
		return ResourceDefaults{}, err
	}
	if err := req.Destination.Validate(); err != nil {
		return ResourceDefaults{}, err
	}
	if req.Destination.Tier.Level() != req.Source.Tier.Level()+1 {
		return ResourceDefaults{}, fmt.Errorf("%w: %s → %s", ErrInvalidRoute, req.Source.Tier, req.Destination.Tier)
	}
	if !req.Quantity.IsPositive() {
		return ResourceDefaults{}, fmt.Errorf("%w: got %s", ErrInvalidQuantity, req.Quantity)
	}
	defaults, ok := l.catalog.Lookup(req.Resource)
	if !ok {
		return ResourceDefaults{}, fmt.Errorf("%w: %q", ErrUnknownResource, req.Resource)
	}
	return defaults, nil
}

func (l *Ledger) retry(ctx context.Context, fn func() (*AllocationRecord, error)) (*AllocationRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		rec, err := fn()
		if err == nil {
			return rec, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		l.log.Debug("version conflict, retrying", zap.Int("attempt", attempt))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", l.maxAttempts, lastErr)
}

func (l *Ledger) transferOnce(ctx context.Context, req TransferRequest, defaults ResourceDefaults) (*AllocationRecord, error) {
	var rec AllocationRecord
	err := l.store.WithTx(ctx, func(tx Tx) error {
		src, err := tx.GetNode(ctx, req.Resource, req.Source)
		if err != nil {
			return err
		}
		if src == nil {
			return &NodeNotFoundError{Resource: req.Resource, Key: req.Source}
		}

		dst, err := tx.GetNode(ctx, req.Resource, req.Destination)
		if err != nil {
			return err
		}
		if dst == nil {
			dst, err = l.provisionNode(ctx, tx, req.Resource, req.Destination, defaults)
			if err != nil {
				return err
			}
		}

		available := src.Quantity.Sub(src.Allocated)
		if req.Quantity.GreaterThan(available) {
			reported := decimal.Max(available, decimal.Zero)
			return &InsufficientStockError{
				Resource:  req.Resource,
				Source:    req.Source,
				Available: reported,
				Requested: req.Quantity,
				Shortfall: req.Quantity.Sub(reported),
			}
		}

		now := l.now()

		src.Quantity = src.Quantity.Sub(req.Quantity)
		src.Allocated = src.Allocated.Add(req.Quantity)
		src.refresh(defaults)
		src.UpdatedAt = now
		if err := tx.UpdateNode(ctx, *src); err != nil {
			return err
		}

		dst.Quantity = dst.Quantity.Add(req.Quantity)
		dst.refresh(defaults)
		dst.UpdatedAt = now
		if err := tx.UpdateNode(ctx, *dst); err != nil {
			return err
		}

		source := req.Source
		rec = AllocationRecord{
			ID:             l.newID(),
			Kind:           KindTransfer,
			Resource:       req.Resource,
			Source:         &source,
			Destination:    req.Destination,
			Quantity:       req.Quantity,
			Note:           req.Note,
			ActorID:        req.ActorID,
			ReferenceID:    req.ReferenceID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		return tx.AppendAllocation(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *Ledger) receiveOnce(ctx context.Context, req IntakeRequest, defaults ResourceDefaults) (*AllocationRecord, error) {
	var rec AllocationRecord
	err := l.store.WithTx(ctx, func(tx Tx) error {
		dst, err := tx.GetNode(ctx, req.Resource, req.Destination)
		if err != nil {
			return err
		}
		if dst == nil {
			dst, err = l.provisionNode(ctx, tx, req.Resource, req.Destination, defaults)
			if err != nil {
				return err
			}
		}

		now := l.now()
		dst.Quantity = dst.Quantity.Add(req.Quantity)
		dst.refresh(defaults)
		dst.UpdatedAt = now
		if err := tx.UpdateNode(ctx, *dst); err != nil {
			return err
		}

		rec = AllocationRecord{
			ID:             l.newID(),
			Kind:           KindIntake,
			Resource:       req.Resource,
			Destination:    req.Destination,
			Quantity:       req.Quantity,
			Note:           req.Note,
			ActorID:        req.ActorID,
			ReferenceID:    req.ReferenceID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		return tx.AppendAllocation(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// provisionNode creates a destination node from catalog defaults.
func (l *Ledger) provisionNode(ctx context.Context, tx Tx, resource ResourceType, key NodeKey, defaults ResourceDefaults) (*Node, error) {
	now := l.now()
	node := Node{
		ID:        l.newID(),
		Resource:  resource,
		Key:       key,
		Name:      defaults.Name,
		Unit:      defaults.Unit,
		Icon:      defaults.Icon,
		Quantity:  defaults.SeedFor(key.Tier),
		Allocated: decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	node.refresh(defaults)
	if err := tx.InsertNode(ctx, node); err != nil {
		return nil, err
	}
	l.log.Info("provisioned stock node",
		zap.String("resource", string(resource)),
		zap.String("key", key.String()),
		zap.String("seed", node.Quantity.String()),
	)
	return &node, nil
}

func (l *Ledger) observe(route Tier, resource ResourceType, quantity decimal.Decimal, err error) {
	if l.metrics != nil {
		l.metrics.ObserveTransfer(route, resource, quantity, err)
	}
}
