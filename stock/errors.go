/*
errors.go - Centralized error types for the stock ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is / errors.As or the helpers at the bottom.

ERROR CATEGORIES:
  1. Not found - missing source node
  2. Client errors - invalid quantity, route, key, insufficient stock
  3. Conflicts - concurrent modification, duplicate idempotency key

SEE ALSO:
  - ledger.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package stock

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNodeNotFound is returned when a transfer source does not exist.
	// Sources are never auto-created.
	ErrNodeNotFound = errors.New("stock node not found")

	// ErrInsufficientStock is returned when a transfer exceeds source availability.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidRoute is returned when a transfer does not go exactly one tier down.
	ErrInvalidRoute = errors.New("invalid allocation route")

	ErrInvalidTier    = errors.New("invalid tier")
	ErrInvalidNodeKey = errors.New("invalid node key")

	// ErrUnknownResource is returned when no catalog entry exists for a resource type.
	ErrUnknownResource = errors.New("unknown resource type")

	// ErrConcurrentModification is returned when an optimistic version check
	// keeps failing after all retries.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when an allocation record with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	Resource  ResourceType
	Source    NodeKey
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient %s at %s: available %s, requested %s, shortfall %s",
		e.Resource, e.Source, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// NodeNotFoundError names the missing node.
type NodeNotFoundError struct {
	Resource ResourceType
	Key      NodeKey
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("no %s stock at %s", e.Resource, e.Key)
}

func (e *NodeNotFoundError) Unwrap() error {
	return ErrNodeNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidRoute) ||
		errors.Is(err, ErrInvalidTier) ||
		errors.Is(err, ErrInvalidNodeKey) ||
		errors.Is(err, ErrUnknownResource)
}

// IsNotFound returns true if the error indicates a missing node.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// IsConflict returns true if the error is a concurrency or duplicate conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
