/*
Package suggestion owns the human-in-the-loop approval workflow.

PURPOSE:
  The rule engine proposes; a coordinator decides. Each proposal becomes a
  pending Suggestion. Approving one executes a national → province transfer
  through the stock ledger; rejecting one records a reason.

LIFECYCLE:
  pending ──approve──► approved ──► executing ──► completed
     │                                   └──────► failed
     └────reject──► rejected

  Status moves one way and exactly once. The pending → approved|rejected
  step is a conditional store update, so of two concurrent deciders exactly
  one wins. ExecutionStatus only moves while Status is approved.

FLAGS:
  Rule flags (LOW_CONFIDENCE, PROLONGED_RAINFALL) are copied on creation.
  INSUFFICIENT_STOCK is set iff Quantity exceeds national availability and is
  recomputed for pending suggestions whenever they are read.

SEE ALSO:
  - manager.go: Workflow operations
  - store.go: Persistence contract
  - reasoning/: Where proposals come from
*/
package suggestion

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/relief-engine/reasoning"
	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decided reports whether the status is terminal.
func (s Status) Decided() bool {
	return s == StatusApproved || s == StatusRejected
}

type ExecutionStatus string

const (
	ExecutionNone      ExecutionStatus = ""
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// =============================================================================
// SUGGESTION
// =============================================================================

type Suggestion struct {
	ID         string
	Resource   stock.ResourceType
	ProvinceID string
	Quantity   decimal.Decimal

	// Reasoning is a human-readable explanation of the triggering rule.
	Reasoning    string
	MatchedRules []string
	Confidence   float64

	// Prediction is the predictor output the suggestion was built from.
	Prediction reasoning.Prediction
	Flags      []reasoning.Flag

	Status          Status
	ExecutionStatus ExecutionStatus
	ExecutionError  string
	AllocationID    string

	CreatedBy       string
	DecidedBy       string
	DecidedAt       *time.Time
	RejectionReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasFlag reports whether f is set.
func (s Suggestion) HasFlag(f reasoning.Flag) bool {
	for _, x := range s.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// withFlag returns a copy of flags with f present or absent, preserving order.
func withFlag(flags []reasoning.Flag, f reasoning.Flag, present bool) []reasoning.Flag {
	out := make([]reasoning.Flag, 0, len(flags)+1)
	found := false
	for _, x := range flags {
		if x == f {
			found = true
			if !present {
				continue
			}
		}
		out = append(out, x)
	}
	if present && !found {
		out = append(out, f)
	}
	return out
}

// =============================================================================
// QUERIES
// =============================================================================

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status     Status
	ProvinceID string
	Resource   stock.ResourceType
}

// Stats summarizes decisions across all suggestions.
type Stats struct {
	Total    int
	Pending  int
	Approved int
	Rejected int

	// ApprovalRate is approved / (approved + rejected), 0 when nothing is decided.
	ApprovalRate float64
}

// Transition is a guarded status change.
type Transition struct {
	ID              string
	To              Status
	ActorID         string
	RejectionReason string
	At              time.Time
}

// Execution is an update of the execution fields of an approved suggestion.
type Execution struct {
	ID           string
	Status       ExecutionStatus
	Error        string
	AllocationID string
	At           time.Time
}
