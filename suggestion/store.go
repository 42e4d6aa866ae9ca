package suggestion

import (
	"context"

	"github.com/warp/relief-engine/reasoning"
)

// Store persists suggestions.
type Store interface {
	CreateSuggestions(ctx context.Context, items []Suggestion) error

	// GetSuggestion returns nil if the id is unknown.
	GetSuggestion(ctx context.Context, id string) (*Suggestion, error)

	// ListSuggestions returns matches newest first.
	ListSuggestions(ctx context.Context, filter Filter) ([]Suggestion, error)

	// TransitionSuggestion applies t only if the suggestion is still pending.
	// It reports whether a row changed.
	TransitionSuggestion(ctx context.Context, t Transition) (bool, error)

	// UpdateExecution writes execution status for an approved suggestion.
	UpdateExecution(ctx context.Context, e Execution) error

	// UpdateFlags replaces the flags of a pending suggestion. It reports
	// whether a row changed.
	UpdateFlags(ctx context.Context, id string, flags []reasoning.Flag) (bool, error)

	SuggestionStats(ctx context.Context) (Stats, error)
}
