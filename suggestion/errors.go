package suggestion

import (
	"errors"
	"fmt"

	"github.com/warp/relief-engine/reasoning"
	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrSuggestionNotFound = errors.New("suggestion not found")

	// ErrSuggestionProcessed is returned when a decision is attempted on a
	// suggestion that is no longer pending.
	ErrSuggestionProcessed = errors.New("suggestion already processed")

	ErrReasonRequired = errors.New("rejection reason is required")
)

// =============================================================================
// EXECUTION ERROR
// =============================================================================

// ExecutionError is returned by Approve when the decision was recorded but
// the stock transfer failed. The suggestion stays approved with
// ExecutionStatus failed.
type ExecutionError struct {
	SuggestionID string
	Err          error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("suggestion %s approved but transfer failed: %v", e.SuggestionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// =============================================================================
// CLASSIFICATION
// =============================================================================

func IsNotFound(err error) bool {
	return errors.Is(err, ErrSuggestionNotFound) ||
		errors.Is(err, reasoning.ErrProvinceNotFound) ||
		stock.IsNotFound(err)
}

func IsClientError(err error) bool {
	return errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, reasoning.ErrInvalidPrediction) ||
		stock.IsClientError(err)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrSuggestionProcessed) || stock.IsConflict(err)
}

// IsExecutionFailure reports whether err came from a failed transfer after
// approval.
func IsExecutionFailure(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
