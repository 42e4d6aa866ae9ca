package reasoning

import (
	"errors"
	"fmt"
)

var (
	// ErrProvinceNotFound is returned when facts are requested for an unknown province.
	ErrProvinceNotFound = errors.New("province not found")

	// ErrInvalidPrediction is returned for predictions outside the contract.
	ErrInvalidPrediction = errors.New("invalid prediction")
)

// RuleError records a rule that failed during evaluation. The rule is
// treated as non-matching; evaluation continues with the next rule.
type RuleError struct {
	RuleID string
	Err    error
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e RuleError) Unwrap() error { return e.Err }
