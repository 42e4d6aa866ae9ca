/*
Package reasoning turns a flood-risk prediction into resource proposals.

PURPOSE:
  Deductive resource reasoning. A prediction for a province is combined with
  demographic, inventory and flood-history facts; a priority-ordered rule set
  is evaluated over those facts and yields proposals, flags and multipliers.
  Nothing in this package writes anything.

KEY CONCEPTS:
  - Prediction: The external predictor's output (fixed contract)
  - Facts: Flat record the rules read, built fresh per evaluation
  - Rule: Condition + one action (allocate, flag, or multiply)
  - Engine: Ordered rule registry, pure Evaluate(facts)
  - Assembler: Builds Facts from geography and stock

DATA FLOW:
  Prediction ──► Assembler ──► Facts ──► Engine.Evaluate ──► Evaluation
                                                              │
                                      suggestion.Manager ◄────┘

SEE ALSO:
  - rules.go: Engine and rule types
  - baseline.go: Built-in rule set
  - assembler.go: Fact assembly
  - suggestion/manager.go: Consumer of Evaluation
*/
package reasoning

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// PREDICTION - Output contract of the external flood-risk predictor
// =============================================================================

// RiskLevel is the predicted flood risk class.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Elevated reports whether the risk warrants resource planning.
func (r RiskLevel) Elevated() bool {
	return r == RiskHigh || r == RiskMedium
}

// ParseRiskLevel accepts any letter case ("high", "HIGH", "High").
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPrediction, s)
}

// Prediction is the predictor's output. It is stored verbatim on every
// suggestion generated from it.
type Prediction struct {
	FloodRisk   RiskLevel `json:"flood_risk"`
	Confidence  float64   `json:"confidence"`
	Rainfall24h float64   `json:"rainfall_24h_mm"`
	Rainfall48h float64   `json:"rainfall_48h_mm,omitempty"`
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_pct"`
}

// Validate checks the fields the rules depend on.
func (p Prediction) Validate() error {
	var errs []error
	if _, err := ParseRiskLevel(string(p.FloodRisk)); err != nil {
		errs = append(errs, err)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		errs = append(errs, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidPrediction, p.Confidence))
	}
	if p.Rainfall24h < 0 || p.Rainfall48h < 0 {
		errs = append(errs, fmt.Errorf("%w: negative rainfall", ErrInvalidPrediction))
	}
	return errors.Join(errs...)
}

// Normalized returns a copy with FloodRisk in canonical case.
func (p Prediction) Normalized() (Prediction, error) {
	risk, err := ParseRiskLevel(string(p.FloodRisk))
	if err != nil {
		return p, err
	}
	p.FloodRisk = risk
	return p, p.Validate()
}
