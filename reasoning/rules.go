/*
rules.go - Rule types and the evaluation engine

PURPOSE:
  Rules are data plus closures: a Condition over Facts and exactly one
  Action. The Engine keeps them sorted by priority and evaluates a Facts
  value against all of them.

ACTIONS:
  allocate: propose Quantity(facts) of a resource (kept only if > 0)
  flag:     add a flag to the result (set semantics)
  modify:   append a multiplier; the caller multiplies every proposal by all
            multipliers in matched order

ORDERING:
  Ascending Priority. Equal priorities keep registration order.

ISOLATION:
  A rule that panics is recovered, recorded in Evaluation.Errors, logged and
  treated as non-matching. The remaining rules still run.

PURITY:
  Evaluate holds no state between calls. The same Facts and rule set always
  produce the same Evaluation.

SEE ALSO:
  - baseline.go: Built-in rules
  - suggestion/manager.go: Applies multipliers and persists proposals
*/
package reasoning

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// RULE
// =============================================================================

type Category string

const (
	CategoryAllocation   Category = "allocation"
	CategoryValidation   Category = "validation"
	CategoryOptimization Category = "optimization"
)

// Flag is a non-blocking annotation carried onto suggestions.
type Flag string

const (
	FlagInsufficientStock Flag = "INSUFFICIENT_STOCK"
	FlagLowConfidence     Flag = "LOW_CONFIDENCE"
	FlagProlongedRainfall Flag = "PROLONGED_RAINFALL"
)

// Condition decides whether a rule applies.
type Condition func(Facts) bool

// QuantityFunc computes a proposed quantity.
type QuantityFunc func(Facts) decimal.Decimal

type ActionKind string

const (
	ActionAllocate ActionKind = "allocate"
	ActionFlag     ActionKind = "flag"
	ActionModify   ActionKind = "modify"
)

// Action is a tagged union; only the fields for Kind are read.
type Action struct {
	Kind ActionKind

	// allocate
	Resource stock.ResourceType
	Quantity QuantityFunc

	// flag
	Flag Flag

	// modify
	Factor decimal.Decimal
}

func Allocate(resource stock.ResourceType, quantity QuantityFunc) Action {
	return Action{Kind: ActionAllocate, Resource: resource, Quantity: quantity}
}

func RaiseFlag(f Flag) Action {
	return Action{Kind: ActionFlag, Flag: f}
}

func Multiply(factor decimal.Decimal) Action {
	return Action{Kind: ActionModify, Factor: factor}
}

// Rule is immutable once registered.
type Rule struct {
	ID          string
	Description string
	Category    Category
	Priority    int
	When        Condition
	Then        Action
}

// =============================================================================
// EVALUATION
// =============================================================================

// Proposal is one rule's allocation suggestion. Proposals for the same
// resource from different rules are never merged.
type Proposal struct {
	RuleID   string
	Resource stock.ResourceType
	Quantity decimal.Decimal
}

// Modifier is one matched multiplier.
type Modifier struct {
	RuleID string
	Factor decimal.Decimal
}

type Evaluation struct {
	MatchedRuleIDs []string
	Proposals      []Proposal
	Flags          []Flag
	Modifiers      []Modifier
	Errors         []RuleError
}

// HasFlag reports whether f was raised.
func (e Evaluation) HasFlag(f Flag) bool {
	for _, x := range e.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// Multiplier is the product of all modifiers, in matched order. 1 if none.
func (e Evaluation) Multiplier() decimal.Decimal {
	m := decimal.NewFromInt(1)
	for _, mod := range e.Modifiers {
		m = m.Mul(mod.Factor)
	}
	return m
}

// =============================================================================
// ENGINE
// =============================================================================

// ErrorObserver is told about every rule that failed during evaluation.
type ErrorObserver interface {
	ObserveRuleError(ruleID string)
}

type Engine struct {
	rules    []Rule
	log      *zap.Logger
	observer ErrorObserver
}

type EngineOption func(*Engine)

func WithEngineLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

func WithErrorObserver(o ErrorObserver) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// NewEngine registers rules sorted by priority (stable).
func NewEngine(rules []Rule, opts ...EngineOption) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	e := &Engine{rules: sorted, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.Named("rules")
	return e
}

// NewDefaultEngine builds an engine with the baseline rule set.
func NewDefaultEngine(opts ...EngineOption) *Engine {
	return NewEngine(BaselineRules(), opts...)
}

// Rules returns the registered rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every rule against facts.
func (e *Engine) Evaluate(facts Facts) Evaluation {
	var result Evaluation
	for _, rule := range e.rules {
		out, err := e.apply(rule, facts)
		if err != nil {
			result.Errors = append(result.Errors, RuleError{RuleID: rule.ID, Err: err})
			e.log.Warn("rule failed, skipping",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
			if e.observer != nil {
				e.observer.ObserveRuleError(rule.ID)
			}
			continue
		}
		if !out.matched {
			continue
		}

		result.MatchedRuleIDs = append(result.MatchedRuleIDs, rule.ID)
		switch rule.Then.Kind {
		case ActionAllocate:
			if out.quantity.IsPositive() {
				result.Proposals = append(result.Proposals, Proposal{
					RuleID:   rule.ID,
					Resource: rule.Then.Resource,
					Quantity: out.quantity,
				})
			}
		case ActionFlag:
			if !result.HasFlag(rule.Then.Flag) {
				result.Flags = append(result.Flags, rule.Then.Flag)
			}
		case ActionModify:
			result.Modifiers = append(result.Modifiers, Modifier{RuleID: rule.ID, Factor: rule.Then.Factor})
		}

		e.log.Debug("rule matched",
			zap.String("rule_id", rule.ID),
			zap.String("action", string(rule.Then.Kind)),
		)
	}
	return result
}

type ruleOutcome struct {
	matched  bool
	quantity decimal.Decimal
}

// apply evaluates one rule, converting panics into errors. Nothing is
// appended to the result until apply returns cleanly.
func (e *Engine) apply(rule Rule, facts Facts) (out ruleOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = ruleOutcome{}
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if rule.When == nil {
		return ruleOutcome{}, fmt.Errorf("rule has no condition")
	}
	if !rule.When(facts) {
		return ruleOutcome{}, nil
	}

	switch rule.Then.Kind {
	case ActionAllocate:
		if rule.Then.Quantity == nil {
			return ruleOutcome{}, fmt.Errorf("allocate action has no quantity function")
		}
		return ruleOutcome{matched: true, quantity: rule.Then.Quantity(facts)}, nil
	case ActionFlag, ActionModify:
		return ruleOutcome{matched: true}, nil
	default:
		return ruleOutcome{}, fmt.Errorf("unknown action kind %q", rule.Then.Kind)
	}
}
