package suggestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/relief-engine/reasoning"
	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// FactSource builds facts for a prediction. *reasoning.Assembler implements it.
type FactSource interface {
	Assemble(ctx context.Context, p reasoning.Prediction, provinceID string) (reasoning.Facts, error)
}

// Evaluator runs the rule set. *reasoning.Engine implements it.
type Evaluator interface {
	Evaluate(facts reasoning.Facts) reasoning.Evaluation
	Rules() []reasoning.Rule
}

// Allocator executes an approved suggestion. *stock.Ledger implements it.
type Allocator interface {
	Transfer(ctx context.Context, req stock.TransferRequest) (*stock.AllocationRecord, error)
}

// StockReader reads current stock for flag recomputation. *stock.Ledger
// implements it.
type StockReader interface {
	Nodes(ctx context.Context, filter stock.NodeFilter) ([]stock.Node, error)
}

// Observer receives workflow events for metrics. Optional.
type Observer interface {
	ObserveSuggestionCreated(resource stock.ResourceType)
	ObserveDecision(decision Status)
	ObserveFlagReconciliation(changed int)
}

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	store     Store
	facts     FactSource
	engine    Evaluator
	allocator Allocator
	stock     StockReader
	observer  Observer
	log       *zap.Logger
	now       func() time.Time
	newID     func() string

	rules map[string]reasoning.Rule
}

type ManagerOption func(*Manager)

func WithLogger(log *zap.Logger) ManagerOption { return func(m *Manager) { m.log = log } }
func WithObserver(o Observer) ManagerOption { return func(m *Manager) { m.observer = o } }
func WithClock(now func() time.Time) ManagerOption { return func(m *Manager) { m.now = now } }
func WithIDGenerator(f func() string) ManagerOption { return func(m *Manager) { m.newID = f } }

func NewManager(store Store, facts FactSource, engine Evaluator, allocator Allocator, stockReader StockReader, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		facts:     facts,
		engine:    engine,
		allocator: allocator,
		stock:     stockReader,
		log:       zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		rules:     make(map[string]reasoning.Rule),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.log = m.log.Named("suggestions")
	for _, r := range engine.Rules() {
		m.rules[r.ID] = r
	}
	return m
}

// =============================================================================
// GENERATE
// =============================================================================

// ProcessPrediction evaluates a prediction for a province and persists one
// pending suggestion per proposal. Low-risk predictions produce nothing.
func (m *Manager) ProcessPrediction(ctx context.Context, p reasoning.Prediction, provinceID, actorID string) ([]Suggestion, error) {
	p, err := p.Normalized()
	if err != nil {
		return nil, err
	}
	if !p.FloodRisk.Elevated() {
		m.log.Debug("risk not elevated, nothing to suggest",
			zap.String("province_id", provinceID),
			zap.String("flood_risk", string(p.FloodRisk)),
		)
		return nil, nil
	}

	facts, err := m.facts.Assemble(ctx, p, provinceID)
	if err != nil {
		return nil, err
	}
	ev := m.engine.Evaluate(facts)

	shared := m.sharedRuleIDs(ev)
	multiplier := ev.Multiplier()
	now := m.now()

	var out []Suggestion
	for _, prop := range ev.Proposals {
		qty := prop.Quantity.Mul(multiplier).Ceil()
		if !qty.IsPositive() {
			continue
		}

		flags := append([]reasoning.Flag(nil), ev.Flags...)
		flags = withFlag(flags, reasoning.FlagInsufficientStock, exceeds(qty, facts.NationalLevel(prop.Resource).Available()))

		out = append(out, Suggestion{
			ID:           m.newID(),
			Resource:     prop.Resource,
			ProvinceID:   provinceID,
			Quantity:     qty,
			Reasoning:    m.explain(prop, facts, multiplier),
			MatchedRules: append([]string{prop.RuleID}, shared...),
			Confidence:   p.Confidence,
			Prediction:   p,
			Flags:        flags,
			Status:       StatusPending,
			CreatedBy:    actorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if len(out) == 0 {
		m.log.Info("prediction produced no proposals",
			zap.String("province_id", provinceID),
			zap.Strings("matched_rules", ev.MatchedRuleIDs),
		)
		return nil, nil
	}

	if err := m.store.CreateSuggestions(ctx, out); err != nil {
		return nil, fmt.Errorf("persist suggestions: %w", err)
	}

	for _, s := range out {
		if m.observer != nil {
			m.observer.ObserveSuggestionCreated(s.Resource)
		}
		m.log.Info("suggestion created",
			zap.String("suggestion_id", s.ID),
			zap.String("province_id", s.ProvinceID),
			zap.String("resource", string(s.Resource)),
			zap.String("quantity", s.Quantity.String()),
			zap.Int("flags", len(s.Flags)),
		)
	}
	return out, nil
}

// sharedRuleIDs returns matched flag and multiplier rules, which apply to
// every proposal of an evaluation.
func (m *Manager) sharedRuleIDs(ev reasoning.Evaluation) []string {
	var ids []string
	for _, id := range ev.MatchedRuleIDs {
		if r, ok := m.rules[id]; ok && r.Then.Kind == reasoning.ActionAllocate {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) explain(prop reasoning.Proposal, f reasoning.Facts, multiplier decimal.Decimal) string {
	var b strings.Builder
	if r, ok := m.rules[prop.RuleID]; ok && r.Description != "" {
		b.WriteString(r.Description)
	} else {
		b.WriteString(prop.RuleID)
	}
	fmt.Fprintf(&b, ". %s flood risk in %s (%.0f%% confidence, %.0fmm rain in 24h), population %d.",
		f.FloodRisk, provinceLabel(f), f.Confidence*100, f.Rainfall24h, f.Population)
	if !multiplier.Equal(decimal.NewFromInt(1)) {
		fmt.Fprintf(&b, " Scaled x%s for recent flood history.", multiplier.String())
	}
	return b.String()
}

func provinceLabel(f reasoning.Facts) string {
	if f.ProvinceName != "" {
		return f.ProvinceName
	}
	return f.ProvinceID
}

func exceeds(qty, available decimal.Decimal) bool {
	return qty.GreaterThan(available)
}

// =============================================================================
// READ
// =============================================================================

// List returns matching suggestions, with INSUFFICIENT_STOCK brought up to
// date on the pending ones.
func (m *Manager) List(ctx context.Context, filter Filter) ([]Suggestion, error) {
	items, err := m.store.ListSuggestions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if _, err := m.refreshFlags(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Suggestion, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	items := []Suggestion{*s}
	if _, err := m.refreshFlags(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// ReconcileFlags recomputes INSUFFICIENT_STOCK on every pending suggestion
// and reports how many changed.
func (m *Manager) ReconcileFlags(ctx context.Context) (int, error) {
	items, err := m.store.ListSuggestions(ctx, Filter{Status: StatusPending})
	if err != nil {
		return 0, err
	}
	changed, err := m.refreshFlags(ctx, items)
	if err != nil {
		return changed, err
	}
	if m.observer != nil {
		m.observer.ObserveFlagReconciliation(changed)
	}
	if changed > 0 {
		m.log.Info("flags reconciled", zap.Int("changed", changed), zap.Int("pending", len(items)))
	}
	return changed, nil
}

// refreshFlags updates items in place and persists only the ones whose flag
// changed.
func (m *Manager) refreshFlags(ctx context.Context, items []Suggestion) (int, error) {
	var available map[stock.ResourceType]decimal.Decimal
	changed := 0

	for i := range items {
		s := &items[i]
		if s.Status != StatusPending {
			continue
		}
		if available == nil {
			var err error
			if available, err = m.nationalAvailability(ctx); err != nil {
				return changed, err
			}
		}

		want := exceeds(s.Quantity, available[s.Resource])
		if want == s.HasFlag(reasoning.FlagInsufficientStock) {
			continue
		}

		flags := withFlag(s.Flags, reasoning.FlagInsufficientStock, want)
		ok, err := m.store.UpdateFlags(ctx, s.ID, flags)
		if err != nil {
			return changed, fmt.Errorf("update flags for %s: %w", s.ID, err)
		}
		if !ok {
			// Decided between read and write; leave it as read.
			continue
		}
		s.Flags = flags
		changed++
		m.log.Debug("insufficient stock flag changed",
			zap.String("suggestion_id", s.ID),
			zap.Bool("insufficient", want),
		)
	}
	return changed, nil
}

func (m *Manager) nationalAvailability(ctx context.Context) (map[stock.ResourceType]decimal.Decimal, error) {
	nodes, err := m.stock.Nodes(ctx, stock.NodeFilter{Tier: stock.TierNational})
	if err != nil {
		return nil, fmt.Errorf("national stock: %w", err)
	}
	out := make(map[stock.ResourceType]decimal.Decimal, len(nodes))
	for _, n := range nodes {
		out[n.Resource] = n.Available()
	}
	return out, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Approve marks a pending suggestion approved and executes the transfer
// national → province. If the transfer fails the suggestion stays approved
// with ExecutionStatus failed and an *ExecutionError is returned alongside it.
func (m *Manager) Approve(ctx context.Context, id, actorID string) (*Suggestion, *stock.AllocationRecord, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.Status.Decided() {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrSuggestionProcessed, id, s.Status)
	}

	if err := m.transition(ctx, Transition{ID: id, To: StatusApproved, ActorID: actorID, At: m.now()}); err != nil {
		return nil, nil, err
	}

	// Approval is one-way: execution bookkeeping runs to completion even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)

	var rec *stock.AllocationRecord
	xferErr := m.store.UpdateExecution(ctx, Execution{ID: id, Status: ExecutionExecuting, At: m.now()})
	if xferErr != nil {
		xferErr = fmt.Errorf("mark executing: %w", xferErr)
	} else {
		rec, xferErr = m.allocator.Transfer(ctx, stock.TransferRequest{
			Resource:       s.Resource,
			Source:         stock.NationalKey(),
			Destination:    stock.ProvinceKey(s.ProvinceID),
			Quantity:       s.Quantity,
			Note:           fmt.Sprintf("approved suggestion %s", id),
			ActorID:        actorID,
			ReferenceID:    id,
			IdempotencyKey: "suggestion:" + id,
		})
	}

	exec := Execution{ID: id, Status: ExecutionCompleted, At: m.now()}
	if xferErr != nil {
		exec.Status = ExecutionFailed
		exec.Error = xferErr.Error()
	} else {
		exec.AllocationID = rec.ID
	}
	if err := m.store.UpdateExecution(ctx, exec); err != nil {
		return nil, rec, fmt.Errorf("record execution result: %w", err)
	}

	updated, err := m.load(ctx, id)
	if err != nil {
		return nil, rec, err
	}

	if xferErr != nil {
		m.log.Warn("approved suggestion failed to execute",
			zap.String("suggestion_id", id),
			zap.String("actor", actorID),
			zap.Error(xferErr),
		)
		return updated, nil, &ExecutionError{SuggestionID: id, Err: xferErr}
	}

	m.log.Info("suggestion approved",
		zap.String("suggestion_id", id),
		zap.String("allocation_id", rec.ID),
		zap.String("actor", actorID),
	)
	return updated, rec, nil
}

// Reject marks a pending suggestion rejected. A reason is mandatory.
func (m *Manager) Reject(ctx context.Context, id, actorID, reason string) (*Suggestion, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status.Decided() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSuggestionProcessed, id, s.Status)
	}

	if err := m.transition(ctx, Transition{
		ID: id, To: StatusRejected, ActorID: actorID, RejectionReason: reason, At: m.now(),
	}); err != nil {
		return nil, err
	}

	m.log.Info("suggestion rejected",
		zap.String("suggestion_id", id),
		zap.String("actor", actorID),
	)
	return m.load(ctx, id)
}

// transition is the single mutual-exclusion point between deciders.
func (m *Manager) transition(ctx context.Context, t Transition) error {
	ok, err := m.store.TransitionSuggestion(ctx, t)
	if err != nil {
		return fmt.Errorf("transition %s: %w", t.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSuggestionProcessed, t.ID)
	}
	if m.observer != nil {
		m.observer.ObserveDecision(t.To)
	}
	return nil
}

// =============================================================================
// STATS
// =============================================================================

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	st, err := m.store.SuggestionStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.ApprovalRate = 0
	if decided := st.Approved + st.Rejected; decided > 0 {
		st.ApprovalRate = float64(st.Approved) / float64(decided)
	}
	return st, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Suggestion, error) {
	s, err := m.store.GetSuggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSuggestionNotFound, id)
	}
	return s, nil
}
