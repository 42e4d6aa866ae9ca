/*
Package observability exposes Prometheus metrics for the engine.

PURPOSE:
  One Metrics value implements every observer hook the domain packages
  accept, so main wires a single instance into the ledger, the rule engine,
  the suggestion manager and the predictor fallback.

METRICS:
  relief_transfers_total{tier,result}              transfers by destination tier
  relief_transferred_quantity_total{resource_type} quantity moved by successful transfers
  relief_suggestions_created_total{resource_type}  suggestions persisted
  relief_suggestion_decisions_total{decision}      approvals and rejections
  relief_rule_errors_total{rule}                   rules that failed during evaluation
  relief_flag_reconciliations_total                reconcile passes
  relief_flags_changed_total                       suggestions whose flags changed
  relief_predictor_fallbacks_total                 rule-based fallback predictions

SEE ALSO:
  - api/server.go: GET /metrics
*/
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/warp/relief-engine/stock"
	"github.com/warp/relief-engine/suggestion"
)

const namespace = "relief"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	transfers       *prometheus.CounterVec
	transferred     *prometheus.CounterVec
	created         *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	ruleErrors      *prometheus.CounterVec
	reconciliations prometheus.Counter
	flagsChanged    prometheus.Counter
	fallbacks       prometheus.Counter
}

// New creates and registers all collectors. Go runtime and process
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Stock transfers by destination tier and result.",
		}, []string{"tier", "result"}),
		transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_quantity_total",
			Help:      "Quantity moved by successful transfers.",
		}, []string{"resource_type"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_created_total",
			Help:      "Allocation suggestions created.",
		}, []string{"resource_type"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_decisions_total",
			Help:      "Suggestion decisions by outcome.",
		}, []string{"decision"}),
		ruleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "Rules that failed during evaluation.",
		}, []string{"rule"}),
		reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flag_reconciliations_total",
			Help:      "Flag reconciliation passes.",
		}),
		flagsChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flags_changed_total",
			Help:      "Pending suggestions whose flags changed during reconciliation.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictor_fallbacks_total",
			Help:      "Predictions served by the rule-based fallback.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transfers,
		m.transferred,
		m.created,
		m.decisions,
		m.ruleErrors,
		m.reconciliations,
		m.flagsChanged,
		m.fallbacks,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// =============================================================================
// OBSERVER HOOKS
// =============================================================================

// ObserveTransfer implements stock.Metrics.
func (m *Metrics) ObserveTransfer(route stock.Tier, resource stock.ResourceType, quantity decimal.Decimal, err error) {
	m.transfers.WithLabelValues(string(route), transferResult(err)).Inc()
	if err == nil {
		m.transferred.WithLabelValues(string(resource)).Add(quantity.InexactFloat64())
	}
}

// ObserveSuggestionCreated implements suggestion.Observer.
func (m *Metrics) ObserveSuggestionCreated(resource stock.ResourceType) {
	m.created.WithLabelValues(string(resource)).Inc()
}

// ObserveDecision implements suggestion.Observer.
func (m *Metrics) ObserveDecision(decision suggestion.Status) {
	m.decisions.WithLabelValues(string(decision)).Inc()
}

// ObserveFlagReconciliation implements suggestion.Observer.
func (m *Metrics) ObserveFlagReconciliation(changed int) {
	m.reconciliations.Inc()
	if changed > 0 {
		m.flagsChanged.Add(float64(changed))
	}
}

// ObserveRuleError implements reasoning.ErrorObserver.
func (m *Metrics) ObserveRuleError(ruleID string) {
	m.ruleErrors.WithLabelValues(ruleID).Inc()
}

// ObservePredictorFallback implements predictor.FallbackObserver.
func (m *Metrics) ObservePredictorFallback() {
	m.fallbacks.Inc()
}

func transferResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stock.IsNotFound(err):
		return "not_found"
	case stock.IsConflict(err):
		return "conflict"
	case stock.IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}
