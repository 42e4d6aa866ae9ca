package observability_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/relief-engine/observability"
	"github.com/warp/relief-engine/stock"
	"github.com/warp/relief-engine/suggestion"
)

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Hooks(t *testing.T) {
	// GIVEN: A fresh metrics instance
	// WHEN: Each observer hook fires
	// THEN: The scrape output carries the matching series

	m := observability.New()

	m.ObserveTransfer(stock.TierProvince, stock.ResourceWater, decimal.NewFromInt(1500), nil)
	m.ObserveTransfer(stock.TierProvince, stock.ResourceWater, decimal.NewFromInt(99), &stock.InsufficientStockError{})
	m.ObserveTransfer(stock.TierDistrict, stock.ResourceFood, decimal.NewFromInt(1), stock.ErrConcurrentModification)
	m.ObserveTransfer(stock.TierShelter, stock.ResourceFood, decimal.NewFromInt(1), errors.New("disk full"))
	m.ObserveSuggestionCreated(stock.ResourceWater)
	m.ObserveDecision(suggestion.StatusApproved)
	m.ObserveDecision(suggestion.StatusRejected)
	m.ObserveFlagReconciliation(3)
	m.ObserveFlagReconciliation(0)
	m.ObserveRuleError("water-allocation")
	m.ObservePredictorFallback()

	out := scrape(t, m)
	assert.Contains(t, out, `relief_transfers_total{result="ok",tier="province"} 1`)
	assert.Contains(t, out, `relief_transfers_total{result="rejected",tier="province"} 1`)
	assert.Contains(t, out, `relief_transfers_total{result="conflict",tier="district"} 1`)
	assert.Contains(t, out, `relief_transfers_total{result="error",tier="shelter"} 1`)
	assert.Contains(t, out, `relief_transferred_quantity_total{resource_type="water"} 1500`)
	assert.Contains(t, out, `relief_suggestions_created_total{resource_type="water"} 1`)
	assert.Contains(t, out, `relief_suggestion_decisions_total{decision="approved"} 1`)
	assert.Contains(t, out, `relief_suggestion_decisions_total{decision="rejected"} 1`)
	assert.Contains(t, out, `relief_flag_reconciliations_total 2`)
	assert.Contains(t, out, `relief_flags_changed_total 3`)
	assert.Contains(t, out, `relief_rule_errors_total{rule="water-allocation"} 1`)
	assert.Contains(t, out, `relief_predictor_fallbacks_total 1`)
	assert.Contains(t, out, "go_goroutines")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := observability.New(), observability.New()
	a.ObservePredictorFallback()

	assert.Contains(t, scrape(t, a), "relief_predictor_fallbacks_total 1")
	assert.Contains(t, scrape(t, b), "relief_predictor_fallbacks_total 0")
}
