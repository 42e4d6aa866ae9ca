/*
scenarios_test.go - Tests for demo scenarios

Each scenario is loaded through the HTTP endpoint and the resulting state is
checked through the same API a dashboard would use.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/relief-engine/reasoning"
)

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "flood-season", list[0].ID)
}

func TestLoadScenario_FloodSeason(t *testing.T) {
	// GIVEN: An empty database
	// WHEN: The flood-season scenario is loaded
	// THEN: National stock exists, water is pre-positioned down to a shelter,
	//       and a prediction for Quang Nam applies the flood-history multiplier

	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "flood-season"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "flood-season", decode[ScenarioDTO](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/api/stock?tier=national&resource_type=water", nil)
	national := decode[[]NodeDTO](t, rec)
	require.Len(t, national, 1)
	assert.Equal(t, "19600000", national[0].Available.String())

	rec = ts.do(t, http.MethodGet, "/api/stock?tier=shelter", nil)
	shelters := decode[[]NodeDTO](t, rec)
	require.Len(t, shelters, 1)
	assert.Equal(t, "hoi-an-school", shelters[0].OwnerID)
	assert.Equal(t, 25, *shelters[0].SupplyLevel)

	// 260,000 people, recent flood: water 260,000 × 30 × 1.5
	rec = ts.do(t, http.MethodPost, "/api/suggestions/generate", map[string]any{
		"province_id": "quang-nam",
		"prediction":  heavyRain["prediction"],
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[GenerateResponse](t, rec)

	byType := map[string]SuggestionDTO{}
	for _, s := range resp.Suggestions {
		byType[s.ResourceType] = s
	}
	assert.Equal(t, "11700000", byType["water"].Quantity.String())
	assert.Contains(t, byType["water"].MatchedRules, "historical-multiplier")
	// Shelter: 260,000 × 0.3 × 1.5 = 117,000 > 100,000 national
	assert.Contains(t, byType["shelter"].Flags, string(reasoning.FlagInsufficientStock))
}

func TestLoadScenario_StockShortage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "stock-shortage"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/suggestions/generate", map[string]any{
		"province_id": "thua-thien-hue",
		"prediction":  heavyRain["prediction"],
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, s := range decode[GenerateResponse](t, rec).Suggestions {
		assert.Contains(t, s.Flags, string(reasoning.FlagInsufficientStock), s.ResourceType)
		assert.NotContains(t, s.MatchedRules, "historical-multiplier")
	}
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "flood-season"}).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "flood-season"}).Code)

	rec := ts.do(t, http.MethodGet, "/api/stock?tier=national&resource_type=water", nil)
	national := decode[[]NodeDTO](t, rec)
	require.Len(t, national, 1)
	// One load's worth: 200,000 pre-positioned to the province, not 400,000
	assert.Equal(t, "19800000", national[0].Quantity.String())
	assert.Equal(t, "200000", national[0].Allocated.String())

	rec = ts.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/stock", nil)
	assert.Empty(t, decode[[]NodeDTO](t, rec))
}

func TestLoadScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "monsoon-2099"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
