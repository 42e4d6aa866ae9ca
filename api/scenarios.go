/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  geography, flood history and national stock so the suggestion workflow
  can be exercised end to end.

AVAILABLE SCENARIOS:
  flood-season:    Two provinces, a recent flood in one, well-stocked national
                   reserve, some stock already pushed down to shelters
  stock-shortage:  Same geography with a thin national reserve, so most
                   suggestions are flagged INSUFFICIENT_STOCK

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save provinces, districts, shelters and flood events
 3. Receive national stock through the ledger
 4. Optionally transfer stock down the hierarchy

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "flood-season"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Stock and suggestion handlers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/relief-engine/reasoning"
	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	nationalStock map[stock.ResourceType]int64
	load          func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "flood-season",
			Name:        "Flood Season",
			Description: "Two provinces, recent flood in Quang Nam, well-stocked national reserve",
		},
		nationalStock: map[stock.ResourceType]int64{
			stock.ResourceWater:   20_000_000,
			stock.ResourceFood:    10_000_000,
			stock.ResourceMedical: 50_000,
			stock.ResourceShelter: 100_000,
		},
		load: loadFloodSeason,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "stock-shortage",
			Name:        "Stock Shortage",
			Description: "Same geography with a thin national reserve",
		},
		nationalStock: map[stock.ResourceType]int64{
			stock.ResourceWater:   500_000,
			stock.ResourceFood:    200_000,
			stock.ResourceMedical: 1_000,
			stock.ResourceShelter: 5_000,
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := h.loadScenario(ctx, s); err != nil {
		h.log.Error("scenario load failed", zap.String("scenario", s.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario %s", s.ID), err)
		return
	}
	h.currentScenario = s.ID
	h.log.Info("scenario loaded", zap.String("scenario", s.ID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	if err := h.saveGeography(ctx); err != nil {
		return err
	}
	for _, r := range h.Ledger.Catalog().Resources() {
		qty, ok := s.nationalStock[r]
		if !ok {
			continue
		}
		if _, err := h.Ledger.Receive(ctx, stock.IntakeRequest{
			Resource:       r,
			Destination:    stock.NationalKey(),
			Quantity:       decimal.NewFromInt(qty),
			Note:           "scenario " + s.ID,
			ActorID:        defaultActor,
			IdempotencyKey: fmt.Sprintf("scenario:%s:intake:%s", s.ID, r),
		}); err != nil {
			return fmt.Errorf("receive %s: %w", r, err)
		}
	}
	if s.load != nil {
		return s.load(ctx, h)
	}
	return nil
}

// saveGeography writes the provinces shared by every scenario.
// Quang Nam: 260,000 people, flooded 10 months ago.
// Thua Thien Hue: 180,000 people, last flood outside the look-back window.
func (h *Handler) saveGeography(ctx context.Context) error {
	now := time.Now().UTC()

	provinces := []reasoning.Province{
		{ID: "quang-nam", Name: "Quang Nam"},
		{ID: "thua-thien-hue", Name: "Thua Thien Hue"},
	}
	districts := []reasoning.District{
		{ID: "hoi-an", ProvinceID: "quang-nam", Name: "Hoi An", Population: 120_000},
		{ID: "tam-ky", ProvinceID: "quang-nam", Name: "Tam Ky", Population: 140_000},
		{ID: "hue-city", ProvinceID: "thua-thien-hue", Name: "Hue City", Population: 150_000},
		{ID: "phong-dien", ProvinceID: "thua-thien-hue", Name: "Phong Dien", Population: 30_000},
	}
	shelters := []reasoning.Shelter{
		{ID: "hoi-an-school", DistrictID: "hoi-an", Name: "Hoi An Primary School", Capacity: 800},
		{ID: "tam-ky-stadium", DistrictID: "tam-ky", Name: "Tam Ky Stadium", Capacity: 2_500},
		{ID: "hue-pagoda", DistrictID: "hue-city", Name: "Thien Mu Hall", Capacity: 600},
	}
	floods := []reasoning.FloodEvent{
		{ID: "qn-flood-recent", ProvinceID: "quang-nam", OccurredAt: now.AddDate(0, -10, 0), Severity: "severe"},
		{ID: "tth-flood-old", ProvinceID: "thua-thien-hue", OccurredAt: now.AddDate(-5, 0, 0), Severity: "moderate"},
	}

	for _, p := range provinces {
		if err := h.Store.SaveProvince(ctx, p); err != nil {
			return fmt.Errorf("save province %s: %w", p.ID, err)
		}
	}
	for _, d := range districts {
		if err := h.Store.SaveDistrict(ctx, d); err != nil {
			return fmt.Errorf("save district %s: %w", d.ID, err)
		}
	}
	for _, s := range shelters {
		if err := h.Store.SaveShelter(ctx, s); err != nil {
			return fmt.Errorf("save shelter %s: %w", s.ID, err)
		}
	}
	for _, f := range floods {
		if err := h.Store.SaveFloodEvent(ctx, f); err != nil {
			return fmt.Errorf("save flood %s: %w", f.ID, err)
		}
	}
	return nil
}

// loadFloodSeason pushes water down to the Hoi An school so every tier holds
// stock.
func loadFloodSeason(ctx context.Context, h *Handler) error {
	chain := []stock.TransferRequest{
		{Source: stock.NationalKey(), Destination: stock.ProvinceKey("quang-nam"), Quantity: decimal.NewFromInt(200_000)},
		{Source: stock.ProvinceKey("quang-nam"), Destination: stock.DistrictKey("hoi-an"), Quantity: decimal.NewFromInt(50_000)},
		{Source: stock.DistrictKey("hoi-an"), Destination: stock.ShelterKey("hoi-an-school"), Quantity: decimal.NewFromInt(5_000)},
	}
	for i, req := range chain {
		req.Resource = stock.ResourceWater
		req.Note = "pre-positioned before flood season"
		req.ActorID = defaultActor
		req.IdempotencyKey = fmt.Sprintf("scenario:flood-season:transfer:%d", i)
		if _, err := h.Ledger.Transfer(ctx, req); err != nil {
			return fmt.Errorf("pre-position %s: %w", req.Destination, err)
		}
	}
	return nil
}
