/*
handlers.go - HTTP API handlers for the relief allocation engine

PURPOSE:
  Exposes suggestion generation, the approval workflow, and the stock
  hierarchy via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the domain packages.

ENDPOINTS:
  Suggestions:
    POST   /api/suggestions/generate        Prediction or readings → suggestions
    GET    /api/suggestions                 List (?status=&province_id=&resource_type=)
    GET    /api/suggestions/stats           Decision counts and approval rate
    POST   /api/suggestions/reconcile       Recompute INSUFFICIENT_STOCK flags
    GET    /api/suggestions/{id}            Get one
    POST   /api/suggestions/{id}/approve    Approve and execute the transfer
    POST   /api/suggestions/{id}/reject     Reject with a reason

  Stock:
    POST   /api/national/allocations        National → province
    POST   /api/provinces/{id}/allocations  Province → district
    POST   /api/districts/{id}/allocations  District → shelter
    POST   /api/stock/intake                Record incoming stock
    GET    /api/stock                       List nodes (?tier=&owner_id=&resource_type=)
    GET    /api/allocations                 History (?resource_type=&reference_id=&limit=)

ACTOR:
  The acting user comes from the X-Actor-ID header. Authentication happens
  in front of this service; a missing header acts as "system".

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient stock
  - 404: Suggestion, province or stock node not found
  - 409: Suggestion already decided, concurrent modification
  - 502: Approval recorded but the transfer failed for another reason
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/relief-engine/predictor"
	"github.com/warp/relief-engine/stock"
	"github.com/warp/relief-engine/store/sqlite"
	"github.com/warp/relief-engine/suggestion"
)

// MinRejectionReason is the shortest rejection reason accepted over HTTP.
const MinRejectionReason = 10

// ActorHeader names the acting user.
const ActorHeader = "X-Actor-ID"

const defaultActor = "system"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Ledger      *stock.Ledger
	Suggestions *suggestion.Manager
	Predictor   predictor.Predictor

	log *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. A nil predictor means generation requires a
// finished prediction in the request body.
func NewHandler(store *sqlite.Store, ledger *stock.Ledger, manager *suggestion.Manager, p predictor.Predictor, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:       store,
		Ledger:      ledger,
		Suggestions: manager,
		Predictor:   p,
		log:         log.Named("api"),
	}
}

// =============================================================================
// SUGGESTION HANDLERS
// =============================================================================

// GenerateSuggestions evaluates a prediction for a province.
// POST /api/suggestions/generate
func (h *Handler) GenerateSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ProvinceID == "" {
		writeError(w, http.StatusBadRequest, "province_id is required", nil)
		return
	}
	if (req.Prediction == nil) == (req.Readings == nil) {
		writeError(w, http.StatusBadRequest, "Provide exactly one of prediction or readings", nil)
		return
	}

	prediction := req.Prediction
	if req.Readings != nil {
		if h.Predictor == nil {
			writeError(w, http.StatusBadRequest, "No predictor configured, send a prediction", nil)
			return
		}
		readings := *req.Readings
		readings.ProvinceID = req.ProvinceID
		p, err := h.Predictor.Predict(ctx, readings)
		if err != nil {
			h.respondError(w, "Prediction failed", err)
			return
		}
		prediction = &p
	}

	normalized, err := prediction.Normalized()
	if err != nil {
		h.respondError(w, "Invalid prediction", err)
		return
	}

	items, err := h.Suggestions.ProcessPrediction(ctx, normalized, req.ProvinceID, actorID(r))
	if err != nil {
		h.respondError(w, "Failed to generate suggestions", err)
		return
	}

	writeJSON(w, http.StatusCreated, GenerateResponse{
		Prediction:  normalized,
		Suggestions: toSuggestionDTOs(items),
	})
}

// ListSuggestions returns suggestions, newest first.
// GET /api/suggestions
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := suggestion.Filter{
		ProvinceID: q.Get("province_id"),
		Resource:   stock.ResourceType(strings.ToLower(q.Get("resource_type"))),
	}
	if s := q.Get("status"); s != "" {
		status := suggestion.Status(strings.ToLower(s))
		switch status {
		case suggestion.StatusPending, suggestion.StatusApproved, suggestion.StatusRejected:
			filter.Status = status
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid status %q", s), nil)
			return
		}
	}

	items, err := h.Suggestions.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "Failed to list suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionDTOs(items))
}

// GetSuggestion returns one suggestion.
// GET /api/suggestions/{id}
func (h *Handler) GetSuggestion(w http.ResponseWriter, r *http.Request) {
	s, err := h.Suggestions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "Failed to get suggestion", err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionDTO(*s))
}

// ApproveSuggestion approves a pending suggestion and executes it.
// POST /api/suggestions/{id}/approve
func (h *Handler) ApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	s, rec, err := h.Suggestions.Approve(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		if s != nil && suggestion.IsExecutionFailure(err) {
			writeJSON(w, statusFor(err), ExecutionFailedResponse{
				ErrorResponse: ErrorResponse{Error: "Approved but transfer failed", Details: err.Error()},
				Suggestion:    toSuggestionDTO(*s),
			})
			return
		}
		h.respondError(w, "Failed to approve suggestion", err)
		return
	}

	resp := ApproveResponse{Suggestion: toSuggestionDTO(*s)}
	if rec != nil {
		dto := toAllocationDTO(*rec)
		resp.Allocation = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// RejectSuggestion rejects a pending suggestion.
// POST /api/suggestions/{id}/reject
func (h *Handler) RejectSuggestion(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if len([]rune(reason)) < MinRejectionReason {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Rejection reason must be at least %d characters", MinRejectionReason), nil)
		return
	}

	s, err := h.Suggestions.Reject(r.Context(), chi.URLParam(r, "id"), actorID(r), reason)
	if err != nil {
		h.respondError(w, "Failed to reject suggestion", err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionDTO(*s))
}

// GetSuggestionStats returns decision counts.
// GET /api/suggestions/stats
func (h *Handler) GetSuggestionStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Suggestions.Stats(r.Context())
	if err != nil {
		h.respondError(w, "Failed to get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		Total:        st.Total,
		Pending:      st.Pending,
		Approved:     st.Approved,
		Rejected:     st.Rejected,
		ApprovalRate: st.ApprovalRate,
	})
}

// ReconcileFlags runs a flag reconciliation pass on demand.
// POST /api/suggestions/reconcile
func (h *Handler) ReconcileFlags(w http.ResponseWriter, r *http.Request) {
	changed, err := h.Suggestions.ReconcileFlags(r.Context())
	if err != nil {
		h.respondError(w, "Failed to reconcile flags", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileResponse{Changed: changed})
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// AllocateFromNational moves stock national → province.
// POST /api/national/allocations
func (h *Handler) AllocateFromNational(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, stock.NationalKey(), stock.TierProvince)
}

// AllocateFromProvince moves stock province → district.
// POST /api/provinces/{id}/allocations
func (h *Handler) AllocateFromProvince(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, stock.ProvinceKey(chi.URLParam(r, "id")), stock.TierDistrict)
}

// AllocateFromDistrict moves stock district → shelter.
// POST /api/districts/{id}/allocations
func (h *Handler) AllocateFromDistrict(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, stock.DistrictKey(chi.URLParam(r, "id")), stock.TierShelter)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request, source stock.NodeKey, destTier stock.Tier) {
	var req TransferRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ResourceType == "" || req.DestinationID == "" {
		writeError(w, http.StatusBadRequest, "resource_type and destination_id are required", nil)
		return
	}

	rec, err := h.Ledger.Transfer(r.Context(), stock.TransferRequest{
		Resource:       stock.ResourceType(strings.ToLower(req.ResourceType)),
		Source:         source,
		Destination:    stock.NodeKey{Tier: destTier, OwnerID: req.DestinationID},
		Quantity:       req.Quantity,
		Note:           req.Note,
		ActorID:        actorID(r),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, "Transfer failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(*rec))
}

// ReceiveStock records stock entering the hierarchy.
// POST /api/stock/intake
func (h *Handler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ResourceType == "" {
		writeError(w, http.StatusBadRequest, "resource_type is required", nil)
		return
	}

	key := stock.NationalKey()
	if req.Tier != "" {
		tier, err := stock.ParseTier(strings.ToLower(req.Tier))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid tier", err)
			return
		}
		key = stock.NodeKey{Tier: tier, OwnerID: req.OwnerID}
	}

	rec, err := h.Ledger.Receive(r.Context(), stock.IntakeRequest{
		Resource:       stock.ResourceType(strings.ToLower(req.ResourceType)),
		Destination:    key,
		Quantity:       req.Quantity,
		Note:           req.Note,
		ActorID:        actorID(r),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, "Intake failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(*rec))
}

// ListStock returns stock nodes ordered by tier.
// GET /api/stock
func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stock.NodeFilter{
		Resource: stock.ResourceType(strings.ToLower(q.Get("resource_type"))),
		OwnerID:  q.Get("owner_id"),
	}
	if t := q.Get("tier"); t != "" {
		tier, err := stock.ParseTier(strings.ToLower(t))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid tier", err)
			return
		}
		filter.Tier = tier
	}

	nodes, err := h.Ledger.Nodes(r.Context(), filter)
	if err != nil {
		h.respondError(w, "Failed to list stock", err)
		return
	}
	dtos := make([]NodeDTO, len(nodes))
	for i, n := range nodes {
		dtos[i] = toNodeDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAllocations returns allocation history, newest first.
// GET /api/allocations
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stock.AllocationFilter{
		Resource:    stock.ResourceType(strings.ToLower(q.Get("resource_type"))),
		ReferenceID: q.Get("reference_id"),
		Limit:       100,
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		filter.Limit = n
	}

	records, err := h.Ledger.Allocations(r.Context(), filter)
	if err != nil {
		h.respondError(w, "Failed to list allocations", err)
		return
	}
	dtos := make([]AllocationDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAllocationDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health pings the database.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func actorID(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return a
	}
	return defaultActor
}

// statusFor maps domain errors to HTTP status. The cause of an execution
// failure is classified first so that e.g. insufficient stock stays a 400.
func statusFor(err error) int {
	switch {
	case suggestion.IsNotFound(err):
		return http.StatusNotFound
	case suggestion.IsClientError(err):
		return http.StatusBadRequest
	case suggestion.IsConflict(err):
		return http.StatusConflict
	case suggestion.IsExecutionFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
