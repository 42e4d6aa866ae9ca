/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

QUANTITIES:
  Quantities are decimal.Decimal and serialize as JSON strings ("1500000").
  Requests accept either a string or a number.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/relief-engine/predictor"
	"github.com/warp/relief-engine/reasoning"
	"github.com/warp/relief-engine/stock"
	"github.com/warp/relief-engine/suggestion"
)

// =============================================================================
// SUGGESTIONS
// =============================================================================

// GenerateRequest carries either a finished prediction or raw readings for
// the predictor. Exactly one must be set.
type GenerateRequest struct {
	ProvinceID string                `json:"province_id"`
	Prediction *reasoning.Prediction `json:"prediction,omitempty"`
	Readings   *predictor.Readings   `json:"readings,omitempty"`
}

type GenerateResponse struct {
	Prediction  reasoning.Prediction `json:"prediction"`
	Suggestions []SuggestionDTO      `json:"suggestions"`
}

type SuggestionDTO struct {
	ID              string               `json:"id"`
	ResourceType    string               `json:"resource_type"`
	ProvinceID      string               `json:"province_id"`
	Quantity        decimal.Decimal      `json:"quantity"`
	Reasoning       string               `json:"reasoning"`
	MatchedRules    []string             `json:"matched_rules"`
	Confidence      float64              `json:"confidence"`
	Prediction      reasoning.Prediction `json:"prediction"`
	Flags           []string             `json:"flags"`
	Status          string               `json:"status"`
	ExecutionStatus string               `json:"execution_status,omitempty"`
	ExecutionError  string               `json:"execution_error,omitempty"`
	AllocationID    string               `json:"allocation_id,omitempty"`
	CreatedBy       string               `json:"created_by,omitempty"`
	DecidedBy       string               `json:"decided_by,omitempty"`
	DecidedAt       *time.Time           `json:"decided_at,omitempty"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// ApproveResponse is returned for a successful approval.
type ApproveResponse struct {
	Suggestion SuggestionDTO  `json:"suggestion"`
	Allocation *AllocationDTO `json:"allocation,omitempty"`
}

// ExecutionFailedResponse is returned when the approval was recorded but the
// transfer could not be made.
type ExecutionFailedResponse struct {
	ErrorResponse
	Suggestion SuggestionDTO `json:"suggestion"`
}

type StatsDTO struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	ApprovalRate float64 `json:"approval_rate"`
}

type ReconcileResponse struct {
	Changed int `json:"changed"`
}

// =============================================================================
// STOCK
// =============================================================================

// TransferRequestDTO moves stock one tier down from the node named by the
// route to DestinationID.
type TransferRequestDTO struct {
	ResourceType   string          `json:"resource_type"`
	DestinationID  string          `json:"destination_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Note           string          `json:"note,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// IntakeRequestDTO records stock received from outside the hierarchy.
// Tier defaults to national.
type IntakeRequestDTO struct {
	ResourceType   string          `json:"resource_type"`
	Tier           string          `json:"tier,omitempty"`
	OwnerID        string          `json:"owner_id,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	Note           string          `json:"note,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type NodeDTO struct {
	ID           string          `json:"id"`
	ResourceType string          `json:"resource_type"`
	Tier         string          `json:"tier"`
	OwnerID      string          `json:"owner_id,omitempty"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Icon         string          `json:"icon,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Allocated    decimal.Decimal `json:"allocated"`
	Available    decimal.Decimal `json:"available"`
	Status       string          `json:"status"`
	SupplyLevel  *int            `json:"supply_level,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type AllocationDTO struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	ResourceType   string          `json:"resource_type"`
	Source         string          `json:"source,omitempty"`
	Destination    string          `json:"destination"`
	Quantity       decimal.Decimal `json:"quantity"`
	Note           string          `json:"note,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// =============================================================================
// SCENARIOS / COMMON
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSuggestionDTO(s suggestion.Suggestion) SuggestionDTO {
	flags := make([]string, len(s.Flags))
	for i, f := range s.Flags {
		flags[i] = string(f)
	}
	rules := s.MatchedRules
	if rules == nil {
		rules = []string{}
	}
	return SuggestionDTO{
		ID:              s.ID,
		ResourceType:    string(s.Resource),
		ProvinceID:      s.ProvinceID,
		Quantity:        s.Quantity,
		Reasoning:       s.Reasoning,
		MatchedRules:    rules,
		Confidence:      s.Confidence,
		Prediction:      s.Prediction,
		Flags:           flags,
		Status:          string(s.Status),
		ExecutionStatus: string(s.ExecutionStatus),
		ExecutionError:  s.ExecutionError,
		AllocationID:    s.AllocationID,
		CreatedBy:       s.CreatedBy,
		DecidedBy:       s.DecidedBy,
		DecidedAt:       s.DecidedAt,
		RejectionReason: s.RejectionReason,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func toSuggestionDTOs(items []suggestion.Suggestion) []SuggestionDTO {
	out := make([]SuggestionDTO, len(items))
	for i, s := range items {
		out[i] = toSuggestionDTO(s)
	}
	return out
}

func toNodeDTO(n stock.Node) NodeDTO {
	dto := NodeDTO{
		ID:           n.ID,
		ResourceType: string(n.Resource),
		Tier:         string(n.Key.Tier),
		OwnerID:      n.Key.OwnerID,
		Name:         n.Name,
		Unit:         n.Unit,
		Icon:         n.Icon,
		Quantity:     n.Quantity,
		Allocated:    n.Allocated,
		Available:    n.Available(),
		Status:       string(n.Status),
		UpdatedAt:    n.UpdatedAt,
	}
	if n.Key.Tier == stock.TierShelter {
		level := n.SupplyLevel
		dto.SupplyLevel = &level
	}
	return dto
}

func toAllocationDTO(r stock.AllocationRecord) AllocationDTO {
	dto := AllocationDTO{
		ID:             r.ID,
		Kind:           string(r.Kind),
		ResourceType:   string(r.Resource),
		Destination:    r.Destination.String(),
		Quantity:       r.Quantity,
		Note:           r.Note,
		ActorID:        r.ActorID,
		ReferenceID:    r.ReferenceID,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
	if r.Source != nil {
		dto.Source = r.Source.String()
	}
	return dto
}
