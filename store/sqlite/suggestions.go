package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/relief-engine/reasoning"
	"github.com/warp/relief-engine/stock"
	"github.com/warp/relief-engine/suggestion"
)

// =============================================================================
// SUGGESTION STORE (suggestion.Store interface)
// =============================================================================

const suggestionColumns = `id, resource_type, province_id, quantity, reasoning,
	matched_rules_json, confidence, prediction_json, flags_json, status,
	execution_status, execution_error, allocation_id, created_by, decided_by,
	decided_at, rejection_reason, created_at, updated_at`

// CreateSuggestions inserts a batch atomically.
func (s *Store) CreateSuggestions(ctx context.Context, items []suggestion.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, item := range items {
		if err := insertSuggestion(ctx, sqlTx, item); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func insertSuggestion(ctx context.Context, q querier, item suggestion.Suggestion) error {
	rules, _ := json.Marshal(item.MatchedRules)
	prediction, _ := json.Marshal(item.Prediction)
	flags, err := marshalFlags(item.Flags)
	if err != nil {
		return err
	}

	var decidedAt sql.NullString
	if item.DecidedAt != nil {
		decidedAt = sql.NullString{String: formatTime(*item.DecidedAt), Valid: true}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO suggestions (`+suggestionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Resource), item.ProvinceID, item.Quantity.String(), item.Reasoning,
		string(rules), item.Confidence, string(prediction), flags, string(item.Status),
		string(item.ExecutionStatus), item.ExecutionError, item.AllocationID, item.CreatedBy,
		item.DecidedBy, decidedAt, item.RejectionReason,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert suggestion: %w", err)
	}
	return nil
}

// GetSuggestion returns nil if the id is unknown.
func (s *Store) GetSuggestion(ctx context.Context, id string) (*suggestion.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+suggestionColumns+" FROM suggestions WHERE id = ?", id)
	item, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListSuggestions returns matches newest first.
func (s *Store) ListSuggestions(ctx context.Context, filter suggestion.Filter) ([]suggestion.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ProvinceID != "" {
		where = append(where, "province_id = ?")
		args = append(args, filter.ProvinceID)
	}
	if filter.Resource != "" {
		where = append(where, "resource_type = ?")
		args = append(args, string(filter.Resource))
	}

	query := "SELECT " + suggestionColumns + " FROM suggestions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []suggestion.Suggestion
	for rows.Next() {
		item, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// TransitionSuggestion applies t only while the row is still pending.
func (s *Store) TransitionSuggestion(ctx context.Context, t suggestion.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE suggestions
		SET status = ?, decided_by = ?, decided_at = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(t.To), t.ActorID, formatTime(t.At), t.RejectionReason, formatTime(t.At), t.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition suggestion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// UpdateExecution writes execution status for an approved suggestion.
func (s *Store) UpdateExecution(ctx context.Context, e suggestion.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE suggestions
		SET execution_status = ?, execution_error = ?, allocation_id = ?, updated_at = ?
		WHERE id = ? AND status = 'approved'`,
		string(e.Status), e.Error, e.AllocationID, formatTime(e.At), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s is not approved", suggestion.ErrSuggestionProcessed, e.ID)
	}
	return nil
}

// UpdateFlags replaces the flags of a pending suggestion.
func (s *Store) UpdateFlags(ctx context.Context, id string, flags []reasoning.Flag) (bool, error) {
	encoded, err := marshalFlags(flags)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE suggestions SET flags_json = ? WHERE id = ? AND status = 'pending'",
		encoded, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update flags: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SuggestionStats counts suggestions per status. ApprovalRate is left to the
// caller.
func (s *Store) SuggestionStats(ctx context.Context) (suggestion.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM suggestions GROUP BY status")
	if err != nil {
		return suggestion.Stats{}, err
	}
	defer rows.Close()

	var st suggestion.Stats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return suggestion.Stats{}, err
		}
		st.Total += count
		switch suggestion.Status(status) {
		case suggestion.StatusPending:
			st.Pending = count
		case suggestion.StatusApproved:
			st.Approved = count
		case suggestion.StatusRejected:
			st.Rejected = count
		}
	}
	return st, rows.Err()
}

// =============================================================================
// ROW MAPPING
// =============================================================================

func marshalFlags(flags []reasoning.Flag) (string, error) {
	if flags == nil {
		flags = []reasoning.Flag{}
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return "", fmt.Errorf("failed to encode flags: %w", err)
	}
	return string(b), nil
}

func scanSuggestion(r rowScanner) (suggestion.Suggestion, error) {
	var (
		item                     suggestion.Suggestion
		resource, quantity       string
		rules, prediction, flags string
		status, execStatus       string
		decidedAt                sql.NullString
		createdAt, updatedAt     string
	)
	err := r.Scan(&item.ID, &resource, &item.ProvinceID, &quantity, &item.Reasoning,
		&rules, &item.Confidence, &prediction, &flags, &status,
		&execStatus, &item.ExecutionError, &item.AllocationID, &item.CreatedBy, &item.DecidedBy,
		&decidedAt, &item.RejectionReason, &createdAt, &updatedAt)
	if err != nil {
		return item, err
	}

	item.Resource = stock.ResourceType(resource)
	item.Status = suggestion.Status(status)
	item.ExecutionStatus = suggestion.ExecutionStatus(execStatus)
	if item.Quantity, err = parseDecimal(quantity); err != nil {
		return item, err
	}
	if err := json.Unmarshal([]byte(rules), &item.MatchedRules); err != nil {
		return item, fmt.Errorf("corrupt matched rules for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(prediction), &item.Prediction); err != nil {
		return item, fmt.Errorf("corrupt prediction for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(flags), &item.Flags); err != nil {
		return item, fmt.Errorf("corrupt flags for %s: %w", item.ID, err)
	}
	if decidedAt.Valid {
		t, err := parseTime(decidedAt.String)
		if err != nil {
			return item, err
		}
		item.DecidedAt = &t
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return item, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return item, err
	}
	return item, nil
}
