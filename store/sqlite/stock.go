package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// STOCK READS (stock.Reader interface)
// =============================================================================

const nodeColumns = `id, resource_type, tier, owner_id, name, unit, icon,
	quantity, allocated, status, supply_level, version, created_at, updated_at`

// tierOrder sorts nodes national → shelter.
const tierOrder = `CASE tier WHEN 'national' THEN 0 WHEN 'province' THEN 1
	WHEN 'district' THEN 2 WHEN 'shelter' THEN 3 ELSE 4 END`

// GetNode returns the node for (resource, key), or nil if none exists.
func (s *Store) GetNode(ctx context.Context, resource stock.ResourceType, key stock.NodeKey) (*stock.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getNode(ctx, s.db, resource, key)
}

// ListNodes returns nodes ordered by tier, owner, resource.
func (s *Store) ListNodes(ctx context.Context, filter stock.NodeFilter) ([]stock.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Resource != "" {
		where = append(where, "resource_type = ?")
		args = append(args, string(filter.Resource))
	}
	if filter.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, string(filter.Tier))
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}

	query := "SELECT " + nodeColumns + " FROM stock_nodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + tierOrder + ", owner_id, resource_type"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stock.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// ListAllocations returns records newest first.
func (s *Store) ListAllocations(ctx context.Context, filter stock.AllocationFilter) ([]stock.AllocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Resource != "" {
		where = append(where, "resource_type = ?")
		args = append(args, string(filter.Resource))
	}
	if filter.ReferenceID != "" {
		where = append(where, "reference_id = ?")
		args = append(args, filter.ReferenceID)
	}
	if filter.Destination != nil {
		where = append(where, "destination_tier = ? AND destination_owner_id = ?")
		args = append(args, string(filter.Destination.Tier), filter.Destination.OwnerID)
	}

	query := `SELECT id, kind, resource_type, source_tier, source_owner_id,
		destination_tier, destination_owner_id, quantity, note, actor_id,
		reference_id, idempotency_key, created_at FROM allocations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stock.AllocationRecord
	for rows.Next() {
		rec, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (stock.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// Everything fn does must go through the stock.Tx it receives.
func (s *Store) WithTx(ctx context.Context, fn func(tx stock.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetNode(ctx context.Context, resource stock.ResourceType, key stock.NodeKey) (*stock.Node, error) {
	return getNode(ctx, ts.tx, resource, key)
}

func (ts *txStore) InsertNode(ctx context.Context, n stock.Node) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO stock_nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Resource), string(n.Key.Tier), n.Key.OwnerID,
		n.Name, n.Unit, n.Icon,
		n.Quantity.String(), n.Allocated.String(), string(n.Status), n.SupplyLevel,
		n.Version, formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return stock.ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateNode(ctx context.Context, n stock.Node) error {
	result, err := ts.tx.ExecContext(ctx, `
		UPDATE stock_nodes
		SET quantity = ?, allocated = ?, status = ?, supply_level = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		n.Quantity.String(), n.Allocated.String(), string(n.Status), n.SupplyLevel,
		formatTime(n.UpdatedAt), n.ID, n.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return stock.ErrConcurrentModification
	}
	return nil
}

func (ts *txStore) AppendAllocation(ctx context.Context, rec stock.AllocationRecord) error {
	var srcTier, srcOwner sql.NullString
	if rec.Source != nil {
		srcTier = sql.NullString{String: string(rec.Source.Tier), Valid: true}
		srcOwner = sql.NullString{String: rec.Source.OwnerID, Valid: true}
	}

	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO allocations
		(id, kind, resource_type, source_tier, source_owner_id, destination_tier,
		 destination_owner_id, quantity, note, actor_id, reference_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), string(rec.Resource), srcTier, srcOwner,
		string(rec.Destination.Tier), rec.Destination.OwnerID, rec.Quantity.String(),
		rec.Note, rec.ActorID, nullString(rec.ReferenceID), nullString(rec.IdempotencyKey),
		formatTime(rec.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return stock.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append allocation: %w", err)
	}
	return nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func getNode(ctx context.Context, q querier, resource stock.ResourceType, key stock.NodeKey) (*stock.Node, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM stock_nodes WHERE resource_type = ? AND tier = ? AND owner_id = ?",
		string(resource), string(key.Tier), key.OwnerID,
	)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func scanNode(r rowScanner) (stock.Node, error) {
	var (
		n                   stock.Node
		resource, tier      string
		quantity, allocated string
		status              string
		createdAt, updated  string
	)
	err := r.Scan(&n.ID, &resource, &tier, &n.Key.OwnerID, &n.Name, &n.Unit, &n.Icon,
		&quantity, &allocated, &status, &n.SupplyLevel, &n.Version, &createdAt, &updated)
	if err != nil {
		return n, err
	}

	n.Resource = stock.ResourceType(resource)
	n.Key.Tier = stock.Tier(tier)
	n.Status = stock.Status(status)
	if n.Quantity, err = parseDecimal(quantity); err != nil {
		return n, err
	}
	if n.Allocated, err = parseDecimal(allocated); err != nil {
		return n, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return n, err
	}
	if n.UpdatedAt, err = parseTime(updated); err != nil {
		return n, err
	}
	return n, nil
}

func scanAllocation(r rowScanner) (stock.AllocationRecord, error) {
	var (
		rec                       stock.AllocationRecord
		kind, resource            string
		srcTier, srcOwner         sql.NullString
		dstTier                   string
		quantity                  string
		note, actor, ref, idemKey sql.NullString
		createdAt                 string
	)
	err := r.Scan(&rec.ID, &kind, &resource, &srcTier, &srcOwner, &dstTier,
		&rec.Destination.OwnerID, &quantity, &note, &actor, &ref, &idemKey, &createdAt)
	if err != nil {
		return rec, fmt.Errorf("failed to scan allocation: %w", err)
	}

	rec.Kind = stock.RecordKind(kind)
	rec.Resource = stock.ResourceType(resource)
	rec.Destination.Tier = stock.Tier(dstTier)
	if srcTier.Valid {
		rec.Source = &stock.NodeKey{Tier: stock.Tier(srcTier.String), OwnerID: srcOwner.String}
	}
	if rec.Quantity, err = parseDecimal(quantity); err != nil {
		return rec, err
	}
	rec.Note = note.String
	rec.ActorID = actor.String
	rec.ReferenceID = ref.String
	rec.IdempotencyKey = idemKey.String
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return rec, err
	}
	return rec, nil
}
