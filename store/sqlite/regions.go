package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/relief-engine/reasoning"
)

// =============================================================================
// GEOGRAPHY (reasoning.Geography interface plus writes for scenarios)
// =============================================================================

// SaveProvince creates or updates a province.
func (s *Store) SaveProvince(ctx context.Context, p reasoning.Province) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provinces (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		p.ID, p.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to save province: %w", err)
	}
	return nil
}

// GetProvince returns nil if the province does not exist.
func (s *Store) GetProvince(ctx context.Context, id string) (*reasoning.Province, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p reasoning.Province
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM provinces WHERE id = ?", id).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProvinces(ctx context.Context) ([]reasoning.Province, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM provinces ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reasoning.Province
	for rows.Next() {
		var p reasoning.Province
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// SaveDistrict creates or updates a district. The province must exist.
func (s *Store) SaveDistrict(ctx context.Context, d reasoning.District) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO districts (id, province_id, name, population) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			province_id = excluded.province_id,
			name = excluded.name,
			population = excluded.population`,
		d.ID, d.ProvinceID, d.Name, d.Population,
	)
	if err != nil {
		return fmt.Errorf("failed to save district: %w", err)
	}
	return nil
}

func (s *Store) ListDistricts(ctx context.Context, provinceID string) ([]reasoning.District, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, province_id, name, population FROM districts WHERE province_id = ? ORDER BY name",
		provinceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reasoning.District
	for rows.Next() {
		var d reasoning.District
		if err := rows.Scan(&d.ID, &d.ProvinceID, &d.Name, &d.Population); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// SaveShelter creates or updates a shelter. The district must exist.
func (s *Store) SaveShelter(ctx context.Context, sh reasoning.Shelter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shelters (id, district_id, name, capacity) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			district_id = excluded.district_id,
			name = excluded.name,
			capacity = excluded.capacity`,
		sh.ID, sh.DistrictID, sh.Name, sh.Capacity,
	)
	if err != nil {
		return fmt.Errorf("failed to save shelter: %w", err)
	}
	return nil
}

func (s *Store) ListShelters(ctx context.Context, districtID string) ([]reasoning.Shelter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, district_id, name, capacity FROM shelters WHERE district_id = ? ORDER BY name",
		districtID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reasoning.Shelter
	for rows.Next() {
		var sh reasoning.Shelter
		if err := rows.Scan(&sh.ID, &sh.DistrictID, &sh.Name, &sh.Capacity); err != nil {
			return nil, err
		}
		result = append(result, sh)
	}
	return result, rows.Err()
}

// SaveFloodEvent records a historical flood.
func (s *Store) SaveFloodEvent(ctx context.Context, ev reasoning.FloodEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flood_events (id, province_id, occurred_at, severity) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			occurred_at = excluded.occurred_at,
			severity = excluded.severity`,
		ev.ID, ev.ProvinceID, formatTime(ev.OccurredAt), ev.Severity,
	)
	if err != nil {
		return fmt.Errorf("failed to save flood event: %w", err)
	}
	return nil
}

// ListFloodEvents returns events at or after since, newest first.
func (s *Store) ListFloodEvents(ctx context.Context, provinceID string, since time.Time) ([]reasoning.FloodEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, province_id, occurred_at, severity FROM flood_events
		WHERE province_id = ? AND occurred_at >= ?
		ORDER BY occurred_at DESC`,
		provinceID, formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reasoning.FloodEvent
	for rows.Next() {
		var (
			ev         reasoning.FloodEvent
			occurredAt string
		)
		if err := rows.Scan(&ev.ID, &ev.ProvinceID, &occurredAt, &ev.Severity); err != nil {
			return nil, err
		}
		if ev.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}
