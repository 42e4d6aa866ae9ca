package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/relief-engine/reasoning"
)

func TestParseTime(t *testing.T) {
	at := time.Date(2025, time.September, 1, 6, 30, 0, 123, time.UTC)

	got, err := parseTime(formatTime(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	_, err = parseTime("yesterday")
	assert.ErrorContains(t, err, "corrupt timestamp")
}

func TestStore_CorruptTimestampIsAnError(t *testing.T) {
	// GIVEN: A flood event whose stored timestamp was mangled outside the store
	// WHEN: Listing flood events
	// THEN: The read fails instead of returning a zero time

	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.SaveProvince(ctx, reasoning.Province{ID: "p1", Name: "Quang Nam"}))
	require.NoError(t, store.SaveFloodEvent(ctx, reasoning.FloodEvent{
		ID: "f1", ProvinceID: "p1", OccurredAt: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	}))
	_, err = store.db.ExecContext(ctx, `UPDATE flood_events SET occurred_at = '2025-08-01 garbage' WHERE id = 'f1'`)
	require.NoError(t, err)

	_, err = store.ListFloodEvents(ctx, "p1", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorContains(t, err, "corrupt timestamp")
}
