package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/relief-engine/reasoning"
	"github.com/warp/relief-engine/stock"
	"github.com/warp/relief-engine/store/sqlite"
	"github.com/warp/relief-engine/suggestion"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func receive(t *testing.T, l *stock.Ledger, r stock.ResourceType, qty string) {
	t.Helper()
	_, err := l.Receive(context.Background(), stock.IntakeRequest{
		Resource: r, Destination: stock.NationalKey(), Quantity: d(qty),
	})
	require.NoError(t, err)
}

// =============================================================================
// STOCK
// =============================================================================

func TestStore_LedgerRoundTrip(t *testing.T) {
	// GIVEN: A ledger on SQLite with national food
	// WHEN: Transferring to a province
	// THEN: Both nodes and both records persist with exact decimals

	store := newTestStore(t)
	l := stock.NewLedger(store)
	ctx := context.Background()
	receive(t, l, stock.ResourceFood, "1000.25")

	rec, err := l.Transfer(ctx, stock.TransferRequest{
		Resource:       stock.ResourceFood,
		Source:         stock.NationalKey(),
		Destination:    stock.ProvinceKey("prov-1"),
		Quantity:       d("200.25"),
		ActorID:        "officer-1",
		ReferenceID:    "sugg-1",
		IdempotencyKey: "suggestion:sugg-1",
	})
	require.NoError(t, err)

	nat, err := store.GetNode(ctx, stock.ResourceFood, stock.NationalKey())
	require.NoError(t, err)
	require.NotNil(t, nat)
	assert.True(t, nat.Quantity.Equal(d("800")))
	assert.True(t, nat.Allocated.Equal(d("200.25")))
	assert.Equal(t, "Food Rations", nat.Name)
	assert.Equal(t, int64(3), nat.Version, "created, received, transferred")

	prov, err := store.GetNode(ctx, stock.ResourceFood, stock.ProvinceKey("prov-1"))
	require.NoError(t, err)
	require.NotNil(t, prov)
	assert.True(t, prov.Quantity.Equal(d("200.25")))

	recs, err := store.ListAllocations(ctx, stock.AllocationFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, rec.ID, recs[0].ID, "newest first")
	require.NotNil(t, recs[0].Source)
	assert.Equal(t, stock.NationalKey(), *recs[0].Source)
	assert.Equal(t, "suggestion:sugg-1", recs[0].IdempotencyKey)
	assert.Nil(t, recs[1].Source, "intake has no source")

	limited, err := store.ListAllocations(ctx, stock.AllocationFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_ListNodesOrderedByTier(t *testing.T) {
	store := newTestStore(t)
	l := stock.NewLedger(store)
	ctx := context.Background()
	receive(t, l, stock.ResourceWater, "100")

	_, err := l.Transfer(ctx, stock.TransferRequest{
		Resource: stock.ResourceWater, Source: stock.NationalKey(),
		Destination: stock.ProvinceKey("p1"), Quantity: d("40"),
	})
	require.NoError(t, err)
	_, err = l.Transfer(ctx, stock.TransferRequest{
		Resource: stock.ResourceWater, Source: stock.ProvinceKey("p1"),
		Destination: stock.DistrictKey("d1"), Quantity: d("10"),
	})
	require.NoError(t, err)

	nodes, err := store.ListNodes(ctx, stock.NodeFilter{Resource: stock.ResourceWater})
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, stock.TierNational, nodes[0].Key.Tier)
	assert.Equal(t, stock.TierProvince, nodes[1].Key.Tier)
	assert.Equal(t, stock.TierDistrict, nodes[2].Key.Tier)

	districts, err := store.ListNodes(ctx, stock.NodeFilter{Tier: stock.TierDistrict, OwnerID: "d1"})
	require.NoError(t, err)
	assert.Len(t, districts, 1)
}

func TestStore_FailedTransferRollsBack(t *testing.T) {
	store := newTestStore(t)
	l := stock.NewLedger(store)
	ctx := context.Background()
	receive(t, l, stock.ResourceMedical, "10")

	_, err := l.Transfer(ctx, stock.TransferRequest{
		Resource: stock.ResourceMedical, Source: stock.NationalKey(),
		Destination: stock.ProvinceKey("p1"), Quantity: d("11"),
	})
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)

	prov, err := store.GetNode(ctx, stock.ResourceMedical, stock.ProvinceKey("p1"))
	require.NoError(t, err)
	assert.Nil(t, prov)
}

func TestStore_StaleVersionRejected(t *testing.T) {
	// GIVEN: A node read at version N
	// WHEN: Someone else writes it first, then the stale copy is written
	// THEN: ErrConcurrentModification

	store := newTestStore(t)
	l := stock.NewLedger(store)
	ctx := context.Background()
	receive(t, l, stock.ResourceFood, "100")

	stale, err := store.GetNode(ctx, stock.ResourceFood, stock.NationalKey())
	require.NoError(t, err)

	receive(t, l, stock.ResourceFood, "5")

	err = store.WithTx(ctx, func(tx stock.Tx) error {
		stale.Quantity = d("1")
		return tx.UpdateNode(ctx, *stale)
	})
	assert.ErrorIs(t, err, stock.ErrConcurrentModification)

	current, err := store.GetNode(ctx, stock.ResourceFood, stock.NationalKey())
	require.NoError(t, err)
	assert.True(t, current.Quantity.Equal(d("105")))
}

func TestStore_DuplicateIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := stock.AllocationRecord{
		ID: "r1", Kind: stock.KindIntake, Resource: stock.ResourceFood,
		Destination: stock.NationalKey(), Quantity: d("1"), IdempotencyKey: "k", CreatedAt: time.Now(),
	}
	require.NoError(t, store.WithTx(ctx, func(tx stock.Tx) error { return tx.AppendAllocation(ctx, rec) }))

	rec.ID = "r2"
	err := store.WithTx(ctx, func(tx stock.Tx) error { return tx.AppendAllocation(ctx, rec) })
	assert.ErrorIs(t, err, stock.ErrDuplicateIdempotencyKey)
}

func TestStore_ConcurrentTransfersConserveStock(t *testing.T) {
	// GIVEN: 5,000 liters nationally on SQLite
	// WHEN: 25 goroutines each move 300 liters to different provinces
	// THEN: Σ successes ≤ availability and quantity + Σ moved == 5,000

	store := newTestStore(t)
	l := stock.NewLedger(store)
	ctx := context.Background()
	receive(t, l, stock.ResourceWater, "5000")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		moved = decimal.Zero
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Transfer(ctx, stock.TransferRequest{
				Resource:    stock.ResourceWater,
				Source:      stock.NationalKey(),
				Destination: stock.ProvinceKey([]string{"p1", "p2", "p3"}[i%3]),
				Quantity:    d("300"),
			})
			if err == nil {
				mu.Lock()
				moved = moved.Add(d("300"))
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	nat, err := store.GetNode(ctx, stock.ResourceWater, stock.NationalKey())
	require.NoError(t, err)
	assert.True(t, moved.LessThanOrEqual(d("5000")))
	assert.True(t, nat.Quantity.Add(moved).Equal(d("5000")))
	assert.True(t, nat.Allocated.Equal(moved))

	provinces, err := store.ListNodes(ctx, stock.NodeFilter{Resource: stock.ResourceWater, Tier: stock.TierProvince})
	require.NoError(t, err)
	received := decimal.Zero
	for _, p := range provinces {
		received = received.Add(p.Quantity)
	}
	assert.True(t, received.Equal(moved))
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

func pendingSuggestion(id string) suggestion.Suggestion {
	now := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	return suggestion.Suggestion{
		ID:           id,
		Resource:     stock.ResourceWater,
		ProvinceID:   "prov-1",
		Quantity:     d("1500000"),
		Reasoning:    "water",
		MatchedRules: []string{"water-allocation"},
		Confidence:   0.9,
		Prediction:   reasoning.Prediction{FloodRisk: reasoning.RiskHigh, Confidence: 0.9, Rainfall24h: 120},
		Flags:        []reasoning.Flag{reasoning.FlagInsufficientStock},
		Status:       suggestion.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStore_SuggestionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := pendingSuggestion("s1")
	require.NoError(t, store.CreateSuggestions(ctx, []suggestion.Suggestion{in}))

	out, err := store.GetSuggestion(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Quantity.Equal(in.Quantity))
	assert.Equal(t, in.MatchedRules, out.MatchedRules)
	assert.Equal(t, in.Prediction, out.Prediction)
	assert.Equal(t, in.Flags, out.Flags)
	assert.Equal(t, in.CreatedAt, out.CreatedAt)
	assert.Nil(t, out.DecidedAt)

	missing, err := store.GetSuggestion(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_TransitionOnlyFromPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSuggestions(ctx, []suggestion.Suggestion{pendingSuggestion("s1")}))

	at := time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC)
	ok, err := store.TransitionSuggestion(ctx, suggestion.Transition{ID: "s1", To: suggestion.StatusApproved, ActorID: "a", At: at})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TransitionSuggestion(ctx, suggestion.Transition{ID: "s1", To: suggestion.StatusRejected, ActorID: "b", At: at})
	require.NoError(t, err)
	assert.False(t, ok, "second decision must not apply")

	changed, err := store.UpdateFlags(ctx, "s1", nil)
	require.NoError(t, err)
	assert.False(t, changed, "flags of decided suggestions are frozen")

	out, err := store.GetSuggestion(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, suggestion.StatusApproved, out.Status)
	assert.Equal(t, "a", out.DecidedBy)
	require.NotNil(t, out.DecidedAt)
	assert.Equal(t, at, *out.DecidedAt)
}

func TestStore_ListAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, b, c := pendingSuggestion("a"), pendingSuggestion("b"), pendingSuggestion("c")
	c.Resource = stock.ResourceFood
	c.ProvinceID = "prov-2"
	require.NoError(t, store.CreateSuggestions(ctx, []suggestion.Suggestion{a, b, c}))
	_, err := store.TransitionSuggestion(ctx, suggestion.Transition{ID: "b", To: suggestion.StatusRejected, RejectionReason: "already covered", At: time.Now()})
	require.NoError(t, err)

	pending, err := store.ListSuggestions(ctx, suggestion.Filter{Status: suggestion.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	food, err := store.ListSuggestions(ctx, suggestion.Filter{Resource: stock.ResourceFood, ProvinceID: "prov-2"})
	require.NoError(t, err)
	require.Len(t, food, 1)
	assert.Equal(t, "c", food[0].ID)

	st, err := store.SuggestionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 1, st.Rejected)
	assert.Equal(t, 0, st.Approved)
}

// =============================================================================
// GEOGRAPHY
// =============================================================================

func TestStore_Geography(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveProvince(ctx, reasoning.Province{ID: "p1", Name: "Quang Nam"}))
	require.NoError(t, store.SaveDistrict(ctx, reasoning.District{ID: "d1", ProvinceID: "p1", Name: "Hoi An", Population: 120000}))
	require.NoError(t, store.SaveShelter(ctx, reasoning.Shelter{ID: "s1", DistrictID: "d1", Name: "School", Capacity: 400}))
	require.NoError(t, store.SaveFloodEvent(ctx, reasoning.FloodEvent{ID: "f1", ProvinceID: "p1", OccurredAt: now.AddDate(-1, 0, 0), Severity: "major"}))
	require.NoError(t, store.SaveFloodEvent(ctx, reasoning.FloodEvent{ID: "f2", ProvinceID: "p1", OccurredAt: now.AddDate(-6, 0, 0)}))

	p, err := store.GetProvince(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Quang Nam", p.Name)

	missing, err := store.GetProvince(ctx, "p9")
	require.NoError(t, err)
	assert.Nil(t, missing)

	districts, err := store.ListDistricts(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, districts, 1)
	assert.Equal(t, int64(120000), districts[0].Population)

	shelters, err := store.ListShelters(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, shelters, 1)

	floods, err := store.ListFloodEvents(ctx, "p1", now.AddDate(-3, 0, 0))
	require.NoError(t, err)
	require.Len(t, floods, 1)
	assert.Equal(t, "f1", floods[0].ID)

	require.NoError(t, store.Reset(ctx))
	provinces, err := store.ListProvinces(ctx)
	require.NoError(t, err)
	assert.Empty(t, provinces)
}
