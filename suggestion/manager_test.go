package suggestion_test

import (
	"context"
	"errors"
	"fmt"
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

var clock = time.Date(2025, time.September, 1, 6, 0, 0, 0, time.UTC)

type fixture struct {
	store   *sqlite.Store
	ledger  *stock.Ledger
	manager *suggestion.Manager
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newFixture builds a province of 50,000 people (two districts).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveProvince(ctx, reasoning.Province{ID: "prov-1", Name: "Quang Nam"}))
	require.NoError(t, store.SaveDistrict(ctx, reasoning.District{ID: "d1", ProvinceID: "prov-1", Name: "Hoi An", Population: 30000}))
	require.NoError(t, store.SaveDistrict(ctx, reasoning.District{ID: "d2", ProvinceID: "prov-1", Name: "Tam Ky", Population: 20000}))

	now := func() time.Time { return clock }
	ledger := stock.NewLedger(store, stock.WithClock(now))
	assembler := reasoning.NewAssembler(store, store, ledger.Catalog(), reasoning.WithAssemblerClock(now))
	engine := reasoning.NewDefaultEngine()
	manager := suggestion.NewManager(store, assembler, engine, ledger, ledger, suggestion.WithClock(now))

	return &fixture{store: store, ledger: ledger, manager: manager}
}

func (f *fixture) stockNational(t *testing.T, r stock.ResourceType, qty string) {
	t.Helper()
	_, err := f.ledger.Receive(context.Background(), stock.IntakeRequest{
		Resource: r, Destination: stock.NationalKey(), Quantity: d(qty),
	})
	require.NoError(t, err)
}

var heavyRain = reasoning.Prediction{
	FloodRisk:   reasoning.RiskHigh,
	Confidence:  0.9,
	Rainfall24h: 120,
	Temperature: 27,
	Humidity:    85,
}

func byResource(t *testing.T, items []suggestion.Suggestion, r stock.ResourceType) suggestion.Suggestion {
	t.Helper()
	for _, s := range items {
		if s.Resource == r {
			return s
		}
	}
	t.Fatalf("no suggestion for %s", r)
	return suggestion.Suggestion{}
}

// generateWater creates suggestions and returns the water one.
func (f *fixture) generateWater(t *testing.T) suggestion.Suggestion {
	t.Helper()
	items, err := f.manager.ProcessPrediction(context.Background(), heavyRain, "prov-1", "forecaster")
	require.NoError(t, err)
	return byResource(t, items, stock.ResourceWater)
}

// =============================================================================
// GENERATE
// =============================================================================

func TestManager_ProcessPrediction_WorkedExample(t *testing.T) {
	// GIVEN: 50,000 people, 2M liters of national water, no national food
	// WHEN: A high-risk prediction arrives
	// THEN: Four pending suggestions; food is flagged INSUFFICIENT_STOCK, water is not

	f := newFixture(t)
	f.stockNational(t, stock.ResourceWater, "2000000")

	items, err := f.manager.ProcessPrediction(context.Background(), heavyRain, "prov-1", "forecaster")
	require.NoError(t, err)
	require.Len(t, items, 4)

	water := byResource(t, items, stock.ResourceWater)
	assert.True(t, water.Quantity.Equal(d("1500000")))
	assert.False(t, water.HasFlag(reasoning.FlagInsufficientStock))
	assert.Equal(t, []string{"water-allocation"}, water.MatchedRules)
	assert.Equal(t, suggestion.StatusPending, water.Status)
	assert.Equal(t, "forecaster", water.CreatedBy)
	assert.Equal(t, heavyRain, water.Prediction)
	assert.Contains(t, water.Reasoning, "Quang Nam")

	food := byResource(t, items, stock.ResourceFood)
	assert.True(t, food.Quantity.Equal(d("1050000")))
	assert.True(t, food.HasFlag(reasoning.FlagInsufficientStock))

	medical := byResource(t, items, stock.ResourceMedical)
	assert.True(t, medical.Quantity.Equal(d("2500")))

	stored, err := f.manager.List(context.Background(), suggestion.Filter{Status: suggestion.StatusPending})
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestManager_ProcessPrediction_HistoricalMultiplier(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveFloodEvent(context.Background(), reasoning.FloodEvent{
		ID: "f1", ProvinceID: "prov-1", OccurredAt: clock.AddDate(0, -10, 0),
	}))

	water := f.generateWater(t)

	assert.True(t, water.Quantity.Equal(d("2250000")), "got %s", water.Quantity)
	assert.Equal(t, []string{"water-allocation", "historical-multiplier"}, water.MatchedRules)
}

func TestManager_ProcessPrediction_RoundsUp(t *testing.T) {
	// 50,010 people × 0.05 = 2,500.5 kits → 2,501
	f := newFixture(t)
	require.NoError(t, f.store.SaveDistrict(context.Background(), reasoning.District{ID: "d3", ProvinceID: "prov-1", Name: "Nui Thanh", Population: 10}))

	items, err := f.manager.ProcessPrediction(context.Background(), heavyRain, "prov-1", "forecaster")
	require.NoError(t, err)
	assert.True(t, byResource(t, items, stock.ResourceMedical).Quantity.Equal(d("2501")))
}

func TestManager_ProcessPrediction_RuleFlagsOnEverySuggestion(t *testing.T) {
	f := newFixture(t)
	p := heavyRain
	p.Humidity = 95
	p.Rainfall48h = 180

	items, err := f.manager.ProcessPrediction(context.Background(), p, "prov-1", "forecaster")
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, s := range items {
		assert.True(t, s.HasFlag(reasoning.FlagProlongedRainfall), "%s", s.Resource)
		assert.Contains(t, s.MatchedRules, "high-humidity-flag")
	}
}

func TestManager_ProcessPrediction_LowRiskSkipped(t *testing.T) {
	f := newFixture(t)
	p := heavyRain
	p.FloodRisk = "low"

	items, err := f.manager.ProcessPrediction(context.Background(), p, "prov-1", "forecaster")
	require.NoError(t, err)
	assert.Empty(t, items)

	st, err := f.manager.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Total)
}

func TestManager_ProcessPrediction_UnknownProvince(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.ProcessPrediction(context.Background(), heavyRain, "prov-404", "forecaster")
	assert.ErrorIs(t, err, reasoning.ErrProvinceNotFound)
	assert.True(t, suggestion.IsNotFound(err))
}

func TestManager_ProcessPrediction_InvalidPrediction(t *testing.T) {
	f := newFixture(t)
	p := heavyRain
	p.Confidence = 3

	_, err := f.manager.ProcessPrediction(context.Background(), p, "prov-1", "forecaster")
	assert.True(t, suggestion.IsClientError(err))
}

// =============================================================================
// FLAG RECOMPUTATION
// =============================================================================

func TestManager_InsufficientStockFollowsNationalStock(t *testing.T) {
	// GIVEN: A water suggestion of 1.5M created when only 1M was available
	// WHEN: 1M more arrives, and later most of it leaves
	// THEN: Every read reflects the current national availability

	f := newFixture(t)
	ctx := context.Background()
	f.stockNational(t, stock.ResourceWater, "1000000")

	water := f.generateWater(t)
	require.True(t, water.HasFlag(reasoning.FlagInsufficientStock))

	f.stockNational(t, stock.ResourceWater, "1000000")

	got, err := f.manager.Get(ctx, water.ID)
	require.NoError(t, err)
	assert.False(t, got.HasFlag(reasoning.FlagInsufficientStock))

	persisted, err := f.store.GetSuggestion(ctx, water.ID)
	require.NoError(t, err)
	assert.False(t, persisted.HasFlag(reasoning.FlagInsufficientStock), "delta must be persisted")

	_, err = f.ledger.Transfer(ctx, stock.TransferRequest{
		Resource: stock.ResourceWater, Source: stock.NationalKey(),
		Destination: stock.ProvinceKey("prov-2"), Quantity: d("800000"),
	})
	require.NoError(t, err)

	list, err := f.manager.List(ctx, suggestion.Filter{Resource: stock.ResourceWater})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].HasFlag(reasoning.FlagInsufficientStock))
}

func TestManager_ReconcileFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items, err := f.manager.ProcessPrediction(ctx, heavyRain, "prov-1", "forecaster")
	require.NoError(t, err)
	for _, s := range items {
		require.True(t, s.HasFlag(reasoning.FlagInsufficientStock))
	}

	f.stockNational(t, stock.ResourceWater, "5000000")
	f.stockNational(t, stock.ResourceFood, "5000000")

	changed, err := f.manager.ReconcileFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	changed, err = f.manager.ReconcileFlags(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed, "reconciliation is idempotent")
}

// =============================================================================
// APPROVE
// =============================================================================

func TestManager_Approve_ExecutesTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stockNational(t, stock.ResourceWater, "2000000")
	water := f.generateWater(t)

	approved, rec, err := f.manager.Approve(ctx, water.ID, "coordinator-1")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, suggestion.StatusApproved, approved.Status)
	assert.Equal(t, suggestion.ExecutionCompleted, approved.ExecutionStatus)
	assert.Equal(t, rec.ID, approved.AllocationID)
	assert.Equal(t, "coordinator-1", approved.DecidedBy)
	require.NotNil(t, approved.DecidedAt)

	assert.Equal(t, water.ID, rec.ReferenceID)
	assert.Equal(t, "suggestion:"+water.ID, rec.IdempotencyKey)
	assert.Equal(t, stock.ProvinceKey("prov-1"), rec.Destination)

	nat, err := f.ledger.Node(ctx, stock.ResourceWater, stock.NationalKey())
	require.NoError(t, err)
	assert.True(t, nat.Quantity.Equal(d("500000")))

	prov, err := f.ledger.Node(ctx, stock.ResourceWater, stock.ProvinceKey("prov-1"))
	require.NoError(t, err)
	assert.True(t, prov.Quantity.Equal(d("1500000")))
}

func TestManager_Approve_Twice(t *testing.T) {
	// GIVEN: An approved suggestion
	// WHEN: Approving again
	// THEN: ErrSuggestionProcessed and still exactly one allocation record

	f := newFixture(t)
	ctx := context.Background()
	f.stockNational(t, stock.ResourceWater, "5000000")
	water := f.generateWater(t)

	_, _, err := f.manager.Approve(ctx, water.ID, "a")
	require.NoError(t, err)

	_, _, err = f.manager.Approve(ctx, water.ID, "b")
	assert.ErrorIs(t, err, suggestion.ErrSuggestionProcessed)
	assert.True(t, suggestion.IsConflict(err))

	recs, err := f.ledger.Allocations(ctx, stock.AllocationFilter{ReferenceID: water.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestManager_Approve_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stockNational(t, stock.ResourceWater, "5000000")
	water := f.generateWater(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.manager.Approve(ctx, water.ID, fmt.Sprintf("coordinator-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, suggestion.ErrSuggestionProcessed):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 11, conflicts)

	recs, err := f.ledger.Allocations(ctx, stock.AllocationFilter{ReferenceID: water.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestManager_Approve_ExecutionFailure(t *testing.T) {
	// GIVEN: A water suggestion and no national water at all
	// WHEN: Approving it
	// THEN: Status approved, execution failed with the error text, ExecutionError returned

	f := newFixture(t)
	ctx := context.Background()
	water := f.generateWater(t)

	got, rec, err := f.manager.Approve(ctx, water.ID, "coordinator-1")

	require.Error(t, err)
	assert.Nil(t, rec)
	var execErr *suggestion.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.True(t, errors.Is(err, stock.ErrNodeNotFound))

	require.NotNil(t, got)
	assert.Equal(t, suggestion.StatusApproved, got.Status)
	assert.Equal(t, suggestion.ExecutionFailed, got.ExecutionStatus)
	assert.NotEmpty(t, got.ExecutionError)
	assert.Empty(t, got.AllocationID)

	_, _, err = f.manager.Approve(ctx, water.ID, "coordinator-2")
	assert.ErrorIs(t, err, suggestion.ErrSuggestionProcessed)
}

// cancelAfterTransfer cancels the request context once the transfer has
// committed, like a client hanging up mid-request.
type cancelAfterTransfer struct {
	next   suggestion.Allocator
	cancel context.CancelFunc
}

func (c *cancelAfterTransfer) Transfer(ctx context.Context, req stock.TransferRequest) (*stock.AllocationRecord, error) {
	rec, err := c.next.Transfer(ctx, req)
	c.cancel()
	return rec, err
}

func TestManager_Approve_CompletesWhenCallerCancels(t *testing.T) {
	// GIVEN: Enough national water and an allocator whose caller disconnects
	//        right after the transfer commits
	// WHEN: Approving the water suggestion
	// THEN: Execution is still recorded as completed with the allocation linked

	f := newFixture(t)
	f.stockNational(t, stock.ResourceWater, "5000000")
	water := f.generateWater(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	now := func() time.Time { return clock }
	assembler := reasoning.NewAssembler(f.store, f.store, f.ledger.Catalog(), reasoning.WithAssemblerClock(now))
	manager := suggestion.NewManager(f.store, assembler, reasoning.NewDefaultEngine(),
		&cancelAfterTransfer{next: f.ledger, cancel: cancel}, f.ledger, suggestion.WithClock(now))

	got, rec, err := manager.Approve(ctx, water.ID, "coordinator-1")

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	stored, err := f.manager.Get(context.Background(), water.ID)
	require.NoError(t, err)
	assert.Equal(t, suggestion.StatusApproved, stored.Status)
	assert.Equal(t, suggestion.ExecutionCompleted, stored.ExecutionStatus)
	assert.Equal(t, rec.ID, stored.AllocationID)
	assert.Equal(t, rec.ID, got.AllocationID)
}

func TestManager_Approve_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stockNational(t, stock.ResourceWater, "1000")
	water := f.generateWater(t)

	_, _, err := f.manager.Approve(ctx, water.ID, "coordinator-1")

	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Shortfall.Equal(d("1499000")))

	nat, err := f.ledger.Node(ctx, stock.ResourceWater, stock.NationalKey())
	require.NoError(t, err)
	assert.True(t, nat.Quantity.Equal(d("1000")), "failed execution moves nothing")
}

func TestManager_Approve_NotFound(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.manager.Approve(context.Background(), "missing", "a")
	assert.ErrorIs(t, err, suggestion.ErrSuggestionNotFound)
}

// =============================================================================
// REJECT AND STATS
// =============================================================================

func TestManager_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	water := f.generateWater(t)

	_, err := f.manager.Reject(ctx, water.ID, "coordinator-1", "   ")
	assert.ErrorIs(t, err, suggestion.ErrReasonRequired)

	rejected, err := f.manager.Reject(ctx, water.ID, "coordinator-1", "province already stocked by NGO")
	require.NoError(t, err)
	assert.Equal(t, suggestion.StatusRejected, rejected.Status)
	assert.Equal(t, "province already stocked by NGO", rejected.RejectionReason)

	_, _, err = f.manager.Approve(ctx, water.ID, "coordinator-2")
	assert.ErrorIs(t, err, suggestion.ErrSuggestionProcessed)

	_, err = f.manager.Reject(ctx, water.ID, "coordinator-2", "second thoughts here")
	assert.ErrorIs(t, err, suggestion.ErrSuggestionProcessed)
}

func TestManager_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stockNational(t, stock.ResourceWater, "5000000")
	f.stockNational(t, stock.ResourceFood, "5000000")

	st, err := f.manager.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.ApprovalRate, "no decisions yet")

	items, err := f.manager.ProcessPrediction(ctx, heavyRain, "prov-1", "forecaster")
	require.NoError(t, err)
	require.Len(t, items, 4)

	_, _, err = f.manager.Approve(ctx, byResource(t, items, stock.ResourceWater).ID, "c")
	require.NoError(t, err)
	_, _, err = f.manager.Approve(ctx, byResource(t, items, stock.ResourceFood).ID, "c")
	require.NoError(t, err)
	_, err = f.manager.Reject(ctx, byResource(t, items, stock.ResourceMedical).ID, "c", "kits en route already")
	require.NoError(t, err)

	st, err = f.manager.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 2, st.Approved)
	assert.Equal(t, 1, st.Rejected)
	assert.InDelta(t, 2.0/3.0, st.ApprovalRate, 1e-9)
}
