package reasoning

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/relief-engine/stock"
)

// Geography is the read-only view of provinces, districts and flood history.
type Geography interface {
	// GetProvince returns nil if the province does not exist.
	GetProvince(ctx context.Context, id string) (*Province, error)
	ListDistricts(ctx context.Context, provinceID string) ([]District, error)
	// ListFloodEvents returns events at or after since, newest first.
	ListFloodEvents(ctx context.Context, provinceID string, since time.Time) ([]FloodEvent, error)
}

// NodeLister reads stock nodes. *stock.Ledger and every stock.Store satisfy it.
type NodeLister interface {
	ListNodes(ctx context.Context, filter stock.NodeFilter) ([]stock.Node, error)
}

// Assembler builds Facts for one (prediction, province) pair.
type Assembler struct {
	geo       Geography
	nodes     NodeLister
	resources func() []stock.ResourceType
	now       func() time.Time
}

type AssemblerOption func(*Assembler)

// WithAssemblerClock overrides the evaluation time.
func WithAssemblerClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler wires fact sources. Stock snapshots are zero-filled for every
// resource in catalog.
func NewAssembler(geo Geography, nodes NodeLister, catalog *stock.Catalog, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		geo:       geo,
		nodes:     nodes,
		resources: catalog.Resources,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble gathers the facts the rules read. It performs no writes.
func (a *Assembler) Assemble(ctx context.Context, p Prediction, provinceID string) (Facts, error) {
	province, err := a.geo.GetProvince(ctx, provinceID)
	if err != nil {
		return Facts{}, fmt.Errorf("load province: %w", err)
	}
	if province == nil {
		return Facts{}, fmt.Errorf("%w: %s", ErrProvinceNotFound, provinceID)
	}

	asOf := a.now()
	facts := Facts{
		FloodRisk:    p.FloodRisk,
		Confidence:   p.Confidence,
		Rainfall24h:  p.Rainfall24h,
		Rainfall48h:  p.Rainfall48h,
		Temperature:  p.Temperature,
		Humidity:     p.Humidity,
		ProvinceID:   province.ID,
		ProvinceName: province.Name,
		AsOf:         asOf,
	}

	var (
		districts []District
		provNodes []stock.Node
		natNodes  []stock.Node
		floods    []FloodEvent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		districts, err = a.geo.ListDistricts(gctx, provinceID)
		if err != nil {
			return fmt.Errorf("list districts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		provNodes, err = a.nodes.ListNodes(gctx, stock.NodeFilter{Tier: stock.TierProvince, OwnerID: provinceID})
		if err != nil {
			return fmt.Errorf("province stock: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		natNodes, err = a.nodes.ListNodes(gctx, stock.NodeFilter{Tier: stock.TierNational})
		if err != nil {
			return fmt.Errorf("national stock: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		floods, err = a.geo.ListFloodEvents(gctx, provinceID, asOf.AddDate(-HistoryWindowYears, 0, 0))
		if err != nil {
			return fmt.Errorf("flood history: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Facts{}, err
	}

	for _, d := range districts {
		facts.Population += d.Population
	}

	facts.ProvinceStock = a.snapshot(provNodes)
	facts.NationalStock = a.snapshot(natNodes)

	facts.FloodCount = len(floods)
	for _, ev := range floods {
		if facts.LastFlood == nil || ev.OccurredAt.After(*facts.LastFlood) {
			t := ev.OccurredAt
			facts.LastFlood = &t
		}
	}
	return facts, nil
}

func (a *Assembler) snapshot(nodes []stock.Node) map[stock.ResourceType]StockLevel {
	out := make(map[stock.ResourceType]StockLevel)
	for _, r := range a.resources() {
		out[r] = StockLevel{}
	}
	for _, n := range nodes {
		out[n.Resource] = StockLevel{Quantity: n.Quantity, Allocated: n.Allocated}
	}
	return out
}
