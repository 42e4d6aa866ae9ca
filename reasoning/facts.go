package reasoning

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// GEOGRAPHY - Read-only inputs owned by the (out of scope) CRUD layer
// =============================================================================

type Province struct {
	ID   string
	Name string
}

type District struct {
	ID         string
	ProvinceID string
	Name       string
	Population int64
}

type Shelter struct {
	ID         string
	DistrictID string
	Name       string
	Capacity   int
}

// FloodEvent is one recorded flood in a province.
type FloodEvent struct {
	ID         string
	ProvinceID string
	OccurredAt time.Time
	Severity   string
}

// =============================================================================
// FACTS - Flat record consumed by rule conditions
// =============================================================================

// StockLevel is a point-in-time view of one node's quantities.
type StockLevel struct {
	Quantity  decimal.Decimal
	Allocated decimal.Decimal
}

// Available mirrors stock.Node.Available.
func (s StockLevel) Available() decimal.Decimal {
	return decimal.Max(s.Quantity.Sub(s.Allocated), decimal.Zero)
}

// Facts is built fresh for every evaluation and never persisted.
type Facts struct {
	FloodRisk   RiskLevel
	Confidence  float64
	Rainfall24h float64
	Rainfall48h float64
	Temperature float64
	Humidity    float64

	ProvinceID   string
	ProvinceName string
	Population   int64

	// Zero-filled for every catalog resource.
	ProvinceStock map[stock.ResourceType]StockLevel
	NationalStock map[stock.ResourceType]StockLevel

	// FloodCount counts floods inside the look-back window ending at AsOf.
	FloodCount int
	LastFlood  *time.Time

	AsOf time.Time
}

// ProvinceLevel returns the province stock for a resource, zero if unknown.
func (f Facts) ProvinceLevel(r stock.ResourceType) StockLevel {
	if lvl, ok := f.ProvinceStock[r]; ok {
		return lvl
	}
	return StockLevel{}
}

// NationalLevel returns the national stock for a resource, zero if unknown.
func (f Facts) NationalLevel(r stock.ResourceType) StockLevel {
	if lvl, ok := f.NationalStock[r]; ok {
		return lvl
	}
	return StockLevel{}
}

// PopulationDecimal is Population as a decimal for quantity arithmetic.
func (f Facts) PopulationDecimal() decimal.Decimal {
	return decimal.NewFromInt(f.Population)
}
