package reasoning

import (
	"github.com/shopspring/decimal"

	"github.com/warp/relief-engine/stock"
)

// Per-capita planning constants used by the baseline rules.
var (
	waterLitersPerDay   = decimal.NewFromInt(10)
	waterDays           = decimal.NewFromInt(3)
	mealsPerDay         = decimal.NewFromInt(3)
	foodDays            = decimal.NewFromInt(7)
	medicalKitsPerCap   = decimal.RequireFromString("0.05")
	shelterTriggerRatio = decimal.RequireFromString("0.2")
	shelterTargetRatio  = decimal.RequireFromString("0.3")
	historicalFactor    = decimal.RequireFromString("1.5")
)

// HistoryWindowYears is how far back flood history counts.
const HistoryWindowYears = 3

// BaselineRules returns the built-in rule set.
func BaselineRules() []Rule {
	return []Rule{
		{
			ID:          "water-allocation",
			Description: "Drinking water for 3 days when heavy rain is predicted with high confidence",
			Category:    CategoryAllocation,
			Priority:    10,
			When: func(f Facts) bool {
				return f.FloodRisk.Elevated() && f.Confidence > 0.85 && f.Rainfall24h > 100
			},
			Then: Allocate(stock.ResourceWater, func(f Facts) decimal.Decimal {
				return f.PopulationDecimal().Mul(waterLitersPerDay).Mul(waterDays)
			}),
		},
		{
			ID:          "food-allocation",
			Description: "Three meals a day for a week",
			Category:    CategoryAllocation,
			Priority:    20,
			When: func(f Facts) bool {
				return f.FloodRisk.Elevated() && f.Confidence > 0.8
			},
			Then: Allocate(stock.ResourceFood, func(f Facts) decimal.Decimal {
				return f.PopulationDecimal().Mul(mealsPerDay).Mul(foodDays)
			}),
		},
		{
			ID:          "medical-allocation",
			Description: "Medical kits for 5% of the population",
			Category:    CategoryAllocation,
			Priority:    30,
			When: func(f Facts) bool {
				return f.FloodRisk.Elevated() && f.Rainfall24h > 80 && f.Confidence > 0.75
			},
			Then: Allocate(stock.ResourceMedical, func(f Facts) decimal.Decimal {
				return f.PopulationDecimal().Mul(medicalKitsPerCap)
			}),
		},
		{
			ID:          "shelter-allocation",
			Description: "Top shelter capacity up to 30% of the population when below 20%",
			Category:    CategoryAllocation,
			Priority:    40,
			When: func(f Facts) bool {
				current := f.ProvinceLevel(stock.ResourceShelter).Quantity
				return f.FloodRisk.Elevated() && current.LessThan(f.PopulationDecimal().Mul(shelterTriggerRatio))
			},
			Then: Allocate(stock.ResourceShelter, func(f Facts) decimal.Decimal {
				current := f.ProvinceLevel(stock.ResourceShelter).Quantity
				return decimal.Max(decimal.Zero, f.PopulationDecimal().Mul(shelterTargetRatio).Sub(current))
			}),
		},
		{
			ID:          "low-confidence-flag",
			Description: "Mark proposals built on a weak prediction",
			Category:    CategoryValidation,
			Priority:    50,
			When: func(f Facts) bool {
				return f.Confidence < 0.6
			},
			Then: RaiseFlag(FlagLowConfidence),
		},
		{
			ID:          "historical-multiplier",
			Description: "Scale proposals by 1.5 for provinces flooded in the last 3 years",
			Category:    CategoryOptimization,
			Priority:    60,
			When: func(f Facts) bool {
				if f.FloodCount < 1 || f.LastFlood == nil {
					return false
				}
				return f.LastFlood.After(f.AsOf.AddDate(-HistoryWindowYears, 0, 0))
			},
			Then: Multiply(historicalFactor),
		},
		{
			ID:          "high-humidity-flag",
			Description: "Mark saturated ground: very humid with sustained two-day rainfall",
			Category:    CategoryValidation,
			Priority:    70,
			When: func(f Facts) bool {
				return f.Humidity >= 90 && f.Rainfall48h > 150
			},
			Then: RaiseFlag(FlagProlongedRainfall),
		},
	}
}
