package stock

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)

	thresholdFull     = decimal.NewFromInt(100)
	thresholdCritical = decimal.NewFromInt(90)
	thresholdLow      = decimal.NewFromInt(70)
)

// Utilization returns allocated/quantity as a percentage.
// A node with nothing on hand but something allocated reads 100%.
func Utilization(quantity, allocated decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() {
		if allocated.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	return allocated.Div(quantity).Mul(hundred)
}

// DeriveStatus computes the utilization label for a node.
// National and province nodes use ALLOCATED/CRITICAL/LOW/AVAILABLE,
// district nodes use FULL/LIMITED/LOW/AVAILABLE. Shelter nodes always read
// SUPPLIED; their state lives in SupplyLevel.
func DeriveStatus(tier Tier, quantity, allocated decimal.Decimal) Status {
	if tier == TierShelter {
		return StatusSupplied
	}

	pct := Utilization(quantity, allocated)
	top, mid := StatusAllocated, StatusCritical
	if tier == TierDistrict {
		top, mid = StatusFull, StatusLimited
	}

	switch {
	case pct.GreaterThanOrEqual(thresholdFull):
		return top
	case pct.GreaterThanOrEqual(thresholdCritical):
		return mid
	case pct.GreaterThanOrEqual(thresholdLow):
		return StatusLow
	default:
		return StatusAvailable
	}
}

// SupplyLevel converts a shelter's on-hand quantity into a 0-100 percentage
// of its target. A zero target reads 100 for any positive quantity.
func SupplyLevel(quantity, target decimal.Decimal) int {
	if !quantity.IsPositive() {
		return 0
	}
	if !target.IsPositive() {
		return 100
	}
	pct := quantity.Div(target).Mul(hundred).Floor()
	if pct.GreaterThan(hundred) {
		return 100
	}
	return int(pct.IntPart())
}

// refresh recomputes the derived fields of a node after its quantities change.
func (n *Node) refresh(defaults ResourceDefaults) {
	n.Status = DeriveStatus(n.Key.Tier, n.Quantity, n.Allocated)
	if n.Key.Tier == TierShelter {
		n.SupplyLevel = SupplyLevel(n.Quantity, defaults.ShelterTarget)
	}
}
