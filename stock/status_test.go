package stock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/relief-engine/stock"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		tier      stock.Tier
		quantity  string
		allocated string
		want      stock.Status
	}{
		{stock.TierNational, "100", "0", stock.StatusAvailable},
		{stock.TierNational, "100", "69.9", stock.StatusAvailable},
		{stock.TierNational, "100", "70", stock.StatusLow},
		{stock.TierNational, "100", "90", stock.StatusCritical},
		{stock.TierProvince, "100", "100", stock.StatusAllocated},
		{stock.TierProvince, "50", "80", stock.StatusAllocated},
		{stock.TierProvince, "0", "5", stock.StatusAllocated},
		{stock.TierProvince, "0", "0", stock.StatusAvailable},
		{stock.TierDistrict, "100", "75", stock.StatusLow},
		{stock.TierDistrict, "100", "95", stock.StatusLimited},
		{stock.TierDistrict, "100", "120", stock.StatusFull},
		{stock.TierShelter, "100", "100", stock.StatusSupplied},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier)+"/"+tt.quantity+"/"+tt.allocated, func(t *testing.T) {
			assert.Equal(t, tt.want, stock.DeriveStatus(tt.tier, d(tt.quantity), d(tt.allocated)))
		})
	}
}

func TestSupplyLevel(t *testing.T) {
	assert.Equal(t, 0, stock.SupplyLevel(d("0"), d("200")))
	assert.Equal(t, 49, stock.SupplyLevel(d("99"), d("200")))
	assert.Equal(t, 100, stock.SupplyLevel(d("500"), d("200")))
	assert.Equal(t, 100, stock.SupplyLevel(d("1"), d("0")))
}

func TestNodeKey_Validate(t *testing.T) {
	assert.NoError(t, stock.NationalKey().Validate())
	assert.NoError(t, stock.ShelterKey("s1").Validate())
	assert.ErrorIs(t, stock.NodeKey{Tier: stock.TierNational, OwnerID: "x"}.Validate(), stock.ErrInvalidNodeKey)
	assert.ErrorIs(t, stock.NodeKey{Tier: "planet", OwnerID: "x"}.Validate(), stock.ErrInvalidTier)
	assert.Equal(t, "district:d-4", stock.DistrictKey("d-4").String())
}

func TestNode_AvailableFloorsAtZero(t *testing.T) {
	n := stock.Node{Quantity: d("40"), Allocated: d("60")}
	assert.True(t, n.Available().IsZero())
}
