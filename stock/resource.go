/*
resource.go - Resource catalog and auto-provisioning defaults

PURPOSE:
  Holds the per-resource defaults (display name, unit, icon, seed quantity
  per tier, shelter supply target) used when the ledger auto-creates a
  destination node the first time something is allocated to it.

HOW IT WORKS:
  1. The built-in catalog covers food, water, medical and shelter
  2. factory.ParseCatalog can load overrides from JSON at startup
  3. The ledger looks up defaults by resource type when provisioning

WHY A CATALOG:
  - A province or district "discovers" a resource type on first allocation
  - Seed quantities and shelter targets are configuration, not code
  - Unknown resource types are rejected instead of provisioned blindly

SEE ALSO:
  - ledger.go: provisionNode uses Lookup
  - factory/catalog.go: JSON catalog loader
*/
package stock

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESOURCE DEFAULTS
// =============================================================================

// ResourceDefaults describes how to provision a node for a resource type.
type ResourceDefaults struct {
	Resource ResourceType
	Name     string
	Unit     string
	Icon     string

	// Seed is the starting quantity of an auto-provisioned node, per tier.
	// Missing tiers seed at zero.
	Seed map[Tier]decimal.Decimal

	// ShelterTarget is the quantity at which a shelter's supply level reads 100%.
	ShelterTarget decimal.Decimal
}

// SeedFor returns the seed quantity for a tier.
func (d ResourceDefaults) SeedFor(t Tier) decimal.Decimal {
	if q, ok := d.Seed[t]; ok {
		return q
	}
	return decimal.Zero
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a concurrency-safe registry of resource defaults.
type Catalog struct {
	mu        sync.RWMutex
	resources map[ResourceType]ResourceDefaults
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{resources: make(map[ResourceType]ResourceDefaults)}
}

// Register adds or replaces the defaults for a resource type.
func (c *Catalog) Register(d ResourceDefaults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[d.Resource] = d
}

// Lookup finds the defaults for a resource type.
func (c *Catalog) Lookup(r ResourceType) (ResourceDefaults, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.resources[r]
	return d, ok
}

// Resources returns all registered resource types, sorted.
func (c *Catalog) Resources() []ResourceType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]ResourceType, 0, len(c.resources))
	for r := range c.resources {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// DefaultCatalog returns a catalog holding the built-in relief supplies.
// Seed quantities are zero so that auto-provisioning never creates stock
// out of nothing; deployments can configure seeds through factory.ParseCatalog.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register(ResourceDefaults{
		Resource:      ResourceFood,
		Name:          "Food Rations",
		Unit:          "meals",
		Icon:          "utensils",
		ShelterTarget: decimal.NewFromInt(10000),
	})
	c.Register(ResourceDefaults{
		Resource:      ResourceWater,
		Name:          "Drinking Water",
		Unit:          "liters",
		Icon:          "droplet",
		ShelterTarget: decimal.NewFromInt(20000),
	})
	c.Register(ResourceDefaults{
		Resource:      ResourceMedical,
		Name:          "Medical Kits",
		Unit:          "kits",
		Icon:          "first-aid",
		ShelterTarget: decimal.NewFromInt(200),
	})
	c.Register(ResourceDefaults{
		Resource:      ResourceShelter,
		Name:          "Shelter Units",
		Unit:          "units",
		Icon:          "tent",
		ShelterTarget: decimal.NewFromInt(500),
	})
	return c
}
