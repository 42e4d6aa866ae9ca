/*
Package factory provides JSON and YAML to Go resource catalog conversion.

PURPOSE:
  Converts resource definitions into stock.ResourceDefaults so that a
  deployment can add supply types, or seed auto-provisioned nodes, without
  code changes. Definitions are merged over the built-in catalog.

SCHEMA:
  {
    "resources": [
      {
        "resource_type": "water",
        "name": "Drinking Water",
        "unit": "liters",
        "icon": "droplet",
        "seed": {"province": 5000, "district": 1000},
        "shelter_target": 20000
      }
    ]
  }

  The same keys are accepted in YAML when the file ends in .yaml or .yml.

USAGE:
  catalog, err := factory.LoadCatalogFile(cfg.CatalogPath, stock.DefaultCatalog())
  ledger := stock.NewLedger(store, stock.WithCatalog(catalog))

SEE ALSO:
  - stock/resource.go: Catalog and ResourceDefaults
  - config/config.go: -catalog flag
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/relief-engine/stock"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// CatalogJSON is the file representation of a catalog.
type CatalogJSON struct {
	Resources []ResourceJSON `json:"resources" yaml:"resources"`
}

// ResourceJSON is the file representation of one resource type.
type ResourceJSON struct {
	ResourceType  string             `json:"resource_type" yaml:"resource_type"`
	Name          string             `json:"name,omitempty" yaml:"name,omitempty"`
	Unit          string             `json:"unit,omitempty" yaml:"unit,omitempty"`
	Icon          string             `json:"icon,omitempty" yaml:"icon,omitempty"`
	Seed          map[string]float64 `json:"seed,omitempty" yaml:"seed,omitempty"` // tier -> quantity
	ShelterTarget *float64           `json:"shelter_target,omitempty" yaml:"shelter_target,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseCatalog parses JSON definitions and merges them over base. Fields a
// definition leaves out keep the base value. A nil base starts empty.
func ParseCatalog(data []byte, base *stock.Catalog) (*stock.Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return FromJSON(cj, base)
}

// ParseCatalogYAML is ParseCatalog for YAML input.
func ParseCatalogYAML(data []byte, base *stock.Catalog) (*stock.Catalog, error) {
	var cj CatalogJSON
	if err := yaml.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return FromJSON(cj, base)
}

// LoadCatalogFile reads a catalog file, choosing the decoder by extension.
// An empty path returns base unchanged.
func LoadCatalogFile(path string, base *stock.Catalog) (*stock.Catalog, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseCatalogYAML(data, base)
	default:
		return ParseCatalog(data, base)
	}
}

// FromJSON validates definitions and registers them into a copy of base.
func FromJSON(cj CatalogJSON, base *stock.Catalog) (*stock.Catalog, error) {
	out := stock.NewCatalog()
	if base != nil {
		for _, r := range base.Resources() {
			d, _ := base.Lookup(r)
			out.Register(d)
		}
	}

	var errs []error
	for i, rj := range cj.Resources {
		d, err := mergeResource(rj, out)
		if err != nil {
			errs = append(errs, fmt.Errorf("resources[%d]: %w", i, err))
			continue
		}
		out.Register(d)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeResource(rj ResourceJSON, into *stock.Catalog) (stock.ResourceDefaults, error) {
	name := strings.TrimSpace(rj.ResourceType)
	if name == "" {
		return stock.ResourceDefaults{}, errors.New("resource_type is required")
	}
	resource := stock.ResourceType(strings.ToLower(name))

	d, ok := into.Lookup(resource)
	if !ok {
		if rj.Name == "" || rj.Unit == "" {
			return stock.ResourceDefaults{}, fmt.Errorf("new resource %q needs name and unit", resource)
		}
		d = stock.ResourceDefaults{Resource: resource}
	}

	if rj.Name != "" {
		d.Name = rj.Name
	}
	if rj.Unit != "" {
		d.Unit = rj.Unit
	}
	if rj.Icon != "" {
		d.Icon = rj.Icon
	}
	if rj.ShelterTarget != nil {
		if *rj.ShelterTarget < 0 {
			return stock.ResourceDefaults{}, fmt.Errorf("%s: shelter_target cannot be negative", resource)
		}
		d.ShelterTarget = decimal.NewFromFloat(*rj.ShelterTarget)
	}

	if len(rj.Seed) > 0 {
		seed := make(map[stock.Tier]decimal.Decimal, len(d.Seed)+len(rj.Seed))
		for t, q := range d.Seed {
			seed[t] = q
		}
		for raw, q := range rj.Seed {
			tier, err := stock.ParseTier(raw)
			if err != nil {
				return stock.ResourceDefaults{}, fmt.Errorf("%s: %w", resource, err)
			}
			if q < 0 {
				return stock.ResourceDefaults{}, fmt.Errorf("%s: seed for %s cannot be negative", resource, tier)
			}
			seed[tier] = decimal.NewFromFloat(q)
		}
		d.Seed = seed
	}
	return d, nil
}

// =============================================================================
// EXPORT
// =============================================================================

// ToJSON converts a catalog back into its file representation.
func ToJSON(c *stock.Catalog) CatalogJSON {
	var cj CatalogJSON
	for _, r := range c.Resources() {
		d, _ := c.Lookup(r)
		target := d.ShelterTarget.InexactFloat64()
		rj := ResourceJSON{
			ResourceType:  string(d.Resource),
			Name:          d.Name,
			Unit:          d.Unit,
			Icon:          d.Icon,
			ShelterTarget: &target,
		}
		if len(d.Seed) > 0 {
			rj.Seed = make(map[string]float64, len(d.Seed))
			for t, q := range d.Seed {
				rj.Seed[string(t)] = q.InexactFloat64()
			}
		}
		cj.Resources = append(cj.Resources, rj)
	}
	return cj
}
