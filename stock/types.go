/*
Package stock provides the hierarchical inventory model and the allocation ledger.

PURPOSE:
  Tracks resource quantities at every level of the relief hierarchy
  (national → province → district → shelter) and moves them between levels.
  Every allocation made by any tier, and every approved suggestion, goes
  through the same Ledger.Transfer primitive.

KEY CONCEPTS IN THIS FILE (types.go):
  - NodeKey: Which tier a stock node lives at, and who owns it
  - Node: A quantity of one resource type at one NodeKey
  - AllocationRecord: Immutable audit entry for one executed movement

DESIGN PRINCIPLES:
  1. Explicit hierarchy: a tagged NodeKey instead of nullable owner columns
  2. Precision: decimal.Decimal for every quantity
  3. Conservation: a transfer removes from the source exactly what it adds
     to the destination
  4. Auditability: every movement leaves an append-only AllocationRecord

USAGE:
  key := stock.ProvinceKey("prov-01")
  rec, err := ledger.Transfer(ctx, stock.TransferRequest{
      Resource:    stock.ResourceWater,
      Source:      stock.NationalKey(),
      Destination: key,
      Quantity:    decimal.NewFromInt(5000),
  })

SEE ALSO:
  - ledger.go: Transfer and Receive
  - status.go: Derived status per tier
  - resource.go: Per-resource defaults used for auto-provisioning
  - store.go: Persistence interfaces
*/
package stock

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESOURCE TYPES
// =============================================================================

// ResourceType identifies a kind of relief supply.
type ResourceType string

const (
	ResourceFood    ResourceType = "food"
	ResourceWater   ResourceType = "water"
	ResourceMedical ResourceType = "medical"
	ResourceShelter ResourceType = "shelter"
)

func (r ResourceType) String() string { return string(r) }

// =============================================================================
// HIERARCHY
// =============================================================================

// Tier is one level of the national → province → district → shelter hierarchy.
type Tier string

const (
	TierNational Tier = "national"
	TierProvince Tier = "province"
	TierDistrict Tier = "district"
	TierShelter  Tier = "shelter"
)

// Level returns the depth of the tier, national being 0.
// Unknown tiers return -1.
func (t Tier) Level() int {
	switch t {
	case TierNational:
		return 0
	case TierProvince:
		return 1
	case TierDistrict:
		return 2
	case TierShelter:
		return 3
	default:
		return -1
	}
}

func (t Tier) Valid() bool { return t.Level() >= 0 }

// ParseTier converts a string to a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

// NodeKey locates a stock node in the hierarchy.
// OwnerID is empty for the national tier and required for every other tier.
type NodeKey struct {
	Tier    Tier
	OwnerID string
}

func NationalKey() NodeKey { return NodeKey{Tier: TierNational} }
func ProvinceKey(id string) NodeKey { return NodeKey{Tier: TierProvince, OwnerID: id} }
func DistrictKey(id string) NodeKey { return NodeKey{Tier: TierDistrict, OwnerID: id} }
func ShelterKey(id string) NodeKey { return NodeKey{Tier: TierShelter, OwnerID: id} }

// Validate checks the tier/owner combination.
func (k NodeKey) Validate() error {
	if !k.Tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, k.Tier)
	}
	if k.Tier == TierNational && k.OwnerID != "" {
		return fmt.Errorf("%w: national node cannot have an owner", ErrInvalidNodeKey)
	}
	if k.Tier != TierNational && k.OwnerID == "" {
		return fmt.Errorf("%w: %s node requires an owner", ErrInvalidNodeKey, k.Tier)
	}
	return nil
}

func (k NodeKey) String() string {
	if k.Tier == TierNational {
		return string(TierNational)
	}
	return string(k.Tier) + ":" + k.OwnerID
}

// =============================================================================
// NODE - Quantity of one resource at one point in the hierarchy
// =============================================================================

// Status is the derived utilization label of a node.
// Labels differ per tier; see status.go.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusLow       Status = "LOW"
	StatusCritical  Status = "CRITICAL"
	StatusAllocated Status = "ALLOCATED"

	// District tier labels
	StatusLimited Status = "LIMITED"
	StatusFull    Status = "FULL"

	// Shelter nodes track SupplyLevel instead of a utilization status.
	StatusSupplied Status = "SUPPLIED"
)

// Node is a resource quantity at one point in the hierarchy.
//
// Quantity is what is on hand. Allocated is the cumulative amount this node
// has sent downstream. Available() is Quantity - Allocated, floored at zero.
type Node struct {
	ID        string
	Resource  ResourceType
	Key       NodeKey
	Name      string
	Unit      string
	Icon      string
	Quantity  decimal.Decimal
	Allocated decimal.Decimal
	Status    Status

	// SupplyLevel is the 0-100 supply percentage, shelter tier only.
	SupplyLevel int

	// Version is incremented on every write and checked on update.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the quantity that may still be transferred out.
func (n Node) Available() decimal.Decimal {
	avail := n.Quantity.Sub(n.Allocated)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// =============================================================================
// ALLOCATION RECORD - Immutable audit entry
// =============================================================================

type RecordKind string

const (
	KindTransfer RecordKind = "transfer" // movement between two tiers
	KindIntake   RecordKind = "intake"   // stock received from outside the hierarchy
)

// AllocationRecord is written exactly once per successful movement.
// Source is nil for intake records.
type AllocationRecord struct {
	ID             string
	Kind           RecordKind
	Resource       ResourceType
	Source         *NodeKey
	Destination    NodeKey
	Quantity       decimal.Decimal
	Note           string
	ActorID        string
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}
