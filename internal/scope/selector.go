package scope

import (
	"fmt"

	"github.com/hward/marketboard/internal/model"
)

// Kind discriminates the three selector variants.
type Kind uint8

const (
	KindWorld Kind = iota + 1
	KindDatacenter
	KindRegion
)

func (k Kind) String() string {
	switch k {
	case KindWorld:
		return "world"
	case KindDatacenter:
		return "datacenter"
	case KindRegion:
		return "region"
	}
	return "unknown"
}

// Selector names a world, datacenter, or region and stands for everything at
// or below that scope. It is comparable and used as a cache/query key
// throughout the core.
type Selector struct {
	Kind Kind
	ID   int32
}

// SelectWorld returns a selector for a single world.
func SelectWorld(id model.WorldID) Selector {
	return Selector{Kind: KindWorld, ID: int32(id)}
}

// SelectDatacenter returns a selector covering every world in a datacenter.
func SelectDatacenter(id model.DatacenterID) Selector {
	return Selector{Kind: KindDatacenter, ID: int32(id)}
}

// SelectRegion returns a selector covering every world in a region.
func SelectRegion(id model.RegionID) Selector {
	return Selector{Kind: KindRegion, ID: int32(id)}
}

func (s Selector) String() string {
	return fmt.Sprintf("%s(%d)", s.Kind, s.ID)
}
