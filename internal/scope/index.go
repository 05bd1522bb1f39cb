// Package scope resolves names and ids across the world/datacenter/region
// hierarchy. The Index is built once from an externally supplied world list
// and is read-only afterwards; reconfiguration means building a new Index and
// swapping the handle, never mutating in place.
package scope

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hward/marketboard/internal/model"
)

// ErrNotFound is returned for names and ids absent from the index. It is a
// normal result for caller-supplied input, not an anomaly.
var ErrNotFound = errors.New("scope: not found")

// WorldSeed is one row of the externally supplied world list.
type WorldSeed struct {
	ID             model.WorldID
	Name           string
	Datacenter     model.DatacenterID
	DatacenterName string
	Region         model.RegionID
	RegionName     string
}

// World is a resolved world entry.
type World struct {
	ID         model.WorldID
	Name       string
	Datacenter model.DatacenterID
}

// Datacenter is a resolved datacenter entry.
type Datacenter struct {
	ID     model.DatacenterID
	Name   string
	Region model.RegionID
}

// Region is a resolved region entry.
type Region struct {
	ID   model.RegionID
	Name string
}

// Index is the immutable scope hierarchy. All lookups are pure map reads and
// safe for unsynchronized concurrent use.
type Index struct {
	worlds      map[model.WorldID]World
	datacenters map[model.DatacenterID]Datacenter
	regions     map[model.RegionID]Region

	dcWorlds     map[model.DatacenterID][]model.WorldID
	regionWorlds map[model.RegionID][]model.WorldID

	// Case-sensitive exact-match name lookup across all three kinds.
	names map[string]Selector
}

// NewIndex builds an Index from a raw world list. The list must form a strict
// tree: every world in exactly one datacenter, every datacenter in exactly one
// region, no duplicate ids or names. A malformed list is a construction
// error; the process must not start with a broken index.
func NewIndex(seeds []WorldSeed) (*Index, error) {
	if len(seeds) == 0 {
		return nil, errors.New("scope: empty world list")
	}

	idx := &Index{
		worlds:       make(map[model.WorldID]World, len(seeds)),
		datacenters:  make(map[model.DatacenterID]Datacenter),
		regions:      make(map[model.RegionID]Region),
		dcWorlds:     make(map[model.DatacenterID][]model.WorldID),
		regionWorlds: make(map[model.RegionID][]model.WorldID),
		names:        make(map[string]Selector),
	}

	for _, s := range seeds {
		if s.Name == "" || s.DatacenterName == "" || s.RegionName == "" {
			return nil, fmt.Errorf("scope: world %d has empty name fields", s.ID)
		}

		if _, dup := idx.worlds[s.ID]; dup {
			return nil, fmt.Errorf("scope: duplicate world id %d", s.ID)
		}

		if existing, ok := idx.datacenters[s.Datacenter]; ok {
			if existing.Name != s.DatacenterName || existing.Region != s.Region {
				return nil, fmt.Errorf("scope: datacenter %d is inconsistent across worlds", s.Datacenter)
			}
		} else {
			idx.datacenters[s.Datacenter] = Datacenter{ID: s.Datacenter, Name: s.DatacenterName, Region: s.Region}
		}

		if existing, ok := idx.regions[s.Region]; ok {
			if existing.Name != s.RegionName {
				return nil, fmt.Errorf("scope: region %d is inconsistent across worlds", s.Region)
			}
		} else {
			idx.regions[s.Region] = Region{ID: s.Region, Name: s.RegionName}
		}

		idx.worlds[s.ID] = World{ID: s.ID, Name: s.Name, Datacenter: s.Datacenter}
		idx.dcWorlds[s.Datacenter] = append(idx.dcWorlds[s.Datacenter], s.ID)
		idx.regionWorlds[s.Region] = append(idx.regionWorlds[s.Region], s.ID)
	}

	// Name map last, so duplicate-name detection sees the final entity set.
	for id, w := range idx.worlds {
		if err := idx.addName(w.Name, SelectWorld(id)); err != nil {
			return nil, err
		}
	}
	for id, dc := range idx.datacenters {
		if err := idx.addName(dc.Name, SelectDatacenter(id)); err != nil {
			return nil, err
		}
	}
	for id, r := range idx.regions {
		if err := idx.addName(r.Name, SelectRegion(id)); err != nil {
			return nil, err
		}
	}

	// Deterministic child ordering keeps fold results and logs stable.
	for _, worlds := range idx.dcWorlds {
		sort.Slice(worlds, func(i, j int) bool { return worlds[i] < worlds[j] })
	}
	for _, worlds := range idx.regionWorlds {
		sort.Slice(worlds, func(i, j int) bool { return worlds[i] < worlds[j] })
	}

	return idx, nil
}

func (idx *Index) addName(name string, sel Selector) error {
	if prev, dup := idx.names[name]; dup {
		return fmt.Errorf("scope: name %q claimed by both %s and %s", name, prev, sel)
	}
	idx.names[name] = sel
	return nil
}

// ResolveName returns the selector for an exact, case-sensitive entity name.
func (idx *Index) ResolveName(name string) (Selector, error) {
	sel, ok := idx.names[name]
	if !ok {
		return Selector{}, ErrNotFound
	}
	return sel, nil
}

// Name returns the display name of the entity a selector points at.
func (idx *Index) Name(sel Selector) (string, error) {
	switch sel.Kind {
	case KindWorld:
		if w, ok := idx.worlds[model.WorldID(sel.ID)]; ok {
			return w.Name, nil
		}
	case KindDatacenter:
		if dc, ok := idx.datacenters[model.DatacenterID(sel.ID)]; ok {
			return dc.Name, nil
		}
	case KindRegion:
		if r, ok := idx.regions[model.RegionID(sel.ID)]; ok {
			return r.Name, nil
		}
	}
	return "", ErrNotFound
}

// World returns the world entry for an id.
func (idx *Index) World(id model.WorldID) (World, error) {
	w, ok := idx.worlds[id]
	if !ok {
		return World{}, ErrNotFound
	}
	return w, nil
}

// ParentDatacenter returns the datacenter a world belongs to.
func (idx *Index) ParentDatacenter(id model.WorldID) (Datacenter, error) {
	w, ok := idx.worlds[id]
	if !ok {
		return Datacenter{}, ErrNotFound
	}
	dc, ok := idx.datacenters[w.Datacenter]
	if !ok {
		return Datacenter{}, ErrNotFound
	}
	return dc, nil
}

// ParentRegion returns the region a datacenter belongs to.
func (idx *Index) ParentRegion(id model.DatacenterID) (Region, error) {
	dc, ok := idx.datacenters[id]
	if !ok {
		return Region{}, ErrNotFound
	}
	r, ok := idx.regions[dc.Region]
	if !ok {
		return Region{}, ErrNotFound
	}
	return r, nil
}

// RegionOf returns the region containing whatever a selector points at.
func (idx *Index) RegionOf(sel Selector) (Region, error) {
	switch sel.Kind {
	case KindWorld:
		dc, err := idx.ParentDatacenter(model.WorldID(sel.ID))
		if err != nil {
			return Region{}, err
		}
		return idx.ParentRegion(dc.ID)
	case KindDatacenter:
		return idx.ParentRegion(model.DatacenterID(sel.ID))
	case KindRegion:
		if r, ok := idx.regions[model.RegionID(sel.ID)]; ok {
			return r, nil
		}
	}
	return Region{}, ErrNotFound
}

// Worlds expands a selector down to the concrete worlds beneath it. World
// selectors expand to themselves. The returned slice is shared and must not
// be mutated by callers.
func (idx *Index) Worlds(sel Selector) ([]model.WorldID, error) {
	switch sel.Kind {
	case KindWorld:
		id := model.WorldID(sel.ID)
		if _, ok := idx.worlds[id]; ok {
			return []model.WorldID{id}, nil
		}
	case KindDatacenter:
		if worlds, ok := idx.dcWorlds[model.DatacenterID(sel.ID)]; ok {
			return worlds, nil
		}
	case KindRegion:
		if worlds, ok := idx.regionWorlds[model.RegionID(sel.ID)]; ok {
			return worlds, nil
		}
	}
	return nil, ErrNotFound
}

// AllWorlds returns every world in the index, sorted by id.
func (idx *Index) AllWorlds() []World {
	worlds := make([]World, 0, len(idx.worlds))
	for _, w := range idx.worlds {
		worlds = append(worlds, w)
	}
	sort.Slice(worlds, func(i, j int) bool { return worlds[i].ID < worlds[j].ID })
	return worlds
}
