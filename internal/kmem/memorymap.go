package kmem

import "sort"

// RegionType classifies a physical memory region. Higher values overwrite
// lower ones when regions are placed on top of each other.
type RegionType int

const (
	Available RegionType = iota + 1
	Unavailable
	MMIO
	Defective
)

// Region is a non-overlapping (type, base, size) triple.
type Region struct {
	Type RegionType
	Base uint64
	Size uint64
}

func (r Region) End() uint64 { return r.Base + r.Size }

func (r Region) overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// MemoryMap is a sorted, non-overlapping description of physical memory,
// seeded once at boot (spec §3 "Memory map").
//
// Grounded on original_source's MemoryMap::place: placing a higher-priority
// region over lower-priority ones trims or splits them, and adjacent
// same-type regions are merged back together afterward.
type MemoryMap struct {
	regions []Region
}

// Place inserts a new region. Where it overlaps an existing region of
// strictly lower priority, that region is trimmed or split and the new
// region wins. Where it overlaps a region of equal or higher priority, the
// existing region wins and the new region is clipped instead. Adjacent
// same-type regions are merged afterward.
func (m *MemoryMap) Place(t RegionType, base, size uint64) {
	if size == 0 {
		return
	}
	next := Region{Type: t, Base: base, Size: size}

	var kept []Region
	pieces := []Region{next}
	for _, r := range m.regions {
		if !r.overlaps(next) {
			kept = append(kept, r)
			continue
		}
		if r.Type >= t {
			kept = append(kept, r)
			pieces = subtractFromAll(pieces, r)
		} else {
			if r.Base < next.Base {
				kept = append(kept, Region{Type: r.Type, Base: r.Base, Size: next.Base - r.Base})
			}
			if r.End() > next.End() {
				kept = append(kept, Region{Type: r.Type, Base: next.End(), Size: r.End() - next.End()})
			}
		}
	}
	kept = append(kept, pieces...)

	sort.Slice(kept, func(i, j int) bool { return kept[i].Base < kept[j].Base })
	m.regions = merge(kept)
}

// subtractFromAll removes the portion of `blocker` from every region in
// pieces, returning the surviving sub-intervals (each keeping its original
// Type).
func subtractFromAll(pieces []Region, blocker Region) []Region {
	var out []Region
	for _, p := range pieces {
		out = append(out, subtract(p, blocker)...)
	}
	return out
}

func subtract(p, blocker Region) []Region {
	if !p.overlaps(blocker) {
		return []Region{p}
	}
	var out []Region
	if p.Base < blocker.Base {
		out = append(out, Region{Type: p.Type, Base: p.Base, Size: blocker.Base - p.Base})
	}
	if p.End() > blocker.End() {
		out = append(out, Region{Type: p.Type, Base: blocker.End(), Size: p.End() - blocker.End()})
	}
	return out
}

func merge(regions []Region) []Region {
	if len(regions) == 0 {
		return nil
	}
	out := []Region{regions[0]}
	for _, r := range regions[1:] {
		last := &out[len(out)-1]
		if last.Type == r.Type && last.End() == r.Base {
			last.Size += r.Size
			continue
		}
		out = append(out, r)
	}
	return out
}

// Len returns the number of regions currently in the map.
func (m *MemoryMap) Len() int { return len(m.regions) }

// At returns the region at index i.
func (m *MemoryMap) At(i int) Region { return m.regions[i] }

// Regions returns a read-only snapshot of the map's regions in ascending
// base-address order.
func (m *MemoryMap) Regions() []Region {
	out := make([]Region, len(m.regions))
	copy(out, m.regions)
	return out
}
