package sstriping

import "exanodes.dev/vrt/units"

// Zone is the placement-engine's view of a zone: an ordered list of
// extent indices whose concatenation is the zone's address space.
type Zone struct {
	Plages []ExtentIndex
}

// SizeUE returns the zone's total logical size in UEs: the sum of the
// UE count of every extent it references.
func (t *Table) SizeUE(z *Zone) uint64 {
	var total uint64
	for _, idx := range z.Plages {
		total += t.Extents[idx].UEs()
	}
	return total
}

// SizeKB returns the zone's total logical size in KiB.
func (t *Table) SizeKB(z *Zone) uint64 {
	return t.SizeUE(z) * units.UESize / 1024
}

// Allocate grows z by whole free extents, taken in table order, until
// the zone holds at least needKB additional KiB of capacity. It does not
// split extents: the zone's actual size may end up slightly larger than
// requested, rounded up to the next extent boundary.
func (t *Table) Allocate(z *Zone, needKB uint64) error {
	needUE := units.CeilDiv(needKB*1024, units.UESize)

	var gotUE uint64
	var picked []ExtentIndex

	for i := range t.Extents {
		if gotUE >= needUE {
			break
		}
		if !t.Extents[i].Free {
			continue
		}
		picked = append(picked, ExtentIndex(i))
		gotUE += t.Extents[i].UEs()
	}

	if gotUE < needUE {
		return ErrNoSpace
	}

	for _, idx := range picked {
		t.Extents[idx].Free = false
		t.addUsage(t.Extents[idx])
	}
	z.Plages = append(z.Plages, picked...)

	return nil
}

// Free releases n whole extents from the tail of z's plage list back to
// the free pool, used by shrink-resize and zone deletion. It releases
// extents (not sectors) so the caller must ensure the resulting size is
// acceptable.
func (t *Table) Free(z *Zone, n int) {
	if n > len(z.Plages) {
		n = len(z.Plages)
	}

	cut := len(z.Plages) - n
	for _, idx := range z.Plages[cut:] {
		t.Extents[idx].Free = true
		t.removeUsage(t.Extents[idx])
	}
	z.Plages = z.Plages[:cut]
}

// FreeAll releases every extent z references, used by zone_delete.
func (t *Table) FreeAll(z *Zone) {
	t.Free(z, len(z.Plages))
}

// Resize grows or shrinks z to approximately newSizeKB: growing appends
// newly allocated free extents; shrinking truncates and frees the
// tail. The new size becomes visible to callers
// atomically (the Plages slice is only mutated after allocation/freeing
// of the underlying extents succeeds).
func (t *Table) Resize(z *Zone, newSizeKB uint64) error {
	cur := t.SizeKB(z)

	switch {
	case newSizeKB > cur:
		return t.Allocate(z, newSizeKB-cur)
	case newSizeKB < cur:
		// Free extents from the tail until size drops to or below
		// newSizeKB; since extents aren't split this may overshoot
		// slightly below newSizeKB, matching Allocate's "rounds to an
		// extent boundary" behavior in the other direction.
		for len(z.Plages) > 0 && t.SizeKB(z) > newSizeKB {
			t.Free(z, 1)
		}
		return nil
	default:
		return nil
	}
}
