package sstriping

import "exanodes.dev/vrt/units"

// PhysicalLocation is the result of translating a zone-relative sector:
// the owning rdev and the sector offset within it.
type PhysicalLocation struct {
	Rdev   RdevSlot
	Sector uint64
}

// RdevSlot identifies a physical rdev by its position in the group's
// sorted-by-capacity device table.
type RdevSlot int

// Translate maps a zone-relative sector zs to a physical (rdev, sector)
// pair. Because the mapping is per-UE, a bio confined to a single
// UE-aligned 16 KiB window always lies on one rdev; splitting any wider
// bio at UE boundaries is the caller's responsibility.
func (t *Table) Translate(z *Zone, zs uint64) (PhysicalLocation, error) {
	ueInZone := zs / units.SectorsPerUE
	offsetInUE := zs % units.SectorsPerUE

	idx, ueInExtent, err := t.locate(z, ueInZone)
	if err != nil {
		return PhysicalLocation{}, err
	}

	e := t.Extents[idx]
	col := ueInExtent % uint64(e.Width)
	rowOffset := ueInExtent / uint64(e.Width)
	ueInRdev := e.StripeStart + rowOffset

	slot := RdevSlot(len(t.SortedDevs) - int(e.Width) + int(col))

	return PhysicalLocation{
		Rdev:   slot,
		Sector: ueInRdev*units.SectorsPerUE + offsetInUE,
	}, nil
}

// locate finds which extent in z.Plages contains the ueInZone-th UE of
// the zone's logical address space, and the UE's offset within that
// extent. Extents are visited in plage order, each contributing exactly
// Extent.UEs() UEs of logical space: this generalizes the simpler
// "page_index = ue_in_zone / UEs_per_page" formula to extents that are
// not exactly one page wide (the staircase's final row in each width
// band, clipped at a device's capacity, can be shorter); when every
// extent is a full page the two formulas agree exactly.
func (t *Table) locate(z *Zone, ueInZone uint64) (ExtentIndex, uint64, error) {
	remaining := ueInZone
	for _, idx := range z.Plages {
		n := t.Extents[idx].UEs()
		if remaining < n {
			return idx, remaining, nil
		}
		remaining -= n
	}
	return 0, 0, ErrOutOfRange
}

// InverseTranslate recovers the zone-relative sector that maps to a
// given physical location; Translate and InverseTranslate must agree in
// both directions for every in-range address. It scans z's plages for
// an extent whose (StripeStart..StripeEnd, devices)
// could contain loc; the search is linear in the zone's plage count,
// which is expected to be small.
func (t *Table) InverseTranslate(z *Zone, loc PhysicalLocation) (uint64, error) {
	ueInRdev := loc.Sector / units.SectorsPerUE
	offsetInUE := loc.Sector % units.SectorsPerUE

	var base uint64
	for _, idx := range z.Plages {
		e := t.Extents[idx]
		if ueInRdev < e.StripeStart || ueInRdev > e.StripeEnd {
			base += e.UEs()
			continue
		}

		col := int(loc.Rdev) - (len(t.SortedDevs) - int(e.Width))
		if col < 0 || col >= int(e.Width) {
			base += e.UEs()
			continue
		}

		rowOffset := ueInRdev - e.StripeStart
		ueInExtent := rowOffset*uint64(e.Width) + uint64(col)

		return (base+ueInExtent)*units.SectorsPerUE + offsetInUE, nil
	}

	return 0, ErrOutOfRange
}
