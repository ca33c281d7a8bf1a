// Package sstriping implements the single-striping placement engine:
// building the extent table for a heterogeneous group of rdevs,
// allocating/freeing extents for zones, and translating zone-relative
// sectors to physical (rdev, sector) pairs.
package sstriping

import (
	"errors"
	"sort"

	"exanodes.dev/vrt/units"
	"exanodes.dev/vrt/uuid"
)

var (
	ErrNoSpace      = errors.New("sstriping: not enough free capacity")
	ErrOutOfRange   = errors.New("sstriping: sector out of range")
	ErrBadExtent    = errors.New("sstriping: extent index out of range")
)

// RdevCapacity is one rdev's identity and usable capacity, expressed in
// whole UEs (the caller has already subtracted the reserved metadata
// area before calling BuildExtentTable).
type RdevCapacity struct {
	UUID   uuid.UUID
	UEs    uint64
}

// Extent is one row of the striping grid: a rectangular region spanning
// Width rdevs and Height UEs tall. It is "free" until referenced by a
// zone's plage list.
type Extent struct {
	StripeStart uint64
	StripeEnd   uint64 // inclusive
	Width       uint32
	Free        bool
}

// Height returns StripeEnd - StripeStart + 1.
func (e Extent) Height() uint64 {
	return e.StripeEnd - e.StripeStart + 1
}

// UEs returns the total number of UEs of zone-logical address space this
// extent contributes: Height * Width.
func (e Extent) UEs() uint64 {
	return e.Height() * uint64(e.Width)
}

// ExtentIndex is an index into a Table's Extents slice.
type ExtentIndex int

// Table is the full extent table for one group: the sorted device list
// (ascending by capacity) and the staircase of extents built over it.
type Table struct {
	SortedDevs []uuid.UUID // ascending by capacity
	Extents    []Extent

	capaUsedUE map[uuid.UUID]uint64
}

// BuildExtentTable computes the full staircase of extents for a set of
// rdevs: devices are sorted ascending by capacity, and the stripe axis
// is walked upward with a descending-width staircase,
// narrowing by one device every time the next row would pass the top of
// the smallest still-participating device.
func BuildExtentTable(devs []RdevCapacity) *Table {
	sorted := make([]RdevCapacity, len(devs))
	copy(sorted, devs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UEs < sorted[j].UEs })

	t := &Table{
		SortedDevs: make([]uuid.UUID, len(sorted)),
		capaUsedUE: make(map[uuid.UUID]uint64),
	}
	for i, d := range sorted {
		t.SortedDevs[i] = d.UUID
		t.capaUsedUE[d.UUID] = 0
	}

	n := len(sorted)
	if n == 0 {
		return t
	}

	width := uint32(n)
	activeIdx := 0
	stripe := uint64(0)

	for width > 0 {
		limit := sorted[activeIdx].UEs
		if limit <= stripe {
			activeIdx++
			width--
			continue
		}

		height := units.CeilDiv(units.UEsPerPage, uint64(width))
		rowEnd := stripe + height - 1

		if rowEnd >= limit {
			rowEnd = limit - 1
			h := rowEnd - stripe + 1
			if h > 0 {
				t.addExtent(stripe, rowEnd, width)
			}
			stripe = limit
			activeIdx++
			width--
		} else {
			t.addExtent(stripe, rowEnd, width)
			stripe = rowEnd + 1
		}
	}

	return t
}

func (t *Table) addExtent(start, end uint64, width uint32) {
	t.Extents = append(t.Extents, Extent{
		StripeStart: start,
		StripeEnd:   end,
		Width:       width,
		Free:        true,
	})
}

// devsForExtent returns the Width physical rdevs an extent stripes
// across: the Width largest devices, i.e. SortedDevs[n-width:n].
func (t *Table) devsForExtent(e Extent) []uuid.UUID {
	n := len(t.SortedDevs)
	return t.SortedDevs[n-int(e.Width) : n]
}

// CapaUsedKB returns the capacity, in KiB, attributed to dev across all
// non-free extents that reference it.
func (t *Table) CapaUsedKB(dev uuid.UUID) uint64 {
	return t.capaUsedUE[dev] * units.UESize / 1024
}

func (t *Table) addUsage(e Extent) {
	h := e.Height()
	for _, d := range t.devsForExtent(e) {
		t.capaUsedUE[d] += h
	}
}

func (t *Table) removeUsage(e Extent) {
	h := e.Height()
	for _, d := range t.devsForExtent(e) {
		t.capaUsedUE[d] -= h
	}
}
