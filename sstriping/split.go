package sstriping

import "exanodes.dev/vrt/units"

// Span is a zone-relative sector run guaranteed to lie within a single
// UE, the unit Translate resolves to exactly one physical rdev.
type Span struct {
	StartSector uint64
	Count       uint32
}

// SplitByUE breaks a zone-relative sector range into the per-UE spans
// Translate expects. Translate only ever maps one UE's worth of
// address space to a single rdev, so a request wider than (or
// misaligned with) a UE must be split at every UE boundary it crosses
// before each piece is translated and dispatched, each potentially to
// a different rdev.
func SplitByUE(startSector uint64, count uint32) []Span {
	if count == 0 {
		return nil
	}

	var spans []Span
	sector := startSector
	remaining := count

	for remaining > 0 {
		ueBoundary := (sector/units.SectorsPerUE + 1) * units.SectorsPerUE
		maxInUE := uint32(ueBoundary - sector)

		n := remaining
		if n > maxInUE {
			n = maxInUE
		}

		spans = append(spans, Span{StartSector: sector, Count: n})
		sector += uint64(n)
		remaining -= n
	}

	return spans
}
