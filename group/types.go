// Package group implements the in-memory group/zone model: group and
// zone lifecycle and name/UUID uniqueness. A Group owns its Rdevs and
// Zones directly; zones reference extents by sstriping.ExtentIndex
// rather than by pointer, so there are no cyclic references to unwind
// on teardown.
package group

import (
	"exanodes.dev/vrt/pipeline"
	"exanodes.dev/vrt/sstriping"
	"exanodes.dev/vrt/uuid"
)

// RdevState is a real device's reachability as last observed by the
// health monitor or a recovery scan.
type RdevState int

const (
	RdevOK RdevState = iota
	RdevFail
	RdevMissing
)

func (s RdevState) String() string {
	switch s {
	case RdevOK:
		return "OK"
	case RdevFail:
		return "FAIL"
	case RdevMissing:
		return "MISSING"
	default:
		return "UNKNOWN"
	}
}

// MinRdevSize is the smallest usable capacity, in bytes, group_create
// accepts for an rdev. Create compares it against UsableKB (the size
// left after the 32 KiB tail reserve), not the raw disk size, so a disk
// needs MinRdevSize plus the reserve; a smaller one, including one with
// zero usable capacity, fails with ErrRdevTooSmall.
const MinRdevSize = 2 * 1024 * 1024 // 2 MiB

// Rdev is a real device within a Group.
type Rdev struct {
	UUID   uuid.UUID
	Path   string // discovered at boot, never used as identity
	SizeKB uint64
	State  RdevState
	Broken bool
	NodeID uint32 // immutable after group creation
}

// UsableKB is the rdev's size minus the reserved metadata area at its
// tail: the last 32 KiB of the disk is reserved, and the size is
// rounded down to a 32 KiB multiple first.
func (r *Rdev) UsableKB() uint64 {
	tailKB := uint64(32)
	sz := r.SizeKB - r.SizeKB%tailKB
	if sz < tailKB {
		return 0
	}
	return sz - tailKB
}

// ZoneState is whether a zone's block device is currently started.
type ZoneState int

const (
	ZoneIdle ZoneState = iota
	ZoneActive
)

// AccessMode is the read/write mode a zone is started under.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
)

// Zone is a logical volume carved from a Group.
type Zone struct {
	UUID   uuid.UUID
	Name   string
	SizeKB uint64
	State  ZoneState
	Mode   AccessMode
	Minor  int // 0 when not started

	placement sstriping.Zone
	pl        *pipeline.Pipeline
}

// Plages exposes the zone's extent index list, e.g. for SBZ encoding.
func (z *Zone) Plages() []sstriping.ExtentIndex {
	return z.placement.Plages
}

// Submit dispatches a bio against z's request pipeline: z must be
// active (ZoneStart must have run first).
func (z *Zone) Submit(sector uint64, count uint32, opcode pipeline.Opcode, barrier bool, data []byte) (*pipeline.Waiter, error) {
	if z.pl == nil {
		return nil, ErrZoneNotStarted
	}
	return z.pl.Submit(z.Minor, sector, count, opcode, barrier, data)
}

// Group is a set of rdevs sharing a placement layout.
type Group struct {
	UUID       uuid.UUID
	Name       string
	Layout     uint8
	CreateTime uint32
	UpdateTime uint32
	Active     bool

	Rdevs []*Rdev
	Zones []*Zone

	table *sstriping.Table
}

// RdevByUUID finds a group's rdev by UUID, or nil.
func (g *Group) RdevByUUID(u uuid.UUID) *Rdev {
	for _, r := range g.Rdevs {
		if r.UUID.Equal(u) {
			return r
		}
	}
	return nil
}

// ZoneByName finds a group's zone by name, or nil.
func (g *Group) ZoneByName(name string) *Zone {
	for _, z := range g.Zones {
		if z.Name == name {
			return z
		}
	}
	return nil
}

// UsedKB sums the capacity consumed by all zones in the group.
func (g *Group) UsedKB() uint64 {
	var total uint64
	for _, z := range g.Zones {
		total += z.SizeKB
	}
	return total
}

// UsableKB sums usable capacity across every rdev in the group.
func (g *Group) UsableKB() uint64 {
	var total uint64
	for _, r := range g.Rdevs {
		total += r.UsableKB()
	}
	return total
}
