package group

import (
	"exanodes.dev/vrt/multierror"
	"exanodes.dev/vrt/pipeline"
	"exanodes.dev/vrt/sstriping"
	"exanodes.dev/vrt/uuid"
)

// RdevSpec is the caller-supplied description of a disk to add to a new
// group: its identity and raw (pre-reserve) size.
type RdevSpec struct {
	UUID   uuid.UUID
	Path   string
	SizeKB uint64
	NodeID uint32
}

// Create implements group_create: validates the rdev set, builds the
// placement table, and registers the new group. The group starts idle;
// a caller must Start it before zones can be created.
func Create(reg *Registry, name string, rdevs []RdevSpec, now uint32) (*Group, error) {
	if name == "" {
		return nil, ErrNameTaken
	}
	if len(rdevs) == 0 {
		return nil, ErrTooFewRdevs
	}

	gUUID, err := uuid.New()
	if err != nil {
		return nil, err
	}

	g := &Group{
		UUID:       gUUID,
		Name:       name,
		Layout:     1, // sb.LayoutSStriping; this package does not import sb
		CreateTime: now,
		UpdateTime: now,
	}

	caps := make([]sstriping.RdevCapacity, 0, len(rdevs))
	var verr error

	for _, spec := range rdevs {
		r := &Rdev{
			UUID:   spec.UUID,
			Path:   spec.Path,
			SizeKB: spec.SizeKB,
			State:  RdevOK,
			NodeID: spec.NodeID,
		}
		if r.UsableKB()*1024 < MinRdevSize {
			if verr == nil {
				verr = ErrRdevTooSmall
			} else {
				verr = multierror.Append(verr, ErrRdevTooSmall)
			}
			continue
		}
		g.Rdevs = append(g.Rdevs, r)
		caps = append(caps, sstriping.RdevCapacity{
			UUID: r.UUID,
			UEs:  r.UsableKB() * 1024 / 16384,
		})
	}
	if verr != nil {
		return nil, verr
	}

	g.table = sstriping.BuildExtentTable(caps)

	if err := reg.register(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Start implements group_start: a group transitions idle -> active once
// every one of its rdevs is reachable (state OK). A group with any
// broken or missing rdev cannot start, reported as ErrUnreachable.
//
// isBroken, if non-nil, is consulted in addition to each rdev's local
// State: it lets a caller wire in the cluster-wide broken-disk table
// (brokentable.Table.IsBroken) so a disk another node already reported
// broken blocks Start even before this node's own health monitor has
// caught up and flipped the rdev's local State itself.
func Start(g *Group, isBroken func(uuid.UUID) bool) error {
	for _, r := range g.Rdevs {
		if isBroken != nil && isBroken(r.UUID) {
			r.Broken = true
			return ErrUnreachable
		}
		if r.State != RdevOK {
			return ErrUnreachable
		}
	}
	g.Active = true
	return nil
}

// Stop implements group_stop: a group can only go active -> idle once
// every zone it owns is idle (stopped).
func Stop(g *Group) error {
	for _, z := range g.Zones {
		if z.State == ZoneActive {
			return ErrGroupNotIdle
		}
	}
	g.Active = false
	return nil
}

// ZoneCreate implements zone_create: allocates sizeKB of capacity from
// the group's placement table and registers a new idle zone.
func ZoneCreate(g *Group, name string, sizeKB uint64, now uint32) (*Zone, error) {
	if !g.Active {
		return nil, ErrGroupNotStarted
	}
	if sizeKB == 0 {
		return nil, ErrInvalidSize
	}
	if name == "" || g.ZoneByName(name) != nil {
		return nil, ErrNameTaken
	}

	zUUID, err := uuid.New()
	if err != nil {
		return nil, err
	}

	z := &Zone{
		UUID: zUUID,
		Name: name,
		Mode: ReadWrite,
	}

	if err := g.table.Allocate(&z.placement, sizeKB); err != nil {
		return nil, err
	}
	z.SizeKB = g.table.SizeKB(&z.placement)
	g.UpdateTime = now

	g.Zones = append(g.Zones, z)
	return z, nil
}

// ZoneStart implements zone_start: idle -> active, assigning the zone a
// device minor and wiring its request pipeline to deps.Pool so
// submitted bios are translated through the group's placement table and
// dispatched as physical I/O. minors are 1-based: a zone gets one more
// than the highest minor held by an active zone of the group (1 if none).
// They are not persisted across restarts.
func ZoneStart(g *Group, z *Zone, mode AccessMode, deps PipelineDeps) error {
	if !g.Active {
		return ErrGroupNotStarted
	}
	if z.State == ZoneActive {
		return ErrZoneNotIdle
	}

	minor := 1
	for _, other := range g.Zones {
		if other.State == ZoneActive && other.Minor >= minor {
			minor = other.Minor + 1
		}
	}

	backend := NewZoneBackend(g, z, deps.Pool, deps.Flags)
	pl, err := pipeline.New(deps.Log, backend, deps.Config)
	if err != nil {
		return err
	}
	if err := pl.RegisterMinor(minor); err != nil {
		pl.Close()
		return err
	}

	z.Mode = mode
	z.Minor = minor
	z.State = ZoneActive
	z.pl = pl
	return nil
}

// ZoneStop implements zone_stop: active -> idle, draining and closing
// the zone's pipeline and releasing the minor.
func ZoneStop(z *Zone) error {
	if z.State != ZoneActive {
		return ErrZoneNotStarted
	}

	if z.pl != nil {
		if err := z.pl.StopMinor(z.Minor); err != nil {
			return err
		}
		z.pl.Close()
		z.pl = nil
	}

	z.State = ZoneIdle
	z.Minor = 0
	return nil
}

// ZoneResize implements zone_resize: grows or shrinks a zone's
// allocation in place. The zone must be idle so the placement cache and
// any in-flight I/O never observe a half-resized extent list.
func ZoneResize(g *Group, z *Zone, newSizeKB uint64, now uint32) error {
	if z.State != ZoneIdle {
		return ErrZoneNotIdle
	}
	if newSizeKB == 0 {
		return ErrInvalidSize
	}
	if err := g.table.Resize(&z.placement, newSizeKB); err != nil {
		return err
	}
	z.SizeKB = g.table.SizeKB(&z.placement)
	g.UpdateTime = now
	return nil
}

// ZoneDelete implements zone_delete: frees the zone's extents back to
// the group's free pool and removes it from the group's zone list.
func ZoneDelete(g *Group, z *Zone, now uint32) error {
	if z.State != ZoneIdle {
		return ErrZoneNotIdle
	}

	g.table.FreeAll(&z.placement)

	for i, other := range g.Zones {
		if other == z {
			g.Zones = append(g.Zones[:i], g.Zones[i+1:]...)
			break
		}
	}
	g.UpdateTime = now
	return nil
}
