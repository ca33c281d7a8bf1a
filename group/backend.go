package group

import (
	"log/slog"

	"exanodes.dev/vrt/diskio"
	"exanodes.dev/vrt/pipeline"
	"exanodes.dev/vrt/sstriping"
	"exanodes.dev/vrt/units"
)

// PipelineDeps bundles the shared infrastructure ZoneStart wires a
// zone's request pipeline against: one diskio.Pool and pipeline.Config
// are shared across every zone on a node, so callers build this once
// per daemon (or per test) rather than per zone.
type PipelineDeps struct {
	Pool   *diskio.Pool
	Flags  diskio.OpenFlags
	Log    *slog.Logger
	Config pipeline.Config
}

// ZoneBackend implements pipeline.BlockBackend for one started zone: it
// splits an incoming request at UE boundaries, translates each span
// through the group's placement table, and issues the resulting
// physical I/O against the owning rdev's handle, borrowed from a
// shared diskio.Pool.
type ZoneBackend struct {
	g     *Group
	z     *Zone
	pool  *diskio.Pool
	flags diskio.OpenFlags
}

var _ pipeline.BlockBackend = (*ZoneBackend)(nil)

// NewZoneBackend builds the backend a zone's Pipeline dispatches
// against.
func NewZoneBackend(g *Group, z *Zone, pool *diskio.Pool, flags diskio.OpenFlags) *ZoneBackend {
	return &ZoneBackend{g: g, z: z, pool: pool, flags: flags}
}

// ReadAt implements pipeline.BlockBackend.
func (b *ZoneBackend) ReadAt(buf []byte, offset int64) error {
	return b.eachSpan(buf, offset, func(h *diskio.Handle, sub []byte, physOff int64) error {
		return h.ReadAt(sub, physOff)
	})
}

// WriteAt implements pipeline.BlockBackend.
func (b *ZoneBackend) WriteAt(buf []byte, offset int64) error {
	return b.eachSpan(buf, offset, func(h *diskio.Handle, sub []byte, physOff int64) error {
		return h.WriteAt(sub, physOff)
	})
}

// Sync flushes every rdev the zone is striped across. The pipeline
// calls Sync once per barrier write rather than once per rdev a write
// actually touched, so the simplest correct thing is to flush the
// whole group.
func (b *ZoneBackend) Sync() error {
	var err error
	for _, devUUID := range b.g.table.SortedDevs {
		r := b.g.RdevByUUID(devUUID)
		if r == nil || r.Path == "" {
			continue
		}
		h, getErr := b.pool.Get(r.Path, b.flags)
		if getErr != nil {
			err = getErr
			continue
		}
		if syncErr := h.Sync(); syncErr != nil {
			err = syncErr
		}
	}
	return err
}

// eachSpan splits [offset, offset+len(buf)) at UE boundaries, translates
// each resulting span through the zone's placement, and calls do once
// per span with the rdev handle, the matching sub-slice of buf, and the
// physical byte offset within that rdev.
func (b *ZoneBackend) eachSpan(buf []byte, offset int64, do func(h *diskio.Handle, sub []byte, physOff int64) error) error {
	startSector := uint64(offset) / units.SectorSize
	count := uint32(len(buf)) / units.SectorSize

	var pos uint32
	for _, span := range sstriping.SplitByUE(startSector, count) {
		loc, err := b.g.table.Translate(&b.z.placement, span.StartSector)
		if err != nil {
			return err
		}

		devUUID := b.g.table.SortedDevs[loc.Rdev]
		r := b.g.RdevByUUID(devUUID)
		if r == nil || r.Path == "" {
			return ErrUnreachable
		}

		h, err := b.pool.Get(r.Path, b.flags)
		if err != nil {
			return err
		}

		lo := pos * units.SectorSize
		hi := (pos + span.Count) * units.SectorSize
		physOff := int64(loc.Sector) * units.SectorSize

		if err := do(h, buf[lo:hi], physOff); err != nil {
			return err
		}
		pos += span.Count
	}
	return nil
}
