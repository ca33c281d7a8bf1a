package sb

import (
	"encoding/binary"

	"exanodes.dev/vrt/uuid"
)

// Group layout codes. SSTRIPING is currently the only defined layout.
const (
	LayoutSStriping uint8 = 0x01
)

// Group is the decoded form of sb_group. rdev_uuid identifies the
// specific disk carrying this copy of the superblock and is the only
// field that legitimately differs between an rdev's copy and its
// siblings'.
type Group struct {
	RdevUUID     uuid.UUID
	VrtVersion   uint32
	UUID         uuid.UUID
	ThisDevUUID  uuid.UUID
	Name         string
	CreateTime   uint32
	Layout       uint8
	UpdateTime   uint32
	NbZones      uint32
	NbRdevs      uint32
	ZoneExist    [MaxZones]bool
}

// Field offsets within the 4 KiB SBG slot: rdev_uuid[4], magic,
// vrt_version, uuid[4], thisdev_uuid[4],
// gname[16], create_time, layout, checksum, update_time, nb_zones,
// nb_rdevs, zone_exist[MaxZones].
const (
	sbgOffRdevUUID    = 0
	sbgOffMagic       = sbgOffRdevUUID + 16
	sbgOffVrtVersion  = sbgOffMagic + 4
	sbgOffUUID        = sbgOffVrtVersion + 4
	sbgOffThisDevUUID = sbgOffUUID + 16
	sbgOffName        = sbgOffThisDevUUID + 16
	sbgOffCreateTime  = sbgOffName + NameMaxSize
	sbgOffLayout      = sbgOffCreateTime + 4
	sbgOffChecksum    = sbgOffLayout + 1
	sbgOffUpdateTime  = sbgOffChecksum + 4
	sbgOffNbZones     = sbgOffUpdateTime + 4
	sbgOffNbRdevs     = sbgOffNbZones + 4
	sbgOffZoneExist   = sbgOffNbRdevs + 4
)

// Encode serializes g into a fresh 4 KiB slot, computing the checksum
// over the whole slot with the checksum field zeroed.
func (g *Group) Encode() []byte {
	buf := slot()

	putUUID(buf, sbgOffRdevUUID, g.RdevUUID)
	binary.LittleEndian.PutUint32(buf[sbgOffMagic:], SBGMagic)
	binary.LittleEndian.PutUint32(buf[sbgOffVrtVersion:], g.VrtVersion)
	putUUID(buf, sbgOffUUID, g.UUID)
	putUUID(buf, sbgOffThisDevUUID, g.ThisDevUUID)
	_ = putName(buf, sbgOffName, g.Name) // length validated by caller before Encode
	binary.LittleEndian.PutUint32(buf[sbgOffCreateTime:], g.CreateTime)
	buf[sbgOffLayout] = g.Layout
	binary.LittleEndian.PutUint32(buf[sbgOffUpdateTime:], g.UpdateTime)
	binary.LittleEndian.PutUint32(buf[sbgOffNbZones:], g.NbZones)
	binary.LittleEndian.PutUint32(buf[sbgOffNbRdevs:], g.NbRdevs)
	for i := 0; i < MaxZones; i++ {
		if g.ZoneExist[i] {
			buf[sbgOffZoneExist+i] = 1
		}
	}

	binary.LittleEndian.PutUint32(buf[sbgOffChecksum:], Checksum(buf))

	return buf
}

// DecodeGroup parses and verifies a 4 KiB slot as an SBG. On failure it
// returns a nil *Group and ErrBadMagic or ErrBadChecksum.
func DecodeGroup(buf []byte) (*Group, error) {
	if len(buf) < len(slot()) {
		return nil, ErrBadMagic
	}

	if binary.LittleEndian.Uint32(buf[sbgOffMagic:]) != SBGMagic {
		return nil, ErrBadMagic
	}

	gotSum := binary.LittleEndian.Uint32(buf[sbgOffChecksum:])
	verifyBuf := make([]byte, len(buf))
	copy(verifyBuf, buf)
	binary.LittleEndian.PutUint32(verifyBuf[sbgOffChecksum:], 0)
	if Checksum(verifyBuf) != gotSum {
		return nil, ErrBadChecksum
	}

	g := &Group{
		RdevUUID:    getUUID(buf, sbgOffRdevUUID),
		VrtVersion:  binary.LittleEndian.Uint32(buf[sbgOffVrtVersion:]),
		UUID:        getUUID(buf, sbgOffUUID),
		ThisDevUUID: getUUID(buf, sbgOffThisDevUUID),
		Name:        getName(buf, sbgOffName),
		CreateTime:  binary.LittleEndian.Uint32(buf[sbgOffCreateTime:]),
		Layout:      buf[sbgOffLayout],
		UpdateTime:  binary.LittleEndian.Uint32(buf[sbgOffUpdateTime:]),
		NbZones:     binary.LittleEndian.Uint32(buf[sbgOffNbZones:]),
		NbRdevs:     binary.LittleEndian.Uint32(buf[sbgOffNbRdevs:]),
	}
	for i := 0; i < MaxZones; i++ {
		g.ZoneExist[i] = buf[sbgOffZoneExist+i] != 0
	}

	return g, nil
}

// SameGroup reports whether two SBG copies agree on every field except
// RdevUUID (Testable Property 3). Checksum is not compared directly
// since it is a pure function of the other fields plus RdevUUID.
func (g *Group) SameGroup(other *Group) bool {
	if g.VrtVersion != other.VrtVersion ||
		g.UUID != other.UUID ||
		g.ThisDevUUID != other.ThisDevUUID ||
		g.Name != other.Name ||
		g.CreateTime != other.CreateTime ||
		g.Layout != other.Layout ||
		g.UpdateTime != other.UpdateTime ||
		g.NbZones != other.NbZones ||
		g.NbRdevs != other.NbRdevs {
		return false
	}
	return g.ZoneExist == other.ZoneExist
}
