package sb

import (
	"encoding/binary"

	"exanodes.dev/vrt/uuid"
)

// ZoneSStriping is the decoded form of sb_zone_sstriping: a zone's
// run-length-coded extent list plus its identity and size. Identical on
// every rdev of the group.
type ZoneSStriping struct {
	Name       string
	ZoneUUID   uuid.UUID
	CreateTime uint32
	UpdateTime uint32
	ZoneSizeKB uint64
	NbExtents  uint32
	PlStart    [MaxExtents]uint32
	PlEnd      [MaxExtents]uint32
}

const (
	sbzOffMagic      = 0
	sbzOffName       = sbzOffMagic + 4
	sbzOffZoneUUID   = sbzOffName + NameMaxSize
	sbzOffCreateTime = sbzOffZoneUUID + 16
	sbzOffChecksum   = sbzOffCreateTime + 4
	sbzOffUpdateTime = sbzOffChecksum + 4
	sbzOffZoneSize   = sbzOffUpdateTime + 4
	sbzOffNbExtents  = sbzOffZoneSize + 8
	sbzOffPlStart    = sbzOffNbExtents + 4
	sbzOffPlEnd      = sbzOffPlStart + MaxExtents*4
)

// Encode serializes z into a fresh 4 KiB slot.
func (z *ZoneSStriping) Encode() []byte {
	buf := slot()

	binary.LittleEndian.PutUint32(buf[sbzOffMagic:], SBZSStripingMagic)
	_ = putName(buf, sbzOffName, z.Name)
	putUUID(buf, sbzOffZoneUUID, z.ZoneUUID)
	binary.LittleEndian.PutUint32(buf[sbzOffCreateTime:], z.CreateTime)
	binary.LittleEndian.PutUint32(buf[sbzOffUpdateTime:], z.UpdateTime)
	binary.LittleEndian.PutUint64(buf[sbzOffZoneSize:], z.ZoneSizeKB)
	binary.LittleEndian.PutUint32(buf[sbzOffNbExtents:], z.NbExtents)
	for i := 0; i < MaxExtents; i++ {
		binary.LittleEndian.PutUint32(buf[sbzOffPlStart+i*4:], z.PlStart[i])
		binary.LittleEndian.PutUint32(buf[sbzOffPlEnd+i*4:], z.PlEnd[i])
	}

	binary.LittleEndian.PutUint32(buf[sbzOffChecksum:], Checksum(buf))

	return buf
}

// DecodeZoneSStriping parses and verifies a 4 KiB slot as an SBZ.
func DecodeZoneSStriping(buf []byte) (*ZoneSStriping, error) {
	if len(buf) < len(slot()) {
		return nil, ErrBadMagic
	}

	if binary.LittleEndian.Uint32(buf[sbzOffMagic:]) != SBZSStripingMagic {
		return nil, ErrBadMagic
	}

	gotSum := binary.LittleEndian.Uint32(buf[sbzOffChecksum:])
	verifyBuf := make([]byte, len(buf))
	copy(verifyBuf, buf)
	binary.LittleEndian.PutUint32(verifyBuf[sbzOffChecksum:], 0)
	if Checksum(verifyBuf) != gotSum {
		return nil, ErrBadChecksum
	}

	z := &ZoneSStriping{
		Name:       getName(buf, sbzOffName),
		ZoneUUID:   getUUID(buf, sbzOffZoneUUID),
		CreateTime: binary.LittleEndian.Uint32(buf[sbzOffCreateTime:]),
		UpdateTime: binary.LittleEndian.Uint32(buf[sbzOffUpdateTime:]),
		ZoneSizeKB: binary.LittleEndian.Uint64(buf[sbzOffZoneSize:]),
		NbExtents:  binary.LittleEndian.Uint32(buf[sbzOffNbExtents:]),
	}
	for i := 0; i < MaxExtents; i++ {
		z.PlStart[i] = binary.LittleEndian.Uint32(buf[sbzOffPlStart+i*4:])
		z.PlEnd[i] = binary.LittleEndian.Uint32(buf[sbzOffPlEnd+i*4:])
	}

	return z, nil
}
