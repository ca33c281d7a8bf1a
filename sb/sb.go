// Package sb implements the on-disk superblock codec: the fixed 4 KiB
// slots for the group, rdev-list, and zone superblocks that live at the
// tail of every rdev. All three formats are little-endian, same-endian
// only: no byte-swapping is attempted, so a disk moved between nodes of
// different endianness is treated as foreign and must be reformatted.
package sb

import (
	"encoding/binary"
	"errors"

	"exanodes.dev/vrt/units"
	"exanodes.dev/vrt/uuid"
)

// Magic values identifying each superblock variant.
const (
	SBGMagic          uint32 = 0x6DCA6E8E
	SBRMagic          uint32 = 0x7B9120A1
	SBZSStripingMagic uint32 = 0x1EBB790D
)

// Capacity limits for the fixed-size arrays embedded in superblocks.
const (
	// MaxZones is the number of zone slots a group superblock can
	// describe (zone_exist bitmap length, and the number of SBZ slots
	// following SBG/SBR at the disk tail).
	MaxZones = 32

	// MaxRdevs is the number of rdev UUID slots in sb_rdevs.
	MaxRdevs = 64

	// MaxExtents is NB_ETENDUES: the number of (start,end) pairs a
	// zone superblock can hold, i.e. the maximum run-length-coded
	// extent list length for one zone.
	MaxExtents = 127

	// NameMaxSize is the fixed width, in bytes, of a group or zone
	// name field.
	NameMaxSize = 16
)

var (
	ErrBadMagic    = errors.New("sb: bad magic number")
	ErrBadChecksum = errors.New("sb: checksum mismatch")
	ErrNameTooLong = errors.New("sb: name exceeds 16 bytes")
)

// Checksum computes the internet checksum (RFC 1071, one's complement
// sum of 16-bit words, folded to 16 bits) over buf, returned as a uint32
// for the 32-bit on-disk checksum field. Superblock checksums
// are always computed with the checksum field itself zeroed.
func Checksum(buf []byte) uint32 {
	var sum uint32

	n := len(buf)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(buf[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(buf[n-1])
	}

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}

	return ^sum & 0xffff
}

func putName(buf []byte, off int, name string) error {
	if len(name) > NameMaxSize {
		return ErrNameTooLong
	}
	var tmp [NameMaxSize]byte
	copy(tmp[:], name)
	copy(buf[off:off+NameMaxSize], tmp[:])
	return nil
}

func getName(buf []byte, off int) string {
	end := off
	for end < off+NameMaxSize && buf[end] != 0 {
		end++
	}
	return string(buf[off:end])
}

func putUUID(buf []byte, off int, u uuid.UUID) {
	for i, w := range u {
		binary.LittleEndian.PutUint32(buf[off+i*4:off+i*4+4], w)
	}
}

func getUUID(buf []byte, off int) uuid.UUID {
	var u uuid.UUID
	for i := range u {
		u[i] = binary.LittleEndian.Uint32(buf[off+i*4 : off+i*4+4])
	}
	return u
}

// slot allocates a zeroed SuperblockSlotSize buffer.
func slot() []byte {
	return make([]byte, units.SuperblockSlotSize)
}
