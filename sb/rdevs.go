package sb

import (
	"encoding/binary"

	"exanodes.dev/vrt/uuid"
)

// Rdevs is the decoded form of sb_rdevs: the UUID of every rdev in the
// group, replicated identically across every rdev's copy.
type Rdevs struct {
	UUIDs [MaxRdevs]uuid.UUID
}

const (
	sbrOffMagic    = 0
	sbrOffChecksum = sbrOffMagic + 4
	sbrOffUUIDs    = sbrOffChecksum + 4
)

// Encode serializes r into a fresh 4 KiB slot.
func (r *Rdevs) Encode() []byte {
	buf := slot()

	binary.LittleEndian.PutUint32(buf[sbrOffMagic:], SBRMagic)
	for i, u := range r.UUIDs {
		putUUID(buf, sbrOffUUIDs+i*16, u)
	}

	binary.LittleEndian.PutUint32(buf[sbrOffChecksum:], Checksum(buf))

	return buf
}

// DecodeRdevs parses and verifies a 4 KiB slot as an SBR.
func DecodeRdevs(buf []byte) (*Rdevs, error) {
	if len(buf) < len(slot()) {
		return nil, ErrBadMagic
	}

	if binary.LittleEndian.Uint32(buf[sbrOffMagic:]) != SBRMagic {
		return nil, ErrBadMagic
	}

	gotSum := binary.LittleEndian.Uint32(buf[sbrOffChecksum:])
	verifyBuf := make([]byte, len(buf))
	copy(verifyBuf, buf)
	binary.LittleEndian.PutUint32(verifyBuf[sbrOffChecksum:], 0)
	if Checksum(verifyBuf) != gotSum {
		return nil, ErrBadChecksum
	}

	r := &Rdevs{}
	for i := range r.UUIDs {
		r.UUIDs[i] = getUUID(buf, sbrOffUUIDs+i*16)
	}

	return r, nil
}

// Count returns the number of non-nil UUID slots, i.e. nb_rdevs as
// recorded in this replica of the rdev list.
func (r *Rdevs) Count() int {
	n := 0
	for _, u := range r.UUIDs {
		if !u.IsNil() {
			n++
		}
	}
	return n
}
