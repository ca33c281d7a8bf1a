// Package uuid implements the 128-bit identifier used throughout the
// virtualizer's on-disk metadata: group, rdev, and zone identity.
package uuid

import (
	"encoding/binary"
	"fmt"

	guuid "github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// UUID is a 128-bit value stored as four 32-bit words, matching the
// on-disk representation used by sb_group/sb_rdevs/sb_zone_sstriping.
type UUID [4]uint32

// Nil is the all-zero UUID. It never identifies a real rdev, group, or
// zone; it is used as a sentinel for "slot not present".
var Nil UUID

// New generates a fresh UUID by taking the 16 bytes of a new UUIDv7 and
// folding them into four big-endian words. UUIDv7 is used
// (rather than v4) so the high word carries a coarse timestamp, which is
// convenient for log ordering even though equality is defined purely
// word-for-word.
func New() (UUID, error) {
	g, err := guuid.NewV7()
	if err != nil {
		return Nil, err
	}

	return FromBytes(g[:]), nil
}

// FromBytes folds a 16-byte slice into a UUID. Panics if b is shorter
// than 16 bytes; callers that can't guarantee that should check len(b)
// themselves.
func FromBytes(b []byte) UUID {
	var u UUID
	for i := range u {
		u[i] = binary.BigEndian.Uint32(b[i*4 : i*4+4])
	}
	return u
}

// Bytes returns the 16-byte big-endian encoding of u, used for the
// path cache key and the Short form. Superblocks do not use it: sb
// writes each word little-endian.
func (u UUID) Bytes() []byte {
	b := make([]byte, 16)
	for i, w := range u {
		binary.BigEndian.PutUint32(b[i*4:i*4+4], w)
	}
	return b
}

// IsNil reports whether u is the all-zero UUID.
func (u UUID) IsNil() bool {
	return u == Nil
}

// String renders u as four colon-separated 32-bit hex words.
func (u UUID) String() string {
	return fmt.Sprintf("%08x:%08x:%08x:%08x", u[0], u[1], u[2], u[3])
}

// Equal reports whether two UUIDs are equal, i.e. all four words match.
func (u UUID) Equal(other UUID) bool {
	return u == other
}

// Short renders u as a base58 string, for log lines and CLI output
// where the full four-word hex form is more than a human needs to tell
// two rdevs apart at a glance.
func (u UUID) Short() string {
	return base58.Encode(u.Bytes())
}

// ParseShort parses the output of Short back into a UUID.
func ParseShort(s string) (UUID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Nil, err
	}
	if len(b) != 16 {
		return Nil, fmt.Errorf("uuid: decoded short form has %d bytes, want 16", len(b))
	}
	return FromBytes(b), nil
}
