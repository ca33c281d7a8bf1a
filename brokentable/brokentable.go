// Package brokentable implements the versioned on-disk record of every
// rdev the cluster currently considers broken: a fixed-size record read
// and written with atomic write-rename, held in memory as the source of
// truth while open.
package brokentable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"exanodes.dev/vrt/uuid"
	pkgerrors "github.com/pkg/errors"
)

// MaxDisks bounds the number of UUID slots the on-disk record holds.
// 256 comfortably covers any cluster this placement engine is sized
// for.
const MaxDisks = 256

// recordSize is the fixed on-disk record length: an 8-byte version
// plus MaxDisks 16-byte UUIDs.
const recordSize = 8 + MaxDisks*16

var ErrCorrupt = errors.New("brokentable: truncated or malformed record")

// Table is the in-memory, mutex-guarded broken-disk set. All mutating
// methods flush to disk before returning.
type Table struct {
	mu sync.Mutex

	path    string
	version uint64
	broken  map[uuid.UUID]bool
}

// Open loads path if it exists, or starts an empty table (version 0) if
// it doesn't.
func Open(path string) (*Table, error) {
	t := &Table{path: path, broken: make(map[uuid.UUID]bool)}

	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, err
	}

	version, uuids, err := decode(buf)
	if err != nil {
		return nil, err
	}

	t.version = version
	for _, u := range uuids {
		t.broken[u] = true
	}
	return t, nil
}

// Version returns the table's current version.
func (t *Table) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// IsBroken reports whether u is currently marked broken.
func (t *Table) IsBroken(u uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken[u]
}

// Snapshot returns every broken UUID and the version they were read
// under, used to seed a cluster recovery pass.
func (t *Table) Snapshot() (uint64, []uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]uuid.UUID, 0, len(t.broken))
	for u := range t.broken {
		out = append(out, u)
	}
	return t.version, out
}

// MarkBroken adds u to the broken set, bumping the version and
// flushing, unless u was already present.
func (t *Table) MarkBroken(u uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.broken[u] {
		return nil
	}
	t.broken[u] = true
	t.version++
	return t.flushLocked()
}

// ClearBroken removes u from the broken set: an explicit operator
// action, not something a probe failure alone ever triggers.
func (t *Table) ClearBroken(u uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.broken[u] {
		return nil
	}
	delete(t.broken, u)
	t.version++
	return t.flushLocked()
}

// Adopt replaces the table wholesale with a winning cluster-recovery
// result: the winning table is adopted by every node, persisted, and
// its version incremented so a later reconcile can tell the two apart.
func (t *Table) Adopt(version uint64, uuids []uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.version = version + 1
	t.broken = make(map[uuid.UUID]bool, len(uuids))
	for _, u := range uuids {
		t.broken[u] = true
	}
	return t.flushLocked()
}

// flushLocked atomically persists the table: write to "<path>.new",
// fsync, rename over the original.
func (t *Table) flushLocked() error {
	if t.path == "" {
		return nil
	}

	if len(t.broken) > MaxDisks {
		return fmt.Errorf("brokentable: %d broken disks exceeds max %d", len(t.broken), MaxDisks)
	}

	uuids := make([]uuid.UUID, 0, len(t.broken))
	for u := range t.broken {
		uuids = append(uuids, u)
	}

	buf := encode(t.version, uuids)

	tmp := t.path + ".new"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return pkgerrors.Wrapf(err, "creating %s", tmp)
	}

	if _, err := f.Write(buf); err != nil {
		f.Close()
		return pkgerrors.Wrapf(err, "writing %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return pkgerrors.Wrapf(err, "fsyncing %s", tmp)
	}
	if err := f.Close(); err != nil {
		return pkgerrors.Wrapf(err, "closing %s", tmp)
	}

	if dir := filepath.Dir(t.path); dir != "" {
		if df, err := os.Open(dir); err == nil {
			_ = df.Sync()
			df.Close()
		}
	}

	if err := os.Rename(tmp, t.path); err != nil {
		return pkgerrors.Wrapf(err, "renaming %s to %s", tmp, t.path)
	}
	return nil
}

func encode(version uint64, uuids []uuid.UUID) []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint64(buf[:8], version)

	for i, u := range uuids {
		if i >= MaxDisks {
			break
		}
		off := 8 + i*16
		for w := 0; w < 4; w++ {
			binary.LittleEndian.PutUint32(buf[off+w*4:off+w*4+4], u[w])
		}
	}
	return buf
}

func decode(buf []byte) (uint64, []uuid.UUID, error) {
	if len(buf) < recordSize {
		return 0, nil, ErrCorrupt
	}

	version := binary.LittleEndian.Uint64(buf[:8])

	var uuids []uuid.UUID
	for i := 0; i < MaxDisks; i++ {
		off := 8 + i*16
		var u uuid.UUID
		for w := 0; w < 4; w++ {
			u[w] = binary.LittleEndian.Uint32(buf[off+w*4 : off+w*4+4])
		}
		if !u.IsNil() {
			uuids = append(uuids, u)
		}
	}

	return version, uuids, nil
}
