package diskio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAlignedBufferIsAligned(t *testing.T) {
	buf := AlignedBuffer(8192)
	if len(buf) != 8192 {
		t.Fatalf("expected length 8192, got %d", len(buf))
	}
	if alignmentOf(buf) != 0 {
		t.Fatalf("buffer not aligned to %d", AlignSize)
	}
}

func TestAlignedBufferRoundsUpLength(t *testing.T) {
	buf := AlignedBuffer(513)
	if len(buf)%MinSectorSize != 0 {
		t.Fatalf("expected sector-multiple length, got %d", len(buf))
	}
}

func TestPoolEvictsOnOverflow(t *testing.T) {
	p := NewPool(2)
	defer p.Close()
	if p.Len() != 0 {
		t.Fatalf("expected empty pool")
	}

	dir := t.TempDir()
	for _, name := range []string{"a.img", "b.img", "c.img"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Get(path, Read); err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 open handles after overflow, got %d", p.Len())
	}
}

func TestOpenReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rdev0.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(4 << 20); err != nil {
		t.Fatal(err)
	}
	f.Close()

	h, err := Open(path, Read|Write)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	if h.Size() != 4<<20 {
		t.Fatalf("expected size 4MiB, got %d", h.Size())
	}

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0xA5
	}
	if err := h.WriteAt(buf, 0); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make([]byte, 512)
	if err := h.ReadAt(got, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, b := range got {
		if b != 0xA5 {
			t.Fatalf("byte %d: expected 0xA5, got %#x", i, b)
		}
	}
}
