package group

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"exanodes.dev/vrt/diskio"
	"exanodes.dev/vrt/pipeline"
	"exanodes.dev/vrt/units"
	"exanodes.dev/vrt/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileBackedRdevSpecs creates n temp files standing in for real disks,
// each large enough to clear MinRdevSize, and returns the RdevSpecs
// pointing at them.
func fileBackedRdevSpecs(t *testing.T, n int) []RdevSpec {
	t.Helper()

	const sizeKB = 2112 // usable 2080 KiB, comfortably over MinRdevSize

	out := make([]RdevSpec, n)
	for i := range out {
		u, err := uuid.New()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "rdev.img")
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, f.Truncate(sizeKB*1024))
		require.NoError(t, f.Close())

		out[i] = RdevSpec{UUID: u, Path: path, SizeKB: sizeKB, NodeID: uint32(i + 1)}
	}
	return out
}

// TestZoneStartWiresPipelineToDiskEndToEnd exercises a started zone's
// full request path: Submit translates the bio through the group's
// placement table and the pipeline dispatches the resulting physical
// I/O against the backing file, round-tripping a write crossing a UE
// boundary and landing on two different rdevs.
func TestZoneStartWiresPipelineToDiskEndToEnd(t *testing.T) {
	reg := NewRegistry(nil)
	g, err := Create(reg, "g1", fileBackedRdevSpecs(t, 2), 1)
	require.NoError(t, err)
	require.NoError(t, Start(g, nil))

	z, err := ZoneCreate(g, "z1", 1, 2)
	require.NoError(t, err)

	pool := diskio.NewPool(8)
	defer pool.Close()

	deps := PipelineDeps{
		Pool:  pool,
		Flags: diskio.Read | diskio.Write,
		Config: pipeline.Config{
			NbSlots:           pipeline.MinSlots,
			BufferSizePerSlot: units.PageSize,
			Workers:           2,
		},
	}
	require.NoError(t, ZoneStart(g, z, ReadWrite, deps))
	defer ZoneStop(z)

	spu := uint32(units.SectorsPerUE)
	ueBytes := int(spu) * units.SectorSize

	write := make([]byte, 2*ueBytes)
	for i := range write[:ueBytes] {
		write[i] = 0xAA
	}
	for i := ueBytes; i < len(write); i++ {
		write[i] = 0xBB
	}

	ctx := context.Background()

	w, err := z.Submit(0, 2*spu, pipeline.OpWrite, false, write)
	require.NoError(t, err)
	require.NoError(t, w.Wait(ctx))

	read := make([]byte, len(write))
	r, err := z.Submit(0, 2*spu, pipeline.OpRead, false, read)
	require.NoError(t, err)
	require.NoError(t, r.Wait(ctx))

	assert.Equal(t, write, read, "read after write must round-trip across the UE boundary")

	// The two UEs must have landed on different rdevs: each backing
	// file's first UE-worth of bytes should be uniform (either all
	// 0xAA or all 0xBB), and the two files must disagree.
	var firstUE [][]byte
	for _, r := range g.Rdevs {
		f, err := os.Open(r.Path)
		require.NoError(t, err)
		buf := make([]byte, ueBytes)
		_, err = f.ReadAt(buf, 0)
		require.NoError(t, err)
		f.Close()
		firstUE = append(firstUE, buf)
	}

	require.Len(t, firstUE, 2)
	assert.True(t, bytes.Equal(firstUE[0], bytes.Repeat([]byte{0xAA}, ueBytes)) || bytes.Equal(firstUE[0], bytes.Repeat([]byte{0xBB}, ueBytes)))
	assert.NotEqual(t, firstUE[0], firstUE[1], "the two UEs must have been split onto different rdevs")
}
