package sstriping

import (
	"testing"

	"exanodes.dev/vrt/units"
	"exanodes.dev/vrt/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devs(n int, ueEach uint64) []RdevCapacity {
	out := make([]RdevCapacity, n)
	for i := range out {
		out[i] = RdevCapacity{UUID: uuid.UUID{0, 0, 0, uint32(i + 1)}, UEs: ueEach}
	}
	return out
}

func TestHomogeneousGroupIsSingleWidthBand(t *testing.T) {
	tbl := BuildExtentTable(devs(3, units.UEsPerPage*4))

	for _, e := range tbl.Extents {
		assert.EqualValues(t, 3, e.Width)
	}
	assert.NotEmpty(t, tbl.Extents)
}

func TestHeterogeneousStaircaseHasThreeWidthBands(t *testing.T) {
	// 1 GiB, 2 GiB, 4 GiB in UEs.
	gib := uint64(1 << 30)
	tbl := BuildExtentTable([]RdevCapacity{
		{UUID: uuid.UUID{0, 0, 0, 1}, UEs: gib / units.UESize},
		{UUID: uuid.UUID{0, 0, 0, 2}, UEs: 2 * gib / units.UESize},
		{UUID: uuid.UUID{0, 0, 0, 3}, UEs: 4 * gib / units.UESize},
	})

	widths := map[uint32]bool{}
	for _, e := range tbl.Extents {
		widths[e.Width] = true
	}
	assert.True(t, widths[3])
	assert.True(t, widths[2])
	assert.True(t, widths[1])
	assert.Len(t, widths, 3)

	// Widths must appear in descending order as the stripe axis advances.
	lastWidth := uint32(4)
	for _, e := range tbl.Extents {
		assert.LessOrEqual(t, e.Width, lastWidth)
		lastWidth = e.Width
	}
}

func TestSingleRdevDegeneratesToLinearAllocation(t *testing.T) {
	tbl := BuildExtentTable(devs(1, 10*units.UEsPerPage))
	for _, e := range tbl.Extents {
		assert.EqualValues(t, 1, e.Width)
	}

	z := &Zone{}
	require.NoError(t, tbl.Allocate(z, units.PageSize/1024))
	assert.GreaterOrEqual(t, tbl.SizeKB(z), uint64(units.PageSize/1024))
}

func TestZeroSizeAllocateIsNoop(t *testing.T) {
	tbl := BuildExtentTable(devs(2, units.UEsPerPage))
	z := &Zone{}
	err := tbl.Allocate(z, 0)
	assert.NoError(t, err) // zero-need is trivially satisfied; size-0 rejection lives in the group package
	assert.Equal(t, uint64(0), tbl.SizeKB(z))
}

func TestAllocateExhaustsCapacity(t *testing.T) {
	tbl := BuildExtentTable(devs(2, units.UEsPerPage))
	z := &Zone{}
	require.NoError(t, tbl.Allocate(z, 2*units.PageSize/1024)) // both rdevs' full page

	z2 := &Zone{}
	err := tbl.Allocate(z2, units.PageSize/1024)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestTranslateRoundTrip(t *testing.T) {
	tbl := BuildExtentTable(devs(3, 4*units.UEsPerPage))
	z := &Zone{}
	require.NoError(t, tbl.Allocate(z, 2*units.PageSize/1024))

	sizeUE := tbl.SizeUE(z)
	for ue := uint64(0); ue < sizeUE; ue++ {
		zs := ue * units.SectorsPerUE
		loc, err := tbl.Translate(z, zs)
		require.NoError(t, err)
		assert.Less(t, uint64(loc.Rdev), uint64(len(tbl.SortedDevs)))

		back, err := tbl.InverseTranslate(z, loc)
		require.NoError(t, err)
		assert.Equal(t, zs, back)
	}
}

func TestScenario1WriteLandsOnSmallestActiveDevSlot(t *testing.T) {
	// Two 1 GiB rdevs, homogeneous -> width 2 for the whole group.
	gib := uint64(1 << 30)
	tbl := BuildExtentTable(devs(2, gib/units.UESize))

	z := &Zone{}
	require.NoError(t, tbl.Allocate(z, units.PageSize/1024))

	loc, err := tbl.Translate(z, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, loc.Rdev)
	assert.EqualValues(t, 0, loc.Sector)
}

func TestSplitByUESplitsAtBoundary(t *testing.T) {
	// A run starting mid-UE and running exactly one UE long crosses
	// exactly one boundary, producing two spans.
	spu := uint64(units.SectorsPerUE)
	start := spu / 2
	count := uint32(spu)

	spans := SplitByUE(start, count)
	require.Len(t, spans, 2)
	assert.Equal(t, start, spans[0].StartSector)
	assert.EqualValues(t, spu/2, spans[0].Count)
	assert.Equal(t, spu, spans[1].StartSector)
	assert.EqualValues(t, spu/2, spans[1].Count)
}

func TestSplitByUENoSplitWhenWithinOneUE(t *testing.T) {
	spans := SplitByUE(0, uint32(units.SectorsPerUE))
	require.Len(t, spans, 1)
	assert.Equal(t, uint64(0), spans[0].StartSector)
	assert.EqualValues(t, units.SectorsPerUE, spans[0].Count)
}

func TestSplitByUEAlignedMultiUE(t *testing.T) {
	spu := uint32(units.SectorsPerUE)
	spans := SplitByUE(0, spu*3)
	require.Len(t, spans, 3)
	for i, s := range spans {
		assert.Equal(t, uint64(i)*uint64(spu), s.StartSector)
		assert.EqualValues(t, spu, s.Count)
	}
}

func TestSplitByUEZeroCountReturnsNil(t *testing.T) {
	assert.Nil(t, SplitByUE(5, 0))
}

func TestTranslateCacheAgreesWithUncached(t *testing.T) {
	tbl := BuildExtentTable(devs(3, 4*units.UEsPerPage))
	z := &Zone{}
	require.NoError(t, tbl.Allocate(z, 2*units.PageSize/1024))

	cache := NewTranslateCache(16)

	sizeUE := tbl.SizeUE(z)
	for ue := uint64(0); ue < sizeUE; ue += 7 {
		zs := ue * units.SectorsPerUE
		want, err := tbl.Translate(z, zs)
		require.NoError(t, err)

		got, err := tbl.TranslateCached(cache, z, zs)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		// second lookup should hit the cache and still agree
		got2, err := tbl.TranslateCached(cache, z, zs)
		require.NoError(t, err)
		assert.Equal(t, want, got2)
	}
}

func TestResizeGrowAndShrink(t *testing.T) {
	tbl := BuildExtentTable(devs(2, 8*units.UEsPerPage))
	z := &Zone{}
	require.NoError(t, tbl.Allocate(z, units.PageSize/1024))

	before := tbl.SizeKB(z)
	require.NoError(t, tbl.Resize(z, 2*units.PageSize/1024))
	assert.Greater(t, tbl.SizeKB(z), before)

	require.NoError(t, tbl.Resize(z, units.PageSize/1024))
	assert.LessOrEqual(t, tbl.SizeKB(z), before+units.PageSize/1024)
}

func TestCapacityAccountingInvariant(t *testing.T) {
	// Invariant 1: sum over non-free extents of width*height*UE equals
	// the sum of zone sizes (rounded up to extent granularity).
	tbl := BuildExtentTable(devs(3, 4*units.UEsPerPage))

	z1 := &Zone{}
	z2 := &Zone{}
	require.NoError(t, tbl.Allocate(z1, units.PageSize/1024))
	require.NoError(t, tbl.Allocate(z2, units.PageSize/1024))

	var usedUE uint64
	for _, e := range tbl.Extents {
		if !e.Free {
			usedUE += e.UEs()
		}
	}

	assert.Equal(t, usedUE, tbl.SizeUE(z1)+tbl.SizeUE(z2))
}
