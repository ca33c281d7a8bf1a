package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"exanodes.dev/vrt/brokentable"
	"exanodes.dev/vrt/cluster"
	"exanodes.dev/vrt/diskio"
	"exanodes.dev/vrt/group"
	"exanodes.dev/vrt/sb"
	"exanodes.dev/vrt/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	count int
}

func (n *countingNotifier) NotifyResourcesChanged() {
	n.count++
}

// writeFakeDisk creates a regular file standing in for a block device,
// sized sizeKB, with a valid SBG superblock at its reserved tail.
func writeFakeDisk(t *testing.T, sizeKB uint64, groupUUID, rdevUUID uuid.UUID) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disk0.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	sizeBytes := int64(sizeKB * 1024)
	require.NoError(t, f.Truncate(sizeBytes))

	sbg := &sb.Group{
		RdevUUID:   rdevUUID,
		VrtVersion: 1,
		UUID:       groupUUID,
		Name:       "g1",
		Layout:     sb.LayoutSStriping,
		NbRdevs:    1,
	}
	buf := sbg.Encode()

	off := tailOffset(uint64(sizeBytes))
	_, err = f.WriteAt(buf, off)
	require.NoError(t, err)

	return path
}

func TestScanIdentifiesAndRegistersKnownRdev(t *testing.T) {
	reg := group.NewRegistry(nil)

	u, err := uuid.New()
	require.NoError(t, err)

	g, err := group.Create(reg, "g1", []group.RdevSpec{
		{UUID: u, Path: "", SizeKB: 4 * 1024 * 1024, NodeID: 1},
	}, 1)
	require.NoError(t, err)

	path := writeFakeDisk(t, 4*1024*1024, g.UUID, u)

	bcast := cluster.NewInProcess()
	broken, err := brokentable.Open(filepath.Join(t.TempDir(), "broken.dat"))
	require.NoError(t, err)
	cache, err := OpenPathCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer cache.Close()

	pool := diskio.NewPool(8)
	defer pool.Close()

	notifier := &countingNotifier{}

	orch := New(nil, reg, bcast, broken, cache, pool, notifier, 1)
	orch.SetOpenFlags(diskio.Read)

	require.NoError(t, orch.Run(context.Background(), []string{path}))

	rdev := g.RdevByUUID(u)
	require.NotNil(t, rdev)
	assert.Equal(t, path, rdev.Path)
	assert.Equal(t, group.RdevOK, rdev.State)
	assert.Equal(t, 1, notifier.count)

	cached, err := cache.Get(u)
	require.NoError(t, err)
	assert.Equal(t, path, cached)
}

func TestScanSkipsDiskWithUnknownGroup(t *testing.T) {
	reg := group.NewRegistry(nil)

	strangerGroup, err := uuid.New()
	require.NoError(t, err)
	strangerRdev, err := uuid.New()
	require.NoError(t, err)

	path := writeFakeDisk(t, 4*1024*1024, strangerGroup, strangerRdev)

	bcast := cluster.NewInProcess()
	broken, err := brokentable.Open(filepath.Join(t.TempDir(), "broken.dat"))
	require.NoError(t, err)

	pool := diskio.NewPool(8)
	defer pool.Close()

	orch := New(nil, reg, bcast, broken, nil, pool, nil, 1)
	orch.SetOpenFlags(diskio.Read)

	require.NoError(t, orch.Run(context.Background(), []string{path}))
}

func TestScanDoesNotReadmitDiskMarkedBroken(t *testing.T) {
	reg := group.NewRegistry(nil)

	u, err := uuid.New()
	require.NoError(t, err)

	g, err := group.Create(reg, "g1", []group.RdevSpec{
		{UUID: u, Path: "", SizeKB: 4 * 1024 * 1024, NodeID: 1},
	}, 1)
	require.NoError(t, err)

	path := writeFakeDisk(t, 4*1024*1024, g.UUID, u)

	bcast := cluster.NewInProcess()
	broken, err := brokentable.Open(filepath.Join(t.TempDir(), "broken.dat"))
	require.NoError(t, err)
	require.NoError(t, broken.MarkBroken(u))

	pool := diskio.NewPool(8)
	defer pool.Close()

	orch := New(nil, reg, bcast, broken, nil, pool, nil, 1)
	orch.SetOpenFlags(diskio.Read)

	require.NoError(t, orch.Run(context.Background(), []string{path}))

	rdev := g.RdevByUUID(u)
	require.NotNil(t, rdev)
	assert.Equal(t, group.RdevFail, rdev.State, "a disk already marked broken must not be silently re-admitted")
	assert.True(t, rdev.Broken)
}

func TestExpandGlobsDeduplicates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sda"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sdb"), nil, 0o644))

	out, err := ExpandGlobs([]string{
		filepath.Join(dir, "sd*"),
		filepath.Join(dir, "sda"),
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRunIsIdempotent(t *testing.T) {
	reg := group.NewRegistry(nil)
	u, err := uuid.New()
	require.NoError(t, err)
	g, err := group.Create(reg, "g1", []group.RdevSpec{
		{UUID: u, SizeKB: 4 * 1024 * 1024, NodeID: 1},
	}, 1)
	require.NoError(t, err)

	path := writeFakeDisk(t, 4*1024*1024, g.UUID, u)

	bcast := cluster.NewInProcess()
	broken, err := brokentable.Open(filepath.Join(t.TempDir(), "broken.dat"))
	require.NoError(t, err)
	pool := diskio.NewPool(8)
	defer pool.Close()

	orch := New(nil, reg, bcast, broken, nil, pool, nil, 1)
	orch.SetOpenFlags(diskio.Read)

	require.NoError(t, orch.Run(context.Background(), []string{path}))
	require.NoError(t, orch.Run(context.Background(), []string{path}))

	rdev := g.RdevByUUID(u)
	assert.Equal(t, group.RdevOK, rdev.State)
}
