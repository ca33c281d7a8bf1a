// Command exavrtd is the per-node daemon: it scans for rdevs belonging
// to groups this node knows about, reconciles the broken-disk table
// against the rest of the cluster, and keeps watching, for the lifetime
// of the process, the health of every rdev whose path was known at
// startup; rdevs found by later rescans are not added to the monitor.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"exanodes.dev/vrt/brokentable"
	"exanodes.dev/vrt/cluster"
	"exanodes.dev/vrt/diskio"
	"exanodes.dev/vrt/group"
	"exanodes.dev/vrt/health"
	"exanodes.dev/vrt/recovery"
	"exanodes.dev/vrt/units"
	"exanodes.dev/vrt/uuid"
)

var (
	fDataDir  = pflag.StringP("data-dir", "d", "/var/lib/exavrtd", "directory for the broken-disk table and path cache")
	fGlobs    = pflag.StringArrayP("disk", "k", []string{"/dev/disk/by-id/*"}, "glob pattern of candidate disk paths; repeatable")
	fNodeID   = pflag.Uint32P("node-id", "n", 0, "this node's cluster id")
	fNatsURL  = pflag.String("nats", "", "NATS server URL; empty runs single-node with an in-process broadcaster")
	fDebug    = pflag.Bool("debug", false, "enable debug logging")
	fPoolSize = pflag.Int("handle-pool-size", 64, "maximum number of concurrently open disk handles")
)

func main() {
	pflag.Parse()

	level := slog.LevelInfo
	if *fDebug || os.Getenv("EXAVRTD_DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log); err != nil {
		log.Error("exavrtd exiting", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(*fDataDir, 0o755); err != nil {
		return err
	}

	broken, err := brokentable.Open(filepath.Join(*fDataDir, "broken.dat"))
	if err != nil {
		return err
	}

	cache, err := recovery.OpenPathCache(filepath.Join(*fDataDir, "paths.db"))
	if err != nil {
		return err
	}
	defer cache.Close()

	bcast, err := newBroadcaster(log)
	if err != nil {
		return err
	}

	pool := diskio.NewPool(*fPoolSize)
	defer pool.Close()

	reg := group.NewRegistry(log)

	unsub, err := health.RegisterReconcileHandler(bcast, broken, *fNodeID)
	if err != nil {
		return err
	}
	defer unsub()

	orch := recovery.New(log, reg, bcast, broken, cache, pool, nopNotifier{}, *fNodeID)

	globs, err := recovery.ExpandGlobs(*fGlobs)
	if err != nil {
		return err
	}
	if err := orch.Run(ctx, globs); err != nil {
		log.Error("initial recovery scan failed", "error", err)
	}

	// A CHECK_DOWN from any node (including this one) marks the rdev
	// broken cluster-wide, then re-runs recovery so the group picks up
	// the new state immediately instead of waiting for the next tick.
	unsubDown, err := health.RegisterCheckDownHandler(bcast, func(rdevUUID uuid.UUID) {
		if err := broken.MarkBroken(rdevUUID); err != nil {
			log.Error("failed to mark rdev broken", "rdev", rdevUUID.String(), "error", err)
			return
		}
		if err := orch.Run(ctx, globs); err != nil {
			log.Error("recovery scan after check_down failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	defer unsubDown()

	prober := diskProber{pool: pool}
	monitor := health.NewMonitor(log, prober, bcast)
	for _, g := range reg.Groups() {
		for _, r := range g.Rdevs {
			if r.Path != "" {
				monitor.Register(r.Path, r.UUID)
			}
		}
	}

	go rescanLoop(ctx, log, orch, globs)

	log.Info("exavrtd started", "node_id", *fNodeID, "data_dir", *fDataDir)
	return monitor.Run(ctx)
}

// rescanLoop periodically re-runs recovery so disks attached after
// startup are picked up without a restart.
func rescanLoop(ctx context.Context, log *slog.Logger, orch *recovery.Orchestrator, globs []string) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := orch.Run(ctx, globs); err != nil {
				log.Error("periodic recovery scan failed", "error", err)
			}
		}
	}
}

func newBroadcaster(log *slog.Logger) (cluster.Broadcaster, error) {
	if *fNatsURL == "" {
		log.Info("running single-node (no --nats url given)")
		return cluster.NewInProcess(), nil
	}
	nc, err := cluster.DialNATS(*fNatsURL)
	if err != nil {
		return nil, err
	}
	return cluster.NewNATS(nc), nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyResourcesChanged() {}

// diskProber adapts the disk handle pool to health.Prober: a probe is a
// one-sector aligned read at the start of the SBG slot in the device's
// reserved tail (offset 0 on a device smaller than the reserve).
type diskProber struct {
	pool *diskio.Pool
}

func (p diskProber) Probe(ctx context.Context, path string) error {
	h, err := p.pool.Get(path, diskio.Read|diskio.Direct)
	if err != nil {
		return err
	}
	size := h.Size()
	size -= size % units.DiskTailReserve
	var off int64
	if size >= units.DiskTailReserve {
		off = int64(size - units.DiskTailReserve)
	}
	buf := diskio.AlignedBuffer(diskio.MinSectorSize)
	if err := h.ReadAt(buf, off); err != nil {
		p.pool.Evict(path)
		return err
	}
	return nil
}
