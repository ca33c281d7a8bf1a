// Package recovery implements node-join orchestration: scan candidate
// disk paths, identify rdevs by UUID, reconcile the broken-disk table
// across the cluster, and notify the pipeline layer that resources
// changed.
package recovery

import (
	"context"
	"log/slog"
	"path/filepath"

	"exanodes.dev/vrt/brokentable"
	"exanodes.dev/vrt/cluster"
	"exanodes.dev/vrt/diskio"
	"exanodes.dev/vrt/group"
	"exanodes.dev/vrt/health"
	"exanodes.dev/vrt/sb"
	"exanodes.dev/vrt/uuid"
	"golang.org/x/sync/errgroup"
)

// scanConcurrency bounds how many candidate disks are opened and probed
// at once; a node with hundreds of globbed candidates shouldn't hold
// that many file descriptors open simultaneously.
const scanConcurrency = 8

// PathsTopic is the cluster broadcast topic used to announce the
// rdev -> path map a node discovered during its scan.
const PathsTopic = "exanodes.recovery.paths"

// Notifier signals the block-device layer that device resources
// changed.
type Notifier interface {
	NotifyResourcesChanged()
}

// Orchestrator drives one node's recovery pass.
type Orchestrator struct {
	log      *slog.Logger
	registry *group.Registry
	bcast    cluster.Broadcaster
	broken   *brokentable.Table
	cache    *PathCache
	pool     *diskio.Pool
	notifier Notifier
	nodeID   uint32

	// openFlags defaults to Read|Direct|Excl; tests that stand in
	// regular files for block devices override it since most
	// filesystems reject O_DIRECT on a plain file.
	openFlags diskio.OpenFlags
}

// New builds an orchestrator wired to the node's group registry,
// cluster broadcaster, broken-disk table, and path cache.
func New(log *slog.Logger, registry *group.Registry, bcast cluster.Broadcaster, broken *brokentable.Table, cache *PathCache, pool *diskio.Pool, notifier Notifier, nodeID uint32) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:      log.With("component", "recovery"),
		registry: registry,
		bcast:    bcast,
		broken:   broken,
		cache:    cache,
		pool:     pool,
		notifier: notifier,
		nodeID:   nodeID,
		openFlags: diskio.Read | diskio.Direct | diskio.Excl,
	}
}

// SetOpenFlags overrides the flags used to open candidate disks during
// a scan. Exposed for tests that back candidate paths with plain files.
func (o *Orchestrator) SetOpenFlags(flags diskio.OpenFlags) {
	o.openFlags = flags
}

// Run executes one full recovery pass: scan, identify, broadcast the
// discovered path map, reconcile the broken-disk table, and notify.
// Rerunning Run on an already-up node is idempotent except for
// re-broadcasting.
func (o *Orchestrator) Run(ctx context.Context, candidatePaths []string) error {
	discovered, err := o.scan(ctx, candidatePaths)
	if err != nil {
		return err
	}

	if len(discovered) > 0 {
		payload, err := cluster.Encode(discovered)
		if err == nil {
			if _, err := o.bcast.Exchange(ctx, PathsTopic, payload); err != nil {
				o.log.Error("failed to broadcast path map", "error", err)
			}
		}
	}

	if o.broken != nil && o.bcast != nil {
		if err := health.Reconcile(ctx, o.log, o.bcast, o.broken, o.nodeID); err != nil {
			o.log.Error("broken-disk table reconcile failed", "error", err)
		}
	}

	if o.notifier != nil {
		o.notifier.NotifyResourcesChanged()
	}

	return nil
}

// pathUUID pairs a discovered rdev with the path it was found at, the
// wire shape of a PathsTopic broadcast.
type pathUUID struct {
	UUID uuid.UUID
	Path string
}

// scanResult is one candidate path's identification outcome, collected
// so the registry/rdev mutation below can stay single-threaded while
// the actual disk I/O runs concurrently across candidates.
type scanResult struct {
	path     string
	group    *sb.Group
	rdevUUID uuid.UUID
	err      error
}

// probeCandidate opens and identifies a single candidate path.
func (o *Orchestrator) probeCandidate(path string) scanResult {
	h, err := o.pool.Get(path, o.openFlags)
	if err != nil {
		return scanResult{path: path, err: err}
	}

	g, rdevUUID, err := o.identify(h)
	if err != nil {
		o.pool.Evict(path)
		return scanResult{path: path, err: err}
	}

	return scanResult{path: path, group: g, rdevUUID: rdevUUID}
}

// scan tries every candidate path, attempting an exclusive direct open
// and a superblock read; a disk already opened by another process
// (ErrInUse) is skipped, since the monitor has already imported it.
// Candidates are probed concurrently, bounded by scanConcurrency, since
// each probe is dominated by disk I/O latency rather than CPU.
func (o *Orchestrator) scan(ctx context.Context, candidatePaths []string) ([]pathUUID, error) {
	paths := o.orderedCandidates(candidatePaths)

	results := make([]scanResult, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(scanConcurrency)

	for i, path := range paths {
		i, path := i, path
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				results[i] = scanResult{path: path, err: egCtx.Err()}
				return nil
			default:
			}
			results[i] = o.probeCandidate(path)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []pathUUID
	for _, res := range results {
		if res.err != nil {
			o.log.Debug("skipping candidate", "path", res.path, "error", res.err)
			continue
		}

		owner, lookupErr := o.registry.ByUUID(res.group.UUID)
		if lookupErr != nil {
			o.log.Debug("superblock group unknown to this node", "path", res.path, "group", res.group.UUID.String())
			o.pool.Evict(res.path)
			continue
		}

		rdev := owner.RdevByUUID(res.rdevUUID)
		if rdev == nil {
			o.pool.Evict(res.path)
			continue
		}

		if o.broken != nil && o.broken.IsBroken(res.rdevUUID) {
			o.log.Debug("not re-admitting disk already marked broken", "path", res.path, "rdev", res.rdevUUID.String())
			o.pool.Evict(res.path)
			rdev.Path = res.path
			rdev.State = group.RdevFail
			rdev.Broken = true
			continue
		}

		rdev.Path = res.path
		rdev.State = group.RdevOK
		rdev.Broken = false

		if o.cache != nil {
			_ = o.cache.Put(res.rdevUUID, res.path)
		}

		out = append(out, pathUUID{UUID: res.rdevUUID, Path: res.path})
	}

	return out, nil
}

// identify reads the tail-of-disk SBG and reports which group and rdev
// it belongs to.
func (o *Orchestrator) identify(h *diskio.Handle) (*sb.Group, uuid.UUID, error) {
	buf := diskio.AlignedBuffer(4096)

	off := tailOffset(h.Size())
	if err := h.ReadAt(buf, off); err != nil {
		return nil, uuid.Nil, err
	}

	g, err := sb.DecodeGroup(buf)
	if err != nil {
		return nil, uuid.Nil, err
	}

	return g, g.RdevUUID, nil
}

// tailOffset computes the SBG offset: the start of the reserved 32 KiB
// tail region, rounded down to a 32 KiB multiple if size isn't already
// one.
func tailOffset(size uint64) int64 {
	const reserve = 32 * 1024
	rounded := size - size%reserve
	return int64(rounded - reserve)
}

// orderedCandidates puts previously-cached paths first so a warm
// restart finds its disks without walking the full glob list.
func (o *Orchestrator) orderedCandidates(candidatePaths []string) []string {
	if o.cache == nil {
		return candidatePaths
	}

	cached, err := o.cache.All()
	if err != nil || len(cached) == 0 {
		return candidatePaths
	}

	seen := make(map[string]bool)
	ordered := make([]string, 0, len(candidatePaths))

	for _, p := range cached {
		if !seen[p] {
			ordered = append(ordered, p)
			seen[p] = true
		}
	}
	for _, p := range candidatePaths {
		if !seen[p] {
			ordered = append(ordered, p)
			seen[p] = true
		}
	}
	return ordered
}

// ExpandGlobs resolves a set of configured glob patterns into candidate
// device paths, deduplicated.
func ExpandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, pat := range patterns {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				out = append(out, m)
				seen[m] = true
			}
		}
	}
	return out, nil
}
