// Package health implements the per-node disk health monitor: a
// once-a-second probe sweep over every locally reachable rdev, OK/FAIL
// status tracking, and a CHECK_DOWN broadcast on a down transition that
// triggers a cluster recovery pass.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"exanodes.dev/vrt/cluster"
	"exanodes.dev/vrt/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Prober performs the synchronous probe I/O for one rdev: a read of the
// reserved superblock area, at least one 512-byte sector. Any error
// means the disk is suspected broken.
type Prober interface {
	Probe(ctx context.Context, path string) error
}

// Status is a disk's last-known health.
type Status int

const (
	StatusUnknown Status = iota
	StatusOK
	StatusFail
)

// CheckDownTopic is the cluster broadcast topic used to announce an
// OK -> FAIL transition.
const CheckDownTopic = "exanodes.health.check_down"

var (
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exanodes_health_probes_total",
		Help: "Total disk health probes performed, by result.",
	}, []string{"result"})

	downTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exanodes_health_down_transitions_total",
		Help: "Total OK -> FAIL disk status transitions observed locally.",
	})
)

// Monitor runs the probe sweep for every disk registered with it.
type Monitor struct {
	log     *slog.Logger
	prober  Prober
	bcast   cluster.Broadcaster
	limiter *rate.Limiter

	mu     sync.Mutex
	status map[string]Status    // path -> status
	rdevOf map[string]uuid.UUID // path -> owning rdev, for CheckDownEvent
}

// NewMonitor builds a monitor that probes at most once per second per
// disk; the limiter is shared across all disks, giving a node-wide
// sweep period rather than a per-disk independent rate.
func NewMonitor(log *slog.Logger, prober Prober, bcast cluster.Broadcaster) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		log:     log.With("component", "health"),
		prober:  prober,
		bcast:   bcast,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		status:  make(map[string]Status),
		rdevOf:  make(map[string]uuid.UUID),
	}
}

// Register adds a disk path to the sweep set, initially unknown status.
// rdevUUID is carried in the CheckDownEvent broadcast on a down
// transition, so a subscriber can mark the right rdev broken without
// having to reverse a path back to an identity itself.
func (m *Monitor) Register(path string, rdevUUID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.status[path]; !ok {
		m.status[path] = StatusUnknown
	}
	m.rdevOf[path] = rdevUUID
}

// Unregister removes a disk path from the sweep set, used when a disk
// is marked broken and removed or a group is stopped.
func (m *Monitor) Unregister(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.status, path)
	delete(m.rdevOf, path)
}

// Status returns a disk's last-known health.
func (m *Monitor) Status(path string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[path]
}

// Run executes the sweep loop until ctx is done: every second, probe
// every registered disk and broadcast CHECK_DOWN for each new FAIL.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}

	m.mu.Lock()
	paths := make([]string, 0, len(m.status))
	for p := range m.status {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	for _, path := range paths {
		m.probeOne(ctx, path)
	}
}

func (m *Monitor) probeOne(ctx context.Context, path string) {
	err := m.prober.Probe(ctx, path)

	newStatus := StatusOK
	result := "ok"
	if err != nil {
		newStatus = StatusFail
		result = "fail"
	}
	probesTotal.WithLabelValues(result).Inc()

	m.mu.Lock()
	old := m.status[path]
	m.status[path] = newStatus
	rdevUUID := m.rdevOf[path]
	m.mu.Unlock()

	if old == StatusOK && newStatus == StatusFail {
		downTransitions.Inc()
		m.log.Warn("disk transitioned to FAIL", "path", path, "error", err)

		if m.bcast != nil {
			payload, encErr := cluster.Encode(CheckDownEvent{Path: path, UUID: rdevUUID})
			if encErr == nil {
				if _, bErr := m.bcast.Exchange(ctx, CheckDownTopic, payload); bErr != nil {
					m.log.Error("failed to broadcast check_down", "error", bErr)
				}
			}
		}
	}
}

// CheckDownEvent is the payload broadcast on an OK -> FAIL transition.
type CheckDownEvent struct {
	Path string
	UUID uuid.UUID
}

// RegisterCheckDownHandler subscribes onDown to every CHECK_DOWN
// broadcast, local or from a peer, decoded down to the rdev UUID that
// failed its probe. It carries no reply: CHECK_DOWN is a notification,
// not a request a subscriber answers.
func RegisterCheckDownHandler(bcast cluster.Broadcaster, onDown func(uuid.UUID)) (func(), error) {
	return bcast.Subscribe(CheckDownTopic, func(payload []byte) []byte {
		var evt CheckDownEvent
		if err := cluster.Decode(payload, &evt); err != nil {
			return nil
		}
		if !evt.UUID.IsNil() {
			onDown(evt.UUID)
		}
		return nil
	})
}
