// Package pipeline implements the request path between a started zone
// and its backing placement: per-minor queues with contiguous-request
// merging, barrier ordering, and fair round-robin dispatch onto a
// bounded pool of backend workers. It stands in for the kernel/user
// shared-memory ring of a real block-device driver; a buffered Go
// channel plays the same backpressure role the ring's slot count does,
// and ULIDs give every dispatched request a sortable, unique id.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"exanodes.dev/vrt/units"
)

const (
	// MaxRequestSize bounds how large a merged request can grow before
	// the merge rule refuses to fold in one more contiguous submission.
	MaxRequestSize = 1 << 20 // 1 MiB

	// MinSlots is the minimum ring depth a Config may request.
	MinSlots = 4
)

// Config sizes a Pipeline's request ring and per-slot buffer.
type Config struct {
	// NbSlots is the depth of the new-request ring; it bounds how many
	// requests may be dispatched to the backend concurrently.
	NbSlots int

	// BufferSizePerSlot is the per-slot buffer size, in bytes. Validate
	// requires a positive multiple of units.PageSize; the pipeline does
	// not otherwise use it, and it does not cap the size of an I/O.
	BufferSizePerSlot int

	// Workers is the number of concurrent backend workers. Defaults to
	// 1 if zero.
	Workers int
}

// Validate checks the memory-budget invariants: nb_slots >= MinSlots,
// buffer_size a positive page multiple.
func (c Config) Validate() error {
	if c.NbSlots < MinSlots {
		return ErrTooFewSlots
	}
	if c.BufferSizePerSlot <= 0 || c.BufferSizePerSlot%units.PageSize != 0 {
		return ErrBadBufferSize
	}
	return nil
}

// Pipeline dispatches submitted requests, fairly round-robin across
// registered minors, onto a backend.
type Pipeline struct {
	log     *slog.Logger
	backend BlockBackend
	cfg     Config

	mu      sync.Mutex
	queues  map[int]*minorQueue
	order   []int
	lastIdx int

	newRequests chan *Request
	wake        chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a Pipeline bound to backend. The pipeline runs its
// dispatch and worker loops until Close is called.
func New(log *slog.Logger, backend BlockBackend, cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		log:         log.With("component", "pipeline"),
		backend:     backend,
		cfg:         cfg,
		queues:      make(map[int]*minorQueue),
		newRequests: make(chan *Request, cfg.NbSlots),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	p.wg.Add(1 + cfg.Workers)
	go p.dispatchLoop()
	for i := 0; i < cfg.Workers; i++ {
		go p.workerLoop()
	}
	return p, nil
}

// Close stops the dispatch and worker loops, waiting for any request a
// worker is already executing to finish, and completes every request
// still queued or waiting in the ring with ErrClosed.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()

	for drained := false; !drained; {
		select {
		case req := <-p.newRequests:
			req.completeAll(ErrClosed)
		default:
			drained = true
		}
	}

	p.mu.Lock()
	queues := make([]*minorQueue, 0, len(p.queues))
	for _, q := range p.queues {
		queues = append(queues, q)
	}
	p.mu.Unlock()

	for _, q := range queues {
		q.cancelAll(ErrClosed)
	}
}

// RegisterMinor brings minor into the round-robin dispatch rotation.
func (p *Pipeline) RegisterMinor(minor int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.queues[minor]; ok {
		return ErrAlreadyRegistered
	}
	p.queues[minor] = newMinorQueue()
	p.order = append(p.order, minor)
	return nil
}

// StopMinor cancels every pending request on minor with ErrStopped,
// waits for any request already dispatched to a worker to finish, and
// removes minor from the dispatch rotation.
func (p *Pipeline) StopMinor(minor int) error {
	q := p.queueFor(minor)
	if q == nil {
		return ErrMinorNotRegistered
	}

	q.cancelAll(ErrStopped)
	q.waitQuiesced()

	// Unregister only after draining: process finds the queue through
	// p.queues to record each completion, so removing it first would
	// leave waitQuiesced waiting on a request already in flight.
	p.mu.Lock()
	if p.queues[minor] == q {
		delete(p.queues, minor)
		p.order = removeInt(p.order, minor)
	}
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) queueFor(minor int) *minorQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queues[minor]
}

// Submit enqueues one bio-sized request against minor. If barrier is
// set, it is realized as three queue entries: a pre-barrier marker, the
// write itself carrying the barrier flag, and a post-barrier marker;
// the marker pair guarantees everything submitted before this call has
// physically completed before the write starts, and that nothing
// submitted after this call starts before the write (and its marker)
// finish. The returned handle completes when the write itself (not the
// markers) is done.
func (p *Pipeline) Submit(minor int, sector uint64, count uint32, opcode Opcode, barrier bool, data []byte) (*Waiter, error) {
	q := p.queueFor(minor)
	if q == nil {
		return nil, ErrMinorNotRegistered
	}

	if barrier {
		q.appendOnly(newMarker(minor, opBarrierPre))
	}

	r, pt := newRequest(minor, sector, count, opcode, barrier, data)
	if barrier {
		// Barrier writes are never folded into a neighbor; they must
		// remain their own queue entry so the post marker gates on
		// exactly this request's completion.
		q.appendOnly(r)
	} else {
		q.submit(r)
	}

	if barrier {
		q.appendOnly(newMarker(minor, opBarrierPost))
	}

	p.signalWake()
	return &Waiter{p: pt}, nil
}

// Waiter is the handle a caller uses to wait for its submitted request.
type Waiter struct{ p *part }

// Wait blocks until the request completes or ctx is done.
func (w *Waiter) Wait(ctx context.Context) error {
	return w.p.Wait(ctx)
}

func (p *Pipeline) signalWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop wakes whenever Submit or a worker completion signals new
// work may be ready, and runs one fairness pass over every registered
// minor.
func (p *Pipeline) dispatchLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
		p.dispatchPass()
	}
}

// dispatchPass walks the minor rotation once, starting just after the
// last minor served, dequeuing at most one request per minor. A minor
// with nothing eligible to dequeue (empty, or a marker waiting on
// drain) is skipped without consuming its turn twice.
func (p *Pipeline) dispatchPass() {
	p.mu.Lock()
	order := append([]int(nil), p.order...)
	start := p.lastIdx
	p.mu.Unlock()

	if len(order) == 0 {
		return
	}

	for i := 0; i < len(order); i++ {
		idx := (start + 1 + i) % len(order)
		minor := order[idx]

		q := p.queueFor(minor)
		if q == nil {
			continue
		}
		req, ok := q.dequeue()
		if !ok {
			continue
		}

		p.mu.Lock()
		p.lastIdx = idx
		p.mu.Unlock()

		select {
		case p.newRequests <- req:
		case <-p.ctx.Done():
			return
		}
	}
}

// workerLoop pulls dispatched requests off the ring and issues them
// against the backend, one at a time per worker goroutine.
func (p *Pipeline) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case req, ok := <-p.newRequests:
			if !ok {
				return
			}
			p.process(req)
		}
	}
}

func (p *Pipeline) process(req *Request) {
	var err error

	switch req.Opcode {
	case OpRead:
		err = p.backend.ReadAt(req.Data, int64(req.Sector)*units.SectorSize)
	case OpWrite:
		err = p.backend.WriteAt(req.Data, int64(req.Sector)*units.SectorSize)
		if err == nil && req.Barrier {
			err = p.backend.Sync()
		}
	case opBarrierPre, opBarrierPost:
		// Markers carry no I/O; reaching process means every request
		// dequeued ahead of them already completed.
	}

	if err != nil {
		p.log.Error("request failed", "minor", req.Minor, "opcode", req.Opcode, "error", err)
	}

	req.completeAll(err)

	q := p.queueFor(req.Minor)
	if q != nil {
		q.completeInFlight()
	}
	p.signalWake()
}

func removeInt(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
