package pipeline

import "sync"

// minorQueue is the per-minor FIFO a dispatcher drains one request at a
// time from, round-robin with every other registered minor. Submission
// merges a contiguous same-opcode request into the current tail;
// dequeue enforces that a barrier marker only leaves the queue once
// every request dequeued ahead of it has physically completed, which is
// what gives the pre/write/post triple its ordering guarantee.
type minorQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*Request
	inFlight int
	stopped  bool
}

func newMinorQueue() *minorQueue {
	q := &minorQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// submit enqueues r, merging into the current tail if possible. Never
// called with a marker; markers go through appendOnly.
func (q *minorQueue) submit(r *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.pending); n > 0 {
		tail := q.pending[n-1]
		if canMerge(tail, r) {
			mergeInto(tail, r)
			return
		}
	}
	q.pending = append(q.pending, r)
}

// appendOnly enqueues r without attempting a merge: used for barrier
// markers and for the barrier-flagged write itself, neither of which
// may ever be folded into a neighboring request.
func (q *minorQueue) appendOnly(r *Request) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
}

// dequeue pops the head request if it's eligible to run: a marker is
// only eligible once every previously dequeued request on this minor
// has completed (inFlight == 0); a regular request is always eligible
// in FIFO order.
func (q *minorQueue) dequeue() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || len(q.pending) == 0 {
		return nil, false
	}

	head := q.pending[0]
	if (head.Opcode == opBarrierPre || head.Opcode == opBarrierPost) && q.inFlight > 0 {
		return nil, false
	}

	q.pending = q.pending[1:]
	q.inFlight++
	return head, true
}

// completeInFlight marks one previously dequeued request as physically
// done, unblocking any barrier marker waiting behind it.
func (q *minorQueue) completeInFlight() {
	q.mu.Lock()
	q.inFlight--
	if q.inFlight == 0 {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// cancelAll fails every still-pending request with err and marks the
// queue stopped, so no further submit/dequeue succeeds.
func (q *minorQueue) cancelAll(err error) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.stopped = true
	q.mu.Unlock()

	for _, r := range pending {
		r.completeAll(err)
	}
}

// waitQuiesced blocks until no request dequeued from this minor is
// still in flight. Used by StopMinor after cancelAll to make sure no
// in-progress backend I/O still references the minor being torn down.
func (q *minorQueue) waitQuiesced() {
	q.mu.Lock()
	for q.inFlight > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
