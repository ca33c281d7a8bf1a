package pipeline

import (
	"context"

	"exanodes.dev/vrt/units"
	"github.com/oklog/ulid/v2"
)

// Opcode identifies what a request does to the backend. The two barrier
// marker opcodes never carry data and never reach the backend: they
// exist purely to gate dequeue order in a minorQueue.
type Opcode int

const (
	OpRead Opcode = iota
	OpWrite
	opBarrierPre
	opBarrierPost
)

// part is one caller's stake in a (possibly merged) Request: the thing
// Submit hands back so the caller can wait for its own bytes without
// caring whether they ended up folded into a larger physical I/O.
type part struct {
	done chan error
}

func newPart() *part {
	return &part{done: make(chan error, 1)}
}

// Wait blocks until the request carrying this part completes, or ctx is
// done first.
func (p *part) Wait(ctx context.Context) error {
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *part) complete(err error) {
	p.done <- err
}

// Request is one queued unit of backend I/O. A Request may represent
// several merged caller submissions (same minor, same opcode, same
// barrier flag, contiguous sectors): each keeps its own part so it
// completes independently of how the merge happened to group it.
type Request struct {
	ID      ulid.ULID
	Minor   int
	Sector  uint64
	Count   uint32 // sectors
	Opcode  Opcode
	Barrier bool
	Data    []byte

	parts []*part
}

func newRequest(minor int, sector uint64, count uint32, op Opcode, barrier bool, data []byte) (*Request, *part) {
	p := newPart()
	r := &Request{
		ID:      ulid.Make(),
		Minor:   minor,
		Sector:  sector,
		Count:   count,
		Opcode:  op,
		Barrier: barrier,
		Data:    data,
		parts:   []*part{p},
	}
	return r, p
}

func newMarker(minor int, op Opcode) *Request {
	return &Request{
		ID:     ulid.Make(),
		Minor:  minor,
		Opcode: op,
	}
}

func (r *Request) completeAll(err error) {
	for _, p := range r.parts {
		p.complete(err)
	}
}

// canMerge reports whether newcomer can be folded into tail: same
// opcode, same barrier flag, contiguous sectors, and the combined size
// still fits under MaxRequestSize. Markers never merge with anything.
func canMerge(tail, newcomer *Request) bool {
	if tail.Opcode != newcomer.Opcode {
		return false
	}
	if tail.Opcode == opBarrierPre || tail.Opcode == opBarrierPost {
		return false
	}
	if tail.Barrier || newcomer.Barrier {
		return false
	}
	if tail.Sector+uint64(tail.Count) != newcomer.Sector {
		return false
	}
	if (uint64(tail.Count)+uint64(newcomer.Count))*units.SectorSize > MaxRequestSize {
		return false
	}
	return true
}

func mergeInto(tail, newcomer *Request) {
	tail.Data = append(tail.Data, newcomer.Data...)
	tail.Count += newcomer.Count
	tail.parts = append(tail.parts, newcomer.parts...)
}
