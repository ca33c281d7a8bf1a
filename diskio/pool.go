package diskio

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Pool is a bounded cache of open *Handle keyed by resolved path. The
// health monitor and request pipeline borrow handles through a Pool
// instead of each keeping private file descriptors, so a node with more
// configured rdevs than its fd ulimit still degrades by recycling idle
// handles rather than failing Open outright.
type Pool struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *Handle]
	flags   map[string]OpenFlags
}

// NewPool creates a Pool holding at most maxOpen handles. Evicted
// handles are closed.
func NewPool(maxOpen int) *Pool {
	p := &Pool{flags: make(map[string]OpenFlags)}

	cache, _ := lru.NewWithEvict[string, *Handle](maxOpen, func(path string, h *Handle) {
		h.Close()
	})
	p.cache = cache

	return p
}

// Get returns a handle for path, opening it with flags if not already
// cached. If the path is already open with different flags, it is
// reopened (the caller's requested flags win).
func (p *Pool) Get(path string, flags OpenFlags) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.cache.Get(path); ok && p.flags[path] == flags {
		return h, nil
	}

	if old, ok := p.cache.Peek(path); ok {
		old.Close()
		p.cache.Remove(path)
	}

	h, err := Open(path, flags)
	if err != nil {
		return nil, err
	}

	p.cache.Add(path, h)
	p.flags[path] = flags

	return h, nil
}

// Evict closes and removes path from the pool, if present. Used when a
// disk is recognized as broken so stale handles aren't reused.
func (p *Pool) Evict(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache.Remove(path)
	delete(p.flags, path)
}

// Len reports the number of currently open handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// Close closes every handle in the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}
