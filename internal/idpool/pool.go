// Package idpool implements the integer-recycling pool spec.md §5
// requires for layer, buffer, and stream identifiers: low integers are
// handed out densely and reused once freed, rather than monotonically
// increasing forever.
package idpool

import "sync"

// Pool hands out non-negative integers, preferring ones that have been
// freed back into the pool over minting a brand new one, once the pool
// has minted at least minSize ids. This mirrors
// original_source's guac_pool: a small pool stays dense (ids 0..n-1)
// under steady churn instead of drifting upward.
type Pool struct {
	mu      sync.Mutex
	minSize int
	next    int
	free    []int
}

// New creates a pool that will not reuse a freed id until it has minted
// at least minSize ids, so a cache of recently-drawn ids can't thrash
// immediately after a burst of frees.
func New(minSize int) *Pool {
	return &Pool{minSize: minSize}
}

// Get draws an id: a freed one if the pool has reached minSize, else a
// fresh one.
func (p *Pool) Get() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) > 0 && p.next >= p.minSize {
		n := len(p.free) - 1
		id := p.free[n]
		p.free = p.free[:n]
		return id
	}

	id := p.next
	p.next++
	return id
}

// Put returns an id to the pool for future reuse.
func (p *Pool) Put(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, id)
}

// Size reports the number of ids ever minted (not the number currently
// outstanding), for diagnostics.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
