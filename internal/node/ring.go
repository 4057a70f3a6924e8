package node

import (
	"sync"

	"chordring/internal/logger"
	"chordring/internal/ringid"
)

// ringEntry holds one ring pointer (successor or predecessor) behind its
// own mutex, so a reader never blocks on an unrelated pointer update.
type ringEntry struct {
	mu   sync.RWMutex
	node ringid.Node
	set  bool
}

func (e *ringEntry) get() (ringid.Node, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.node, e.set
}

func (e *ringEntry) put(n ringid.Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.node = n
	e.set = true
}

func (e *ringEntry) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.node = ringid.Node{}
	e.set = false
}

// Ring tracks a node's successor and predecessor pointers. Routing is
// successor-only: there is no finger table, so Ring never needs more than
// these two pointers to answer find_successor.
type Ring struct {
	self ringid.Node
	lgr  logger.Logger

	successor   ringEntry
	predecessor ringEntry
}

// RingOption configures a Ring at construction time.
type RingOption func(*Ring)

// WithRingLogger attaches a logger to the ring.
func WithRingLogger(lgr logger.Logger) RingOption {
	return func(r *Ring) { r.lgr = lgr }
}

// NewRing builds a Ring for self, initially pointing to itself: a
// single-node ring is its own successor and has no predecessor.
func NewRing(self ringid.Node, opts ...RingOption) *Ring {
	r := &Ring{self: self, lgr: &logger.NopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	r.successor.put(self)
	return r
}

// Self returns this node's own identity.
func (r *Ring) Self() ringid.Node { return r.self }

// Successor returns the current successor pointer.
func (r *Ring) Successor() ringid.Node {
	n, _ := r.successor.get()
	return n
}

// SetSuccessor updates the successor pointer.
func (r *Ring) SetSuccessor(n ringid.Node) {
	r.successor.put(n)
	r.lgr.Debug("ring: successor updated", logger.FNode("successor", n))
}

// Predecessor returns the current predecessor pointer and whether it has
// ever been set (the node that founded the ring has none until a second
// peer joins).
func (r *Ring) Predecessor() (ringid.Node, bool) {
	return r.predecessor.get()
}

// SetPredecessor updates the predecessor pointer.
func (r *Ring) SetPredecessor(n ringid.Node) {
	r.predecessor.put(n)
	r.lgr.Debug("ring: predecessor updated", logger.FNode("predecessor", n))
}

// ClearPredecessor removes the predecessor pointer. Depart does not call
// it: a departing node's neighbors are relinked via UPDATE_* instead.
func (r *Ring) ClearPredecessor() {
	r.predecessor.clear()
}

// OwnsID reports whether id falls in this node's arc of responsibility:
// the interval (predecessor, self]. Before a predecessor is known (a
// freshly created single-node ring) the node owns the entire ring.
func (r *Ring) OwnsID(id ringid.ID) bool {
	pred, ok := r.Predecessor()
	if !ok {
		return true
	}
	return id.Between(pred.ID, r.self.ID)
}
