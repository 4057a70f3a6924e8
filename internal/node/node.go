// Package node implements the Chord ring's core logic: membership
// (join/depart), successor-only routing, chained replication for
// PUT/GET/DELETE, and ownership handoff between peers.
package node

import (
	"context"
	"sync"

	"chordring/internal/config"
	"chordring/internal/logger"
	"chordring/internal/ringid"
	"chordring/internal/rpcclient"
	"chordring/internal/storage"
)

// Node is one peer's view of the ring: its own identity, its successor
// and predecessor pointers, its local store, and the means to talk to
// the rest of the ring.
type Node struct {
	space ringid.Space
	ring  *Ring
	store *storage.Store

	client *rpcclient.Client
	pool   *rpcclient.Pool

	replication config.ReplicationConfig

	uploadedMu   sync.Mutex
	uploadedKeys []string // keys whose client PUT was received directly by this node

	lgr logger.Logger
}

// Option configures a Node at construction time.
type Option func(*Node)

// WithLogger attaches a logger to the node and everything it owns.
func WithLogger(lgr logger.Logger) Option {
	return func(n *Node) { n.lgr = lgr }
}

// New builds a Node identified by self within space, configured with the
// given replication policy and RPC client.
func New(self ringid.Node, space ringid.Space, replication config.ReplicationConfig, client *rpcclient.Client, opts ...Option) *Node {
	n := &Node{
		space:       space,
		client:      client,
		pool:        rpcclient.NewPool(),
		replication: replication,
		lgr:         &logger.NopLogger{},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.ring = NewRing(self, WithRingLogger(n.lgr.Named("ring")))
	n.store = storage.New(n.lgr.Named("storage"))
	return n
}

// Self returns this node's own ring identity.
func (n *Node) Self() ringid.Node { return n.ring.Self() }

// Space returns the identifier space this node operates in.
func (n *Node) Space() ringid.Space { return n.space }

// Successor returns the current successor pointer.
func (n *Node) Successor() ringid.Node { return n.ring.Successor() }

// Predecessor returns the current predecessor pointer, if any.
func (n *Node) Predecessor() (ringid.Node, bool) { return n.ring.Predecessor() }

// Drain waits for every outstanding fire-and-forget replication send to
// finish, used by tests asserting on eventually consistent state.
func (n *Node) Drain(ctx context.Context) error {
	return n.pool.Drain(ctx)
}

// recordUpload appends key to the list of uploads this node originated,
// so a later Depart can clean up its own uploader tag from the ring.
func (n *Node) recordUpload(key string) {
	n.uploadedMu.Lock()
	defer n.uploadedMu.Unlock()
	n.uploadedKeys = append(n.uploadedKeys, key)
}

// takeUploadedKeys empties and returns the list of keys this node
// originated, for Depart to walk exactly once.
func (n *Node) takeUploadedKeys() []string {
	n.uploadedMu.Lock()
	defer n.uploadedMu.Unlock()
	keys := n.uploadedKeys
	n.uploadedKeys = nil
	return keys
}
