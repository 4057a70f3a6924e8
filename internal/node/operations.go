package node

import (
	"context"
	"errors"

	"chordring/internal/logger"
	"chordring/internal/ringid"
	"chordring/internal/storage"
	"chordring/internal/telemetry/lookuptrace"
	"chordring/internal/wire"
)

// ErrChainBroken is returned by a strong-consistency PUT/DELETE when a
// hop in the replication chain could not be reached.
var ErrChainBroken = errors.New("node: replication chain hop unreachable")

// FindSuccessor resolves the node responsible for id, walking successor
// pointers one hop at a time. There is no finger table: every hop that
// cannot answer locally forwards the query to its own successor.
func (n *Node) FindSuccessor(ctx context.Context, id ringid.ID) (ringid.Node, error) {
	ctx, span := lookuptrace.StartHop(ctx, n.ring.Self().ID.String())
	defer span.End()

	succ := n.ring.Successor()
	self := n.ring.Self()

	if self.Equal(succ) || id.Between(self.ID, succ.ID) {
		return succ, nil
	}

	resp, err := n.client.Send(ctx, succ.Addr, wire.Request{
		Cmd:    wire.CmdFindSuccessor,
		ID:     id.String(),
		Lookup: lookuptrace.Marked(ctx),
	})
	if err != nil || !resp.OK || resp.Node == nil {
		n.lgr.Warn("find_successor: forward failed, degrading to known successor",
			logger.F("target", id.String()), logger.FNode("successor", succ))
		return succ, nil
	}
	return nodeFromWire(resp.Node), nil
}

// Join contacts bootstrapAddr to locate this node's successor, wires up
// the predecessor/successor pointers on both sides and pulls the arc of
// keys this node now owns. An empty bootstrapAddr means this node is
// starting a brand-new ring. A bootstrap peer that is unreachable or
// returns an empty/malformed response is not fatal: this node simply
// degrades to founding its own single-node ring, keeping the self-loop
// NewRing already set up.
func (n *Node) Join(ctx context.Context, bootstrapAddr string) error {
	self := n.ring.Self()
	if bootstrapAddr == "" {
		n.lgr.Info("join: starting a new ring", logger.FNode("self", self))
		return nil
	}

	resp, err := n.client.Send(ctx, bootstrapAddr, wire.Request{Cmd: wire.CmdJoin, Node: nodeToWire(self)})
	if err != nil || !resp.OK || resp.Successor == nil {
		n.lgr.Warn("join: bootstrap peer unreachable or refused the request, falling back to a single-node ring",
			logger.F("bootstrap", bootstrapAddr))
		return nil
	}
	succ := nodeFromWire(resp.Successor)

	var oldPred ringid.Node
	if resp.Predecessor != nil {
		oldPred = nodeFromWire(resp.Predecessor)
	} else {
		oldPred = succ
	}

	n.ring.SetSuccessor(succ)
	n.ring.SetPredecessor(oldPred)

	if !oldPred.Equal(self) {
		if _, err := n.client.Send(ctx, oldPred.Addr, wire.Request{Cmd: wire.CmdUpdateSuccessor, Node: nodeToWire(self)}); err != nil {
			n.lgr.Warn("join: failed to update former predecessor's successor pointer", logger.F("err", err.Error()))
		}
	}
	if _, err := n.client.Send(ctx, succ.Addr, wire.Request{Cmd: wire.CmdUpdatePredecessor, Node: nodeToWire(self)}); err != nil {
		n.lgr.Warn("join: failed to update successor's predecessor pointer", logger.F("err", err.Error()))
	}

	entries, err := n.pullOwnedKeys(ctx, succ, oldPred.ID, self.ID)
	if err != nil {
		n.lgr.Warn("join: key transfer failed", logger.F("err", err.Error()))
	} else {
		n.store.Merge(entries)
		n.lgr.Info("join: acquired keys", logger.F("count", len(entries)))
	}
	return nil
}

// pullOwnedKeys asks holder to hand off every entry in (from, to]. The
// request carries ttl = R+1 so holder cascades the handoff one extra hop
// down its own replication chain, re-establishing a full set of replicas
// behind the newly joined owner.
func (n *Node) pullOwnedKeys(ctx context.Context, holder ringid.Node, from, to ringid.ID) ([]storage.Entry, error) {
	resp, err := n.client.Send(ctx, holder.Addr, wire.Request{
		Cmd:  wire.CmdTransferKeys,
		From: from.String(),
		To:   to.String(),
		TTL:  n.replication.Factor + 1,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, errors.New("transfer_keys: " + resp.Error)
	}
	return entriesFromWire(resp.Entries), nil
}

// Depart gracefully leaves the ring: it hands every locally stored entry
// to its successor, relinks its neighbors around itself and clears its
// own state. There is no crash-detection counterpart; an ungraceful exit
// simply leaves stale pointers for the next operation to route around.
func (n *Node) Depart(ctx context.Context) error {
	self := n.ring.Self()
	succ := n.ring.Successor()
	pred, hasPred := n.ring.Predecessor()

	for _, key := range n.takeUploadedKeys() {
		if err := n.Delete(ctx, key, self.Addr); err != nil {
			n.lgr.Warn("depart: failed to clean up own uploader tag",
				logger.F("key", key), logger.F("err", err.Error()))
		}
	}

	if self.Equal(succ) {
		n.lgr.Info("depart: last node in the ring, nothing to hand off")
		n.store.Clear()
		return nil
	}

	moveTTL := n.replication.Factor
	if moveTTL <= 0 {
		moveTTL = 1
	}
	all := n.store.All()
	if _, err := n.client.Send(ctx, succ.Addr, wire.Request{
		Cmd:     wire.CmdMoveAllKeys,
		Entries: entriesToWire(all),
		TTL:     moveTTL,
	}); err != nil {
		n.lgr.Warn("depart: failed to hand off local store to successor", logger.F("err", err.Error()))
	}

	if hasPred {
		if _, err := n.client.Send(ctx, succ.Addr, wire.Request{Cmd: wire.CmdUpdatePredecessor, Node: nodeToWire(pred)}); err != nil {
			n.lgr.Warn("depart: failed to update successor's predecessor pointer", logger.F("err", err.Error()))
		}
		if _, err := n.client.Send(ctx, pred.Addr, wire.Request{Cmd: wire.CmdUpdateSuccessor, Node: nodeToWire(succ)}); err != nil {
			n.lgr.Warn("depart: failed to update predecessor's successor pointer", logger.F("err", err.Error()))
		}
	}

	n.store.Clear()
	n.lgr.Info("depart: left the ring", logger.FNode("successor", succ))
	return nil
}

// Put inserts value under key, starting a replication chain of the
// configured factor rooted at the key's owning node. This node is the
// upload's origin: it remembers key so a later Depart can clean up its
// own uploader tag from wherever the chain placed it.
func (n *Node) Put(ctx context.Context, key, value string) error {
	n.recordUpload(key)

	id := n.space.Hash(key)
	owner, err := n.FindSuccessor(ctx, id)
	if err != nil {
		return err
	}
	self := n.ring.Self()
	req := wire.Request{
		Cmd:        wire.CmdPut,
		Key:        key,
		Value:      value,
		TTL:        n.replication.Factor - 1,
		ReplicaHop: 0,
		Node:       nodeToWire(owner),
	}
	if owner.Equal(self) {
		return n.handlePutChain(ctx, req)
	}
	resp, err := n.client.Send(ctx, owner.Addr, req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New("put: " + resp.Error)
	}
	return nil
}

// handlePutChain stores locally and, if replicas remain to place, forwards
// to the successor. Under strong consistency it waits for the whole
// remaining chain; under eventual consistency it fires the next hop and
// returns immediately after the local write.
func (n *Node) handlePutChain(ctx context.Context, req wire.Request) error {
	id := n.space.Hash(req.Key)
	n.store.Put(id, req.Key, req.Value)

	next, ok := n.nextChainHop(req)
	if !ok {
		return nil
	}
	forward := req
	forward.TTL--
	forward.ReplicaHop++

	if n.replication.Consistency == "eventual" {
		n.client.SendAsync(n.pool, next.Addr, forward)
		return nil
	}
	resp, err := n.client.Send(ctx, next.Addr, forward)
	if err != nil {
		return ErrChainBroken
	}
	if !resp.OK {
		return errors.New("put: " + resp.Error)
	}
	return nil
}

// nextChainHop decides whether a replication chain continues: it stops
// when TTL hops remain is exhausted, or when the next successor is the
// chain's own origin (the ring has fewer members than the replication
// factor, so continuing would just write over the owner again).
func (n *Node) nextChainHop(req wire.Request) (ringid.Node, bool) {
	if req.TTL <= 0 {
		return ringid.Node{}, false
	}
	succ := n.ring.Successor()
	if req.Node != nil && succ.ID.Equal(nodeFromWire(req.Node).ID) {
		return ringid.Node{}, false
	}
	if succ.Equal(n.ring.Self()) {
		return ringid.Node{}, false
	}
	return succ, true
}

// notFoundHolderID is the wire sentinel reported as a GET's holder id
// when no node in the chain held the key, matching the reference
// implementation's literal "id": -1.
const notFoundHolderID = "-1"

// Get resolves key's owner, walks the replication chain to its tail and
// returns the values found there along with the hex id of the node they
// were actually read from (notFoundHolderID if the key was nowhere in
// the chain). The wildcard key "*" is not a valid argument here;
// ring-wide inspection goes through GetAllRing instead.
func (n *Node) Get(ctx context.Context, key string) (values []string, holderID string, err error) {
	if key == wire.WildcardKey {
		return nil, notFoundHolderID, errors.New("get: wildcard key must be read via GetAllRing")
	}
	ctx = lookuptrace.Mark(ctx)
	id := n.space.Hash(key)
	owner, err := n.FindSuccessor(ctx, id)
	if err != nil {
		return nil, notFoundHolderID, err
	}
	if n.replication.Consistency == "eventual" {
		if values, err := n.store.Get(id, key); err == nil {
			// Eventual mode allows a stale local read even when this
			// node is not (or no longer) the custodian.
			return values, n.ring.Self().ID.String(), nil
		}
	}
	req := wire.Request{Cmd: wire.CmdGet, Key: key, TTL: n.replication.Factor - 1, Node: nodeToWire(owner)}
	if owner.Equal(n.ring.Self()) {
		values, holderID, found := n.chainGetLocal(ctx, req)
		if !found {
			return nil, notFoundHolderID, storage.ErrKeyNotFound
		}
		return values, holderID, nil
	}
	resp, err := n.client.Send(ctx, owner.Addr, req)
	if err != nil {
		return nil, notFoundHolderID, err
	}
	if !resp.OK || !resp.Found {
		return nil, notFoundHolderID, storage.ErrKeyNotFound
	}
	return resp.Values, resp.HolderID, nil
}

// chainGetLocal applies a GET on this node (already resolved as the
// custodian, possibly by a remote caller) and, when the replication
// factor places copies on further clockwise peers, walks the chain to
// read from the last replica instead — the "read-from-tail" discipline
// the reference implementation uses so a reader observes the most
// recently written copy rather than a potentially-stale primary. The
// returned holderID names whichever node the returned values actually
// came from.
func (n *Node) chainGetLocal(ctx context.Context, req wire.Request) (values []string, holderID string, found bool) {
	id := n.space.Hash(req.Key)
	local, localErr := n.store.Get(id, req.Key)
	self := n.ring.Self().ID.String()

	next, ok := n.nextChainHop(req)
	if !ok {
		if localErr != nil {
			return nil, notFoundHolderID, false
		}
		return local, self, true
	}
	forward := req
	forward.TTL--
	forward.ReplicaHop++
	resp, err := n.client.Send(ctx, next.Addr, forward)
	if err != nil || !resp.OK || !resp.Found {
		if localErr != nil {
			return nil, notFoundHolderID, false
		}
		return local, self, true
	}
	return resp.Values, resp.HolderID, true
}

// handleGetChain is the wire-level entry point for chainGetLocal when
// this node is reached as one hop of a GET chain (by the owner's direct
// caller, or as a further replica down the chain).
func (n *Node) handleGetChain(ctx context.Context, req wire.Request) wire.Response {
	values, holderID, found := n.chainGetLocal(ctx, req)
	return wire.Response{OK: true, Values: values, Found: found, HolderID: holderID}
}

// GetAllLocal returns every entry stored directly on this node, without
// any ring routing. It backs the GET key=="*" inspection case.
func (n *Node) GetAllLocal() []storage.Entry {
	return n.store.All()
}

// GetAllRing answers the GET key=="*" inspection case: it walks the ring
// once via Overlay and returns every live peer's local store exactly
// once, keyed by that peer's identifier.
func (n *Node) GetAllRing(ctx context.Context) (map[string][]storage.Entry, error) {
	members, err := n.Overlay(ctx)
	if err != nil {
		return nil, err
	}
	self := n.ring.Self()
	out := make(map[string][]storage.Entry, len(members))
	for _, m := range members {
		if m.Equal(self) {
			out[m.ID.String()] = n.store.All()
			continue
		}
		resp, err := n.client.Send(ctx, m.Addr, wire.Request{Cmd: wire.CmdGet, Key: wire.WildcardKey, Fanout: true})
		if err != nil || !resp.OK {
			n.lgr.Warn("get_all: peer unreachable, omitting from wildcard dump", logger.FNode("peer", m))
			continue
		}
		out[m.ID.String()] = entriesFromWire(resp.Entries)
	}
	return out, nil
}

// Delete removes value from the set stored under key, walking the same
// replication chain a Put would have used.
func (n *Node) Delete(ctx context.Context, key, value string) error {
	if key == "" || value == "" {
		return errors.New(wire.WrongParams)
	}
	id := n.space.Hash(key)
	owner, err := n.FindSuccessor(ctx, id)
	if err != nil {
		return err
	}
	req := wire.Request{
		Cmd:   wire.CmdDelete,
		Key:   key,
		Value: value,
		TTL:   n.replication.Factor - 1,
		Node:  nodeToWire(owner),
	}
	if owner.Equal(n.ring.Self()) {
		return n.handleDeleteChain(ctx, req)
	}
	resp, err := n.client.Send(ctx, owner.Addr, req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New("delete: " + resp.Error)
	}
	return nil
}

func (n *Node) handleDeleteChain(ctx context.Context, req wire.Request) error {
	id := n.space.Hash(req.Key)
	localErr := n.store.Delete(id, req.Key, req.Value)

	next, ok := n.nextChainHop(req)
	if !ok {
		return localErr
	}
	forward := req
	forward.TTL--
	forward.ReplicaHop++

	if n.replication.Consistency == "eventual" {
		n.client.SendAsync(n.pool, next.Addr, forward)
		return localErr
	}
	if _, err := n.client.Send(ctx, next.Addr, forward); err != nil {
		return ErrChainBroken
	}
	return localErr
}

// TransferKeys hands off every locally stored entry in (from, to] to the
// caller, removing them from this node's own store.
func (n *Node) TransferKeys(from, to ringid.ID) []storage.Entry {
	entries := n.store.Between(from, to)
	n.store.RemoveRange(from, to)
	return entries
}

// cascadeTransfer re-establishes replicas behind a newly transferred
// ownership range: when ttl leaves more than one hop, it pushes a copy
// of the handed-off entries on to this node's own successor so the full
// replication window shifts one peer clockwise instead of leaving a gap
// behind the new owner.
func (n *Node) cascadeTransfer(ctx context.Context, entries []storage.Entry, ttl int) {
	if ttl <= 1 || len(entries) == 0 {
		return
	}
	succ := n.ring.Successor()
	if succ.Equal(n.ring.Self()) {
		return
	}
	if _, err := n.client.Send(ctx, succ.Addr, wire.Request{
		Cmd:     wire.CmdMoveAllKeys,
		Entries: entriesToWire(entries),
		TTL:     ttl - 1,
	}); err != nil {
		n.lgr.Warn("transfer_keys: failed to cascade replicas to successor", logger.F("err", err.Error()))
	}
}

// MoveAllKeys merges a departing peer's entire local store into this
// node's own store.
func (n *Node) MoveAllKeys(entries []storage.Entry) {
	n.store.Merge(entries)
}

// handleMoveAllKeys applies a MOVE_ALL_KEYS payload locally and, while
// ttl leaves more than one hop, forwards the subset whose ids fall outside
// the successor's arc (self, successor] on to its successor so every remaining replica
// in the chain absorbs the departed peer's data, not just the immediate
// neighbor.
func (n *Node) handleMoveAllKeys(ctx context.Context, entries []storage.Entry, ttl int) {
	n.MoveAllKeys(entries)
	if ttl <= 1 {
		return
	}
	self := n.ring.Self()
	succ := n.ring.Successor()
	if succ.Equal(self) {
		return
	}
	forward := make([]storage.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.ID.Between(self.ID, succ.ID) {
			forward = append(forward, e)
		}
	}
	if len(forward) == 0 {
		return
	}
	if _, err := n.client.Send(ctx, succ.Addr, wire.Request{
		Cmd:     wire.CmdMoveAllKeys,
		Entries: entriesToWire(forward),
		TTL:     ttl - 1,
	}); err != nil {
		n.lgr.Warn("move_all_keys: failed to cascade to successor", logger.F("err", err.Error()))
	}
}

// Overlay walks successor pointers starting at self until the ring loops
// back, returning the full membership list as currently observed. Since
// there is no stabilize loop, this reflects only pointers set by prior
// join/depart traffic, not crash-repaired state.
func (n *Node) Overlay(ctx context.Context) ([]ringid.Node, error) {
	self := n.ring.Self()
	ring := []ringid.Node{self}

	cur := n.ring.Successor()
	for i := 0; i < n.overlayHopCap() && !cur.Equal(self); i++ {
		ring = append(ring, cur)
		resp, err := n.client.Send(ctx, cur.Addr, wire.Request{Cmd: wire.CmdGetNodeInfo})
		if err != nil || !resp.OK || resp.Successor == nil {
			break
		}
		cur = nodeFromWire(resp.Successor)
	}
	return ring, nil
}

// overlayHopCap bounds the overlay walk so an inconsistent ring (broken
// successor chain) cannot spin forever.
func (n *Node) overlayHopCap() int {
	return 1 << n.space.Bits
}

func nodeToWire(n ringid.Node) *wire.NodeInfo {
	return &wire.NodeInfo{ID: n.ID.String(), Addr: n.Addr}
}

func nodeFromWire(w *wire.NodeInfo) ringid.Node {
	if w == nil {
		return ringid.Node{}
	}
	id, _ := hexToID(w.ID)
	return ringid.Node{ID: id, Addr: w.Addr}
}

// hexToID decodes a hex identifier without requiring a Space, since the
// wire format carries identifiers whose byte length is implied by the
// string itself.
func hexToID(s string) (ringid.ID, error) {
	sp := ringid.Space{Bits: len(s) * 4, ByteLen: (len(s) + 1) / 2}
	return sp.FromHexString(s)
}

func entriesToWire(entries []storage.Entry) []wire.Entry {
	out := make([]wire.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.Entry{ID: e.ID.String(), Key: e.Key, Values: e.Values})
	}
	return out
}

func entriesFromWire(entries []wire.Entry) []storage.Entry {
	out := make([]storage.Entry, 0, len(entries))
	for _, e := range entries {
		id, err := hexToID(e.ID)
		if err != nil {
			continue
		}
		out = append(out, storage.Entry{ID: id, Key: e.Key, Values: e.Values})
	}
	return out
}
