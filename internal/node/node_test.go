package node_test

import (
	"context"
	"net"
	"sort"
	"testing"
	"time"

	"chordring/internal/config"
	"chordring/internal/logger"
	"chordring/internal/node"
	"chordring/internal/ringid"
	"chordring/internal/rpcclient"
	"chordring/internal/server"
)

// testPeer bundles one ring member's Node and its live TCP server, so a
// test can address it by dialable addr the same way a real peer would.
type testPeer struct {
	n   *node.Node
	srv *server.Server
}

func (p *testPeer) Close() { p.srv.Stop() }

// startRing boots count peers in an empty ring space, joins peer i+1 to
// peer i for every i, and returns them in join order (peers[0] founded
// the ring). Every peer shares the same replication policy and a single
// rpcclient instance, matching how a real deployment's node talks to the
// rest of the ring over one client per process.
func startRing(t *testing.T, count int, repl config.ReplicationConfig) []*testPeer {
	t.Helper()
	space, err := ringid.NewSpace(16)
	if err != nil {
		t.Fatalf("ringid.NewSpace: %v", err)
	}
	client := rpcclient.New(rpcclient.WithTimeout(2 * time.Second))

	peers := make([]*testPeer, 0, count)
	for i := 0; i < count; i++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addr := lis.Addr().String()
		self := ringid.Node{ID: space.Hash(addr), Addr: addr}

		n := node.New(self, space, repl, client, node.WithLogger(&logger.NopLogger{}))
		srv := server.New(lis, n)
		go srv.Start()

		bootstrap := ""
		if i > 0 {
			bootstrap = peers[0].n.Self().Addr
		}
		if err := n.Join(context.Background(), bootstrap); err != nil {
			t.Fatalf("peer %d join: %v", i, err)
		}

		peers = append(peers, &testPeer{n: n, srv: srv})
	}

	t.Cleanup(func() {
		for _, p := range peers {
			p.Close()
		}
	})
	return peers
}

func strongConfig(factor int) config.ReplicationConfig {
	return config.ReplicationConfig{Factor: factor, Consistency: "strong", ChainTimeout: config.Duration(2 * time.Second)}
}

func TestSingleNodePutGetDelete(t *testing.T) {
	peers := startRing(t, 1, strongConfig(1))
	n := peers[0].n
	ctx := context.Background()

	if err := n.Put(ctx, "song-1", "alice"); err != nil {
		t.Fatalf("put: %v", err)
	}
	values, holderID, err := n.Get(ctx, "song-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(values) != 1 || values[0] != "alice" {
		t.Fatalf("unexpected values: %v", values)
	}
	if holderID != n.Self().ID.String() {
		t.Fatalf("expected holder id %s, got %s", n.Self().ID.String(), holderID)
	}

	if err := n.Delete(ctx, "song-1", "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, holderID, err := n.Get(ctx, "song-1"); err == nil {
		t.Fatalf("expected get to fail after delete")
	} else if holderID != "-1" {
		t.Fatalf("expected not-found holder id -1, got %s", holderID)
	}
}

func TestPutRoutesToOwnerAcrossRing(t *testing.T) {
	peers := startRing(t, 3, strongConfig(1))
	ctx := context.Background()

	// Issue every write and every read through peer 0, regardless of
	// which peer actually owns the key: a client should never need to
	// know the ring's membership to get a correct answer.
	entry := peers[0].n
	keys := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for _, k := range keys {
		if err := entry.Put(ctx, k, "v-"+k); err != nil {
			t.Fatalf("put %q: %v", k, err)
		}
	}
	peerIDs := make(map[string]bool, len(peers))
	for _, p := range peers {
		peerIDs[p.n.Self().ID.String()] = true
	}

	for _, k := range keys {
		values, holderID, err := entry.Get(ctx, k)
		if err != nil {
			t.Fatalf("get %q: %v", k, err)
		}
		if len(values) != 1 || values[0] != "v-"+k {
			t.Fatalf("get %q: unexpected values %v", k, values)
		}
		if !peerIDs[holderID] {
			t.Fatalf("get %q: holder id %s is not a ring member", k, holderID)
		}
	}
}

func TestReplicationChainReadableFromEveryPeer(t *testing.T) {
	peers := startRing(t, 3, strongConfig(3))
	ctx := context.Background()

	if err := peers[0].n.Put(ctx, "replicated-key", "v1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	// With a replication factor of 3 in a 3-node ring, every peer holds a
	// copy; asking any one of them for the key must succeed, since the
	// owner's chain write reached the whole ring.
	for i, p := range peers {
		values, _, err := p.n.Get(ctx, "replicated-key")
		if err != nil {
			t.Fatalf("peer %d get: %v", i, err)
		}
		if len(values) != 1 || values[0] != "v1" {
			t.Fatalf("peer %d: unexpected values %v", i, values)
		}
	}
}

func TestDepartHandsOffKeysAndCleansUploaderTag(t *testing.T) {
	peers := startRing(t, 2, strongConfig(1))
	ctx := context.Background()

	leaving := peers[0].n
	survivor := peers[1].n

	if err := leaving.Put(ctx, "owned-by-leaver", "v1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	// The leaver also tags the key with its own address; Depart must
	// remove that uploader tag, leaving only "v1" behind.
	if err := leaving.Put(ctx, "owned-by-leaver", leaving.Self().Addr); err != nil {
		t.Fatalf("put uploader tag: %v", err)
	}

	if err := leaving.Depart(ctx); err != nil {
		t.Fatalf("depart: %v", err)
	}

	values, holderID, err := survivor.Get(ctx, "owned-by-leaver")
	if err != nil {
		t.Fatalf("survivor get after depart: %v", err)
	}
	if len(values) != 1 || values[0] != "v1" {
		t.Fatalf("unexpected values after handoff: %v", values)
	}
	if holderID != survivor.Self().ID.String() {
		t.Fatalf("expected holder id %s, got %s", survivor.Self().ID.String(), holderID)
	}
}

// hasLocalKey reports whether n's own local store (not the ring-routed
// view) holds key, used to inspect exactly which peer a replica landed
// on rather than the location-transparent answer Get would give.
func hasLocalKey(n *node.Node, key string) bool {
	for _, e := range n.GetAllLocal() {
		if e.Key == key {
			return true
		}
	}
	return false
}

func TestDepartCascadesReplicasBeyondImmediateSuccessor(t *testing.T) {
	peers := startRing(t, 4, strongConfig(3))
	ctx := context.Background()
	key := "cascade-key"

	if err := peers[0].n.Put(ctx, key, "v1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	owner, err := peers[0].n.FindSuccessor(ctx, peers[0].n.Space().Hash(key))
	if err != nil {
		t.Fatalf("find_successor: %v", err)
	}
	ring, err := peers[0].n.Overlay(ctx)
	if err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if len(ring) != 4 {
		t.Fatalf("expected 4-member ring, got %d", len(ring))
	}
	ownerIdx := -1
	for i, m := range ring {
		if m.Equal(owner) {
			ownerIdx = i
			break
		}
	}
	if ownerIdx == -1 {
		t.Fatalf("owner %s not found in overlay", owner.Addr)
	}

	byAddr := make(map[string]*testPeer, len(peers))
	for _, p := range peers {
		byAddr[p.n.Self().Addr] = p
	}
	firstReplica := byAddr[ring[(ownerIdx+1)%4].Addr]
	farthest := byAddr[ring[(ownerIdx+3)%4].Addr]

	// With a replication factor of 3 in a 4-node ring, the peer three hops
	// past the owner (its predecessor) is outside the original replica set.
	if hasLocalKey(farthest.n, key) {
		t.Fatalf("farthest peer unexpectedly already holds the key before depart")
	}

	if err := firstReplica.n.Depart(ctx); err != nil {
		t.Fatalf("depart: %v", err)
	}

	if !hasLocalKey(farthest.n, key) {
		t.Fatalf("expected the MOVE_ALL_KEYS cascade to reach the farthest peer after depart")
	}
}

func TestOverlayListsEveryMember(t *testing.T) {
	peers := startRing(t, 4, strongConfig(1))
	ctx := context.Background()

	ring, err := peers[0].n.Overlay(ctx)
	if err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if len(ring) != len(peers) {
		t.Fatalf("expected %d members, got %d", len(peers), len(ring))
	}

	seen := make(map[string]bool, len(ring))
	for _, m := range ring {
		seen[m.Addr] = true
	}
	for _, p := range peers {
		if !seen[p.n.Self().Addr] {
			t.Fatalf("overlay missing member %s", p.n.Self().Addr)
		}
	}
}

func TestGetAllRingDumpsEveryPeerStore(t *testing.T) {
	peers := startRing(t, 3, strongConfig(1))
	ctx := context.Background()

	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6"}
	for _, k := range keys {
		if err := peers[0].n.Put(ctx, k, "v-"+k); err != nil {
			t.Fatalf("put %q: %v", k, err)
		}
	}

	byPeer, err := peers[0].n.GetAllRing(ctx)
	if err != nil {
		t.Fatalf("get_all_ring: %v", err)
	}
	if len(byPeer) != len(peers) {
		t.Fatalf("expected an entry for every peer, got %d", len(byPeer))
	}

	var total int
	for _, entries := range byPeer {
		total += len(entries)
	}
	if total != len(keys) {
		t.Fatalf("expected %d total keys across the ring, got %d", len(keys), total)
	}
}

func TestEventualConsistencyAllowsStaleLocalRead(t *testing.T) {
	repl := config.ReplicationConfig{Factor: 2, Consistency: "eventual", ChainTimeout: config.Duration(2 * time.Second)}
	peers := startRing(t, 2, repl)
	ctx := context.Background()

	if err := peers[0].n.Put(ctx, "eventual-key", "v1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := peers[0].n.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	values, _, err := peers[0].n.Get(ctx, "eventual-key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sort.Strings(values)
	if len(values) != 1 || values[0] != "v1" {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestMultipleValuesPerKey(t *testing.T) {
	peers := startRing(t, 1, strongConfig(1))
	n := peers[0].n
	ctx := context.Background()

	if err := n.Put(ctx, "shared", "a"); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := n.Put(ctx, "shared", "b"); err != nil {
		t.Fatalf("put b: %v", err)
	}
	values, _, err := n.Get(ctx, "shared")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sort.Strings(values)
	if len(values) != 2 || values[0] != "a" || values[1] != "b" {
		t.Fatalf("unexpected values: %v", values)
	}

	if err := n.Delete(ctx, "shared", "a"); err != nil {
		t.Fatalf("delete a: %v", err)
	}
	values, _, err = n.Get(ctx, "shared")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if len(values) != 1 || values[0] != "b" {
		t.Fatalf("unexpected values after delete: %v", values)
	}
}
