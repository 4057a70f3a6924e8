package node

import (
	"context"
	"errors"

	"chordring/internal/storage"
	"chordring/internal/telemetry/lookuptrace"
	"chordring/internal/wire"
)

// Dispatch executes one decoded wire.Request against this node and
// returns the response to frame back to the caller. It is the single
// entry point the TCP server uses for every accepted connection.
//
// depart reports whether handling this request means the node should
// shut down its listener afterward (true only for a successful DEPART).
func (n *Node) Dispatch(ctx context.Context, req wire.Request) (resp wire.Response, depart bool) {
	switch req.Cmd {
	case wire.CmdGetNodeInfo:
		return n.handleGetNodeInfo(), false

	case wire.CmdFindSuccessor:
		return n.handleFindSuccessor(ctx, req), false

	case wire.CmdJoin:
		return n.handleJoin(ctx, req), false

	case wire.CmdUpdateSuccessor:
		if req.Node == nil {
			return errResponse("missing node"), false
		}
		n.ring.SetSuccessor(nodeFromWire(req.Node))
		return wire.Response{OK: true}, false

	case wire.CmdUpdatePredecessor:
		if req.Node == nil {
			return errResponse("missing node"), false
		}
		n.ring.SetPredecessor(nodeFromWire(req.Node))
		return wire.Response{OK: true}, false

	case wire.CmdPut:
		return n.handlePutRequest(ctx, req), false

	case wire.CmdGet:
		return n.handleGetRequest(ctx, req), false

	case wire.CmdDelete:
		return n.handleDeleteRequest(ctx, req), false

	case wire.CmdTransferKeys:
		return n.handleTransferKeys(ctx, req), false

	case wire.CmdMoveAllKeys:
		n.handleMoveAllKeys(ctx, entriesFromWire(req.Entries), req.TTL)
		return wire.Response{OK: true}, false

	case wire.CmdGetOverlay:
		return n.handleGetOverlay(ctx), false

	case wire.CmdDepart:
		if err := n.Depart(ctx); err != nil {
			return errResponse(err.Error()), false
		}
		return wire.Response{OK: true}, true

	default:
		return errResponse("unknown command: " + req.Cmd), false
	}
}

func (n *Node) handleGetNodeInfo() wire.Response {
	self := n.ring.Self()
	resp := wire.Response{OK: true, Node: nodeToWire(self), Successor: nodeToWire(n.ring.Successor())}
	if pred, ok := n.ring.Predecessor(); ok {
		resp.Predecessor = nodeToWire(pred)
	}
	return resp
}

func (n *Node) handleFindSuccessor(ctx context.Context, req wire.Request) wire.Response {
	id, err := hexToID(req.ID)
	if err != nil {
		return errResponse("invalid id")
	}
	if req.Lookup {
		ctx = lookuptrace.Mark(ctx)
	}
	succ, err := n.FindSuccessor(ctx, id)
	if err != nil {
		return errResponse(err.Error())
	}
	return wire.Response{OK: true, Node: nodeToWire(succ)}
}

func (n *Node) handleJoin(ctx context.Context, req wire.Request) wire.Response {
	if req.Node == nil {
		return errResponse("missing node")
	}
	joining := nodeFromWire(req.Node)
	succ, err := n.FindSuccessor(ctx, joining.ID)
	if err != nil {
		return errResponse(err.Error())
	}

	resp := wire.Response{OK: true, Successor: nodeToWire(succ)}
	if succ.Equal(n.ring.Self()) {
		if pred, ok := n.ring.Predecessor(); ok {
			resp.Predecessor = nodeToWire(pred)
		}
		return resp
	}

	info, err := n.client.Send(ctx, succ.Addr, wire.Request{Cmd: wire.CmdGetNodeInfo})
	if err == nil && info.OK && info.Predecessor != nil {
		resp.Predecessor = info.Predecessor
	}
	return resp
}

func (n *Node) handlePutRequest(ctx context.Context, req wire.Request) wire.Response {
	if req.Node != nil {
		if err := n.handlePutChain(ctx, req); err != nil {
			return errResponse(err.Error())
		}
		return wire.Response{OK: true}
	}
	if err := n.Put(ctx, req.Key, req.Value); err != nil {
		return errResponse(err.Error())
	}
	return wire.Response{OK: true}
}

func (n *Node) handleDeleteRequest(ctx context.Context, req wire.Request) wire.Response {
	if req.Key == "" || req.Value == "" {
		return errResponse(wire.WrongParams)
	}
	if req.Node != nil {
		if err := n.handleDeleteChain(ctx, req); err != nil {
			return errResponse(err.Error())
		}
		return wire.Response{OK: true}
	}
	if err := n.Delete(ctx, req.Key, req.Value); err != nil {
		return errResponse(err.Error())
	}
	return wire.Response{OK: true}
}

func (n *Node) handleGetRequest(ctx context.Context, req wire.Request) wire.Response {
	if req.Node != nil {
		return n.handleGetChain(ctx, req)
	}
	if req.Key == wire.WildcardKey {
		if req.Fanout {
			// Asked for just this node's own store, as one hop of a
			// ring-wide GetAllRing walk.
			return wire.Response{OK: true, Entries: entriesToWire(n.GetAllLocal())}
		}
		byPeer, err := n.GetAllRing(ctx)
		if err != nil {
			return errResponse(err.Error())
		}
		out := make(map[string][]wire.Entry, len(byPeer))
		for id, entries := range byPeer {
			out[id] = entriesToWire(entries)
		}
		return wire.Response{OK: true, StoreByPeer: out}
	}
	values, holderID, err := n.Get(ctx, req.Key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			// Per the wire contract a missing key is not an RPC error: it
			// is a successful GET that found nothing, reported as
			// value=[] id=-1 rather than an ERROR response.
			return wire.Response{OK: true, Found: false, HolderID: holderID}
		}
		return errResponse(err.Error())
	}
	return wire.Response{OK: true, Values: values, Found: true, HolderID: holderID}
}

func (n *Node) handleTransferKeys(ctx context.Context, req wire.Request) wire.Response {
	from, err := hexToID(req.From)
	if err != nil {
		return errResponse("invalid from id")
	}
	to, err := hexToID(req.To)
	if err != nil {
		return errResponse("invalid to id")
	}
	entries := n.TransferKeys(from, to)
	n.cascadeTransfer(ctx, entries, req.TTL)
	return wire.Response{OK: true, Entries: entriesToWire(entries)}
}

func (n *Node) handleGetOverlay(ctx context.Context) wire.Response {
	ring, err := n.Overlay(ctx)
	if err != nil {
		return errResponse(err.Error())
	}
	out := make([]wire.NodeInfo, 0, len(ring))
	for _, r := range ring {
		out = append(out, wire.NodeInfo{ID: r.ID.String(), Addr: r.Addr})
	}
	return wire.Response{OK: true, Ring: out}
}

func errResponse(msg string) wire.Response {
	return wire.Response{OK: false, Error: msg}
}
