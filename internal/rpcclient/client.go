// Package rpcclient implements the peer-to-peer RPC helper: a synchronous
// Send that dials, writes one framed request, blocks for the framed
// response and closes the connection, plus a fire-and-forget SendAsync
// for replication hops whose caller does not need to wait.
package rpcclient

import (
	"context"
	"errors"
	"net"
	"time"

	"chordring/internal/ctxutil"
	"chordring/internal/logger"
	"chordring/internal/wire"
)

// ErrUnavailable is returned when the peer could not be reached at all
// (dial failure, connection reset).
var ErrUnavailable = errors.New("rpcclient: peer unavailable")

// Client issues one-shot request/response RPCs against ring peers. Unlike
// the teacher's pooled gRPC client, each call here opens a fresh
// connection: the protocol is one connection per request, so there is no
// long-lived channel to pool.
type Client struct {
	lgr     logger.Logger
	dialer  net.Dialer
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a logger to the client.
func WithLogger(lgr logger.Logger) Option {
	return func(c *Client) { c.lgr = lgr }
}

// WithTimeout sets the dial/round-trip deadline applied when the caller's
// context carries none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New builds a Client.
func New(opts ...Option) *Client {
	c := &Client{lgr: &logger.NopLogger{}, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send dials addr, writes req as a single frame and returns the decoded
// response. It is the synchronous primitive every node operation and the
// client CLI builds on.
func (c *Client) Send(ctx context.Context, addr string, req wire.Request) (*wire.Response, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
		deadline, _ = ctx.Deadline()
	}

	traceID := ctxutil.TraceIDFromContext(ctx)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.lgr.Debug("rpcclient: dial failed", logger.F("addr", addr), logger.F("trace_id", traceID), logger.F("err", err.Error()))
		return nil, ErrUnavailable
	}
	defer conn.Close()

	_ = conn.SetDeadline(deadline)

	if err := wire.WriteJSON(conn, req); err != nil {
		return nil, ErrUnavailable
	}

	var resp wire.Response
	if err := wire.ReadJSON(conn, &resp); err != nil {
		if errors.Is(err, wire.ErrRemote) {
			return &wire.Response{OK: false, Error: "remote error"}, nil
		}
		return nil, ErrUnavailable
	}
	return &resp, nil
}

// SendAsync dispatches Send on pool and ignores the outcome beyond
// logging it, for fire-and-forget replication hops under eventual
// consistency.
func (c *Client) SendAsync(pool *Pool, addr string, req wire.Request) {
	pool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := c.Send(ctx, addr, req); err != nil {
			c.lgr.Warn("rpcclient: async send failed", logger.F("addr", addr), logger.F("cmd", req.Cmd), logger.F("err", err.Error()))
		}
	})
}
