// Package ctxutil builds request contexts carrying a trace id and an
// optional hop counter. The node's find_successor path does not read the
// hop counter.
package ctxutil

import (
	"context"
	"errors"
	"time"

	"chordring/internal/ringid"
	"chordring/internal/trace"
)

// ErrCanceled and ErrDeadlineExceeded are returned by CheckContext.
var (
	ErrCanceled         = errors.New("request was canceled by client")
	ErrDeadlineExceeded = errors.New("request deadline exceeded")
)

type hopsKey struct{}

// ContextOption configures the behavior of NewContext. Multiple options
// can be combined.
type ContextOption func(*ctxConfig)

type ctxConfig struct {
	withTrace bool
	withHops  bool
	nodeID    ringid.ID
	timeout   time.Duration
}

// WithTrace enables attaching a fresh trace id derived from nodeID.
func WithTrace(nodeID ringid.ID) ContextOption {
	return func(cfg *ctxConfig) {
		cfg.withTrace = true
		cfg.nodeID = nodeID
	}
}

// WithTimeout applies a timeout to the created context. The caller must
// defer the returned cancel function.
func WithTimeout(d time.Duration) ContextOption {
	return func(cfg *ctxConfig) {
		cfg.timeout = d
	}
}

// WithHops initializes the hop counter at 0.
func WithHops() ContextOption {
	return func(cfg *ctxConfig) {
		cfg.withHops = true
	}
}

// NewContext builds a context.Context configured by opts.
func NewContext(opts ...ContextOption) (context.Context, context.CancelFunc) {
	cfg := &ctxConfig{}
	for _, o := range opts {
		o(cfg)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.timeout)
	} else {
		ctx = context.Background()
	}
	if cfg.withTrace {
		ctx, _ = trace.AttachTraceID(ctx, cfg.nodeID)
	}
	if cfg.withHops {
		ctx = context.WithValue(ctx, hopsKey{}, 0)
	}

	return ctx, cancel
}

// TraceIDFromContext extracts the trace id from ctx, or "" if unset.
func TraceIDFromContext(ctx context.Context) string {
	return trace.GetTraceID(ctx)
}

// EnsureTraceID attaches a trace id derived from nodeID if ctx doesn't
// already carry one.
func EnsureTraceID(ctx context.Context, nodeID ringid.ID) context.Context {
	if id := trace.GetTraceID(ctx); id == "" {
		ctx, _ = trace.AttachTraceID(ctx, nodeID)
	}
	return ctx
}

// HopsFromContext returns the hop counter, or -1 if not set.
func HopsFromContext(ctx context.Context) int {
	if hops, ok := ctx.Value(hopsKey{}).(int); ok {
		return hops
	}
	return -1
}

// IncHops increments the hop counter if present. A counter of -1 means
// "don't count" and is left unchanged.
func IncHops(ctx context.Context) context.Context {
	hops, ok := ctx.Value(hopsKey{}).(int)
	if !ok {
		return ctx
	}
	if hops == -1 {
		return ctx
	}
	return context.WithValue(ctx, hopsKey{}, hops+1)
}

// CheckContext reports whether ctx has been canceled or its deadline
// has expired.
func CheckContext(ctx context.Context) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrDeadlineExceeded
	default:
		return nil
	}
}
