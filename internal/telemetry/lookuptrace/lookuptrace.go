// Package lookuptrace marks a context as belonging to a successor
// lookup so that only lookup hops are traced, not every RPC the ring
// exchanges (joins, replication, transfers).
package lookuptrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chordring/lookup"

var tracer = otel.Tracer(tracerName)

type lookupKey struct{}

// Mark returns a context flagged as part of a lookup chain.
func Mark(ctx context.Context) context.Context {
	return context.WithValue(ctx, lookupKey{}, true)
}

// Marked reports whether ctx was flagged by Mark.
func Marked(ctx context.Context) bool {
	v, _ := ctx.Value(lookupKey{}).(bool)
	return v
}

// StartHop starts a span for one find_successor hop if ctx is marked as
// a lookup, and is a no-op otherwise. The returned context carries the
// lookup flag forward regardless, so a chain started remotely stays
// traced across every subsequent hop.
func StartHop(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	if !Marked(ctx) {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := tracer.Start(ctx, "find_successor", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("dht.node.id", nodeID))
	return ctx, span
}
