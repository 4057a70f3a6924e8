// Package trace attaches a request-scoped trace identifier to a
// context, independent of the OpenTelemetry span machinery in
// telemetry/lookuptrace — this one is for log correlation.
package trace

import (
	"context"
	"fmt"

	"chordring/internal/ringid"

	"github.com/google/uuid"
)

type traceKey struct{}

// GenerateTraceID builds a globally unique trace id in the form
// <nodeID>-<uuid>.
func GenerateTraceID(nodeID string) string {
	return fmt.Sprintf("%s-%s", nodeID, uuid.NewString())
}

// AttachTraceID generates a trace id from nodeID and stores it in ctx.
func AttachTraceID(ctx context.Context, nodeID ringid.ID) (context.Context, string) {
	traceID := GenerateTraceID(nodeID.String())
	return context.WithValue(ctx, traceKey{}, traceID), traceID
}

// GetTraceID returns the trace id carried by ctx, or "" if none.
func GetTraceID(ctx context.Context) string {
	if v := ctx.Value(traceKey{}); v != nil {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return ""
}
