package bootstrap

import (
	"context"

	"chordring/internal/ringid"
)

// Bootstrap discovers existing ring members and, for modes that need
// it, registers or deregisters this node in an external directory.
type Bootstrap interface {
	// Discover returns a list of known peer addresses
	Discover(ctx context.Context) ([]string, error)
	// Register add the current node (only if needed, e.g. Route53)
	Register(ctx context.Context, node ringid.Node) error
	// Deregister remove the current node (only if needed, e.g. Route53)
	Deregister(ctx context.Context, node ringid.Node) error
}
