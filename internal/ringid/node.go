package ringid

// Node identifies a peer on the ring: its position and its network
// address.
type Node struct {
	ID   ID     // position in the identifier space
	Addr string // network address, e.g. "127.0.0.1:5000"
}

// Equal reports whether two nodes refer to the same ring position and
// address.
func (n Node) Equal(o Node) bool {
	return n.ID.Equal(o.ID) && n.Addr == o.Addr
}

// IsZero reports whether n is the unset Node value.
func (n Node) IsZero() bool {
	return n.ID == nil && n.Addr == ""
}
