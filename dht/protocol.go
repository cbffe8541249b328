package dht

// Protocol is the outbound RPC surface to a remote Node. The core never
// interprets what carries these calls — a real implementation might be
// UDP (see the network package), an in-process test double (VirtualProtocol
// below), or anything else; the core only branches on whether an error
// came back and on the returned contact/value shapes.
type Protocol interface {
	Ping(sender Contact) error
	Store(sender Contact, key ID, value []byte, isCached bool, ttlSec int) error
	FindNode(sender Contact, key ID) ([]Contact, error)
	// FindValue returns either a list of up to K contacts (miss) or a
	// value (hit), never both.
	FindValue(sender Contact, key ID) (contacts []Contact, value []byte, err error)
}

// VirtualProtocol is an in-memory Protocol backed directly by a Node,
// for tests that want to exercise the RPC surface without a socket. It
// mirrors original_source/kademlia.py's VirtualProtocol.
type VirtualProtocol struct {
	node     *Node
	responds bool
}

// NewVirtualProtocol wraps node. When responds is false every call returns
// ErrRPCTimeout, simulating an unreachable peer.
func NewVirtualProtocol(node *Node, responds bool) *VirtualProtocol {
	return &VirtualProtocol{node: node, responds: responds}
}

func (p *VirtualProtocol) Ping(sender Contact) error {
	if !p.responds {
		return ErrRPCTimeout
	}
	return p.node.Ping(sender)
}

func (p *VirtualProtocol) Store(sender Contact, key ID, value []byte, isCached bool, ttlSec int) error {
	if !p.responds {
		return ErrRPCTimeout
	}
	return p.node.Store(key, sender, value, isCached, ttlSec)
}

func (p *VirtualProtocol) FindNode(sender Contact, key ID) ([]Contact, error) {
	if !p.responds {
		return nil, ErrRPCTimeout
	}
	return p.node.FindNode(key, sender)
}

func (p *VirtualProtocol) FindValue(sender Contact, key ID) ([]Contact, []byte, error) {
	if !p.responds {
		return nil, nil, ErrRPCTimeout
	}
	return p.node.FindValue(key, sender)
}
