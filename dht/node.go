package dht

import (
	"time"

	"github.com/kutluhann/kademlia-dht/constants"
	"github.com/kutluhann/kademlia-dht/pos"
	"github.com/kutluhann/kademlia-dht/storage"
)

func toStorageKey(id ID) storage.Key {
	var k storage.Key
	copy(k[:], id[:])
	return k
}

// Node is the local half of a DHT peer: its own identity, routing table,
// and the two stores backing FIND_VALUE (values we were asked to keep,
// and values we cached while forwarding someone else's lookup). Node
// implements the four inbound RPCs; Protocol implementations (VirtualProtocol,
// network.Protocol) are what make those RPCs reachable from outside
// the process.
type Node struct {
	OurContact Contact
	Buckets    *BucketList
	Store_     storage.Storage
	Cache      storage.Storage

	// OnContactUnreachable, if set, is notified whenever the Router gives
	// up on a contact that failed to answer an RPC, after it has already
	// been dropped from the BucketList. DHT uses this to try promoting a
	// parked pending contact into the slot that just opened up.
	OnContactUnreachable func(ID)

	// Plot is this node's own proof-of-space allocation, answered when a
	// remote verifier challenges us during its bootstrap gate. Nil means
	// this node cannot answer a PoS challenge (the default).
	Plot *pos.Plot
}

// NewNode wires a fresh Node around ourContact. The BucketList's eviction
// sink must be attached separately (DHT does this) once the owning DHT
// exists, since the sink and the Node are constructed together.
func NewNode(ourContact Contact, buckets *BucketList, store, cache storage.Storage) *Node {
	return &Node{OurContact: ourContact, Buckets: buckets, Store_: store, Cache: cache}
}

// touchFromSender records sender in the routing table and, if sender was
// previously unknown to us, proactively pushes it any key/value pairs for
// which it is now a closer custodian than we are. This is the concrete
// behavior behind send_key_values_if_new_contact, left unspecified beyond
// its name in the reference implementation: a node that just joined the
// network near some key range should receive that range's values without
// waiting for its own refresh cycle to discover them.
func (n *Node) touchFromSender(sender Contact) {
	isNew := !n.Buckets.Contains(sender.ID)
	if err := n.Buckets.AddContact(sender); err != nil {
		return
	}
	if isNew && sender.Protocol != nil {
		go n.sendKeyValuesIfNewContact(sender)
	}
}

func (n *Node) sendKeyValuesIfNewContact(newContact Contact) {
	for _, key := range n.Store_.Keys() {
		id := ID(key)
		value, ok := n.Store_.Get(key)
		if !ok {
			continue
		}
		if !CloserTo(newContact.ID, n.OurContact.ID, id) {
			continue
		}
		_ = newContact.Protocol.Store(n.OurContact, id, value, false, constants.ExpirationTimeSec)
	}
}

// Ping answers a liveness probe, touching sender into the routing table.
func (n *Node) Ping(sender Contact) error {
	if sender.ID == n.OurContact.ID {
		return ErrSenderIsSelf
	}
	n.touchFromSender(sender)
	return nil
}

// Store accepts a value pushed by sender. isCached marks values we are
// holding opportunistically on behalf of a lookup (see dht.go's
// storeOnCloserContacts), which are kept in Cache rather than Store_ and
// are allowed a shorter, network-chosen TTL. Values stored outright always
// get the full constants.ExpirationTimeSec TTL, whatever ttlSec says.
func (n *Node) Store(key ID, sender Contact, value []byte, isCached bool, ttlSec int) error {
	if sender.ID == n.OurContact.ID {
		return ErrSenderIsSelf
	}
	n.touchFromSender(sender)

	ttl := time.Duration(ttlSec) * time.Second
	if isCached {
		n.Cache.Store(toStorageKey(key), value, ttl)
	} else {
		n.Store_.Store(toStorageKey(key), value, constants.ExpirationTimeSec*time.Second)
	}
	return nil
}

// FindNode returns up to K contacts closest to key, as known locally.
func (n *Node) FindNode(key ID, sender Contact) ([]Contact, error) {
	if sender.ID == n.OurContact.ID {
		return nil, ErrSendingQueryToSelf
	}
	n.touchFromSender(sender)
	return n.Buckets.GetCloseContacts(key, sender.ID), nil
}

// FindValue returns the value for key if we (or our cache) hold it,
// otherwise behaves exactly like FindNode.
func (n *Node) FindValue(key ID, sender Contact) ([]Contact, []byte, error) {
	if sender.ID == n.OurContact.ID {
		return nil, nil, ErrSendingQueryToSelf
	}
	n.touchFromSender(sender)

	storageKey := toStorageKey(key)
	if value, ok := n.Store_.Get(storageKey); ok {
		return nil, value, nil
	}
	if value, ok := n.Cache.Get(storageKey); ok {
		return nil, value, nil
	}
	return n.Buckets.GetCloseContacts(key, sender.ID), nil, nil
}
