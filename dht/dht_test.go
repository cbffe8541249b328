package dht

import (
	"errors"
	"testing"
	"time"
)

func newTestDHT(id ID) *DHT {
	return New(Contact{ID: id, LastSeen: time.Now()}, nil)
}

// wireDHTs connects a set of DHTs to each other through VirtualProtocol,
// as if every node already knew every other node, and gives each one a
// live protocol handle for itself too (so remote peers can route back).
func wireDHTs(ds []*DHT) {
	for i, a := range ds {
		a.Node.OurContact.Protocol = NewVirtualProtocol(a.Node, true)
		for j, b := range ds {
			if i == j {
				continue
			}
			contact := Contact{ID: b.Node.OurContact.ID, Protocol: NewVirtualProtocol(b.Node, true), LastSeen: time.Now()}
			_ = a.Node.Buckets.AddContact(contact)
		}
	}
}

func TestDHTStoreAndFindValueAcrossNetwork(t *testing.T) {
	a := newTestDHT(ID{0x01})
	b := newTestDHT(ID{0x02})
	c := newTestDHT(ID{0x03})
	wireDHTs([]*DHT{a, b, c})

	key := ID{0x02} // closest to b
	if err := a.Store(key, []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Store's network push is asynchronous; give it a moment to land.
	time.Sleep(50 * time.Millisecond)

	value, found, err := c.FindValue(key)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if !found {
		t.Fatalf("expected c to find the value via the network")
	}
	if string(value) != "payload" {
		t.Fatalf("FindValue = %q, want %q", value, "payload")
	}
}

func TestDHTFindValueCachesOnClosestContactExcludingFoundBy(t *testing.T) {
	queryer := newTestDHT(ID{0x01})
	bystander := newTestDHT(ID{0x02})
	holder := newTestDHT(ID{0x03})
	wireDHTs([]*DHT{queryer, bystander, holder})

	key := ID{0x77}
	holder.Node.Store_.Store(toStorageKey(key), []byte("cache-me"), 0)

	value, found, err := queryer.FindValue(key)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if !found || string(value) != "cache-me" {
		t.Fatalf("FindValue = (%q, %v), want (\"cache-me\", true)", value, found)
	}

	// The value-hit cache push is asynchronous; give it a moment to land.
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := bystander.Node.Cache.Get(toStorageKey(key)); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected queryer to push a cached copy of %q to the closest contact other than the one that answered", key)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cached, _ := bystander.Node.Cache.Get(toStorageKey(key))
	if string(cached) != "cache-me" {
		t.Fatalf("cached value = %q, want %q", cached, "cache-me")
	}
	if _, ok := holder.Node.Cache.Get(toStorageKey(key)); ok {
		t.Fatalf("expected the contact that answered the query not to receive a redundant cache push")
	}
}

func TestDHTFindValueLocalBeforeNetwork(t *testing.T) {
	a := newTestDHT(ID{0x01})
	key := ID{0x55}
	a.Node.Store_.Store(toStorageKey(key), []byte("local"), 0)

	value, found, err := a.FindValue(key)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if !found || string(value) != "local" {
		t.Fatalf("FindValue = (%q, %v), want (\"local\", true)", value, found)
	}
}

type rejectingVerifier struct{ err error }

func (v rejectingVerifier) VerifyContact(Contact) error { return v.err }

func TestDHTBootstrapRejectedByPosVerifier(t *testing.T) {
	wantErr := errors.New("no valid plot")
	d := New(Contact{ID: ID{0x01}, LastSeen: time.Now()}, rejectingVerifier{err: wantErr})

	seed := Contact{ID: ID{0x02}, Protocol: NewVirtualProtocol(newTestNode(ID{0x02}), true), LastSeen: time.Now()}
	err := d.Bootstrap(seed)
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("Bootstrap: got %v, want wrapping %v", err, wantErr)
	}
	if d.Node.Buckets.Contains(seed.ID) {
		t.Fatalf("expected rejected seed to never enter the routing table")
	}
}

func TestDHTBootstrapAddsSeedAndPopulatesBuckets(t *testing.T) {
	a := newTestDHT(ID{0x01})
	seedNode := newTestNode(ID{0x02})
	seed := Contact{ID: seedNode.OurContact.ID, Protocol: NewVirtualProtocol(seedNode, true), LastSeen: time.Now()}

	peerNode := newTestNode(ID{0x04})
	peer := Contact{ID: peerNode.OurContact.ID, Protocol: NewVirtualProtocol(peerNode, true), LastSeen: time.Now()}
	_ = seedNode.Buckets.AddContact(peer)

	if err := a.Bootstrap(seed); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !a.Node.Buckets.Contains(seed.ID) {
		t.Fatalf("expected seed to be added to the routing table")
	}
	if !a.Node.Buckets.Contains(peer.ID) {
		t.Fatalf("expected the seed's contact %x to be learned during bootstrap", peer.ID)
	}
}

func TestDHTDelayEvictDropsStaleAndAddsIncoming(t *testing.T) {
	d := newTestDHT(ID{0x01})

	stale := Contact{ID: ID{0x02}, LastSeen: time.Now()}
	incoming := Contact{ID: ID{0x04}, LastSeen: time.Now()}
	_ = d.Node.Buckets.AddContact(stale)

	d.DelayEvict(stale, incoming)

	if d.Node.Buckets.Contains(stale.ID) {
		t.Fatalf("expected stale contact to be removed")
	}
	if !d.Node.Buckets.Contains(incoming.ID) {
		t.Fatalf("expected incoming contact to take the freed slot")
	}
}

func TestDHTPromotePendingFillsFreedSlot(t *testing.T) {
	d := newTestDHT(ID{0x01})

	parked := Contact{ID: ID{0x05}, LastSeen: time.Now()}
	present := Contact{ID: ID{0x02}, LastSeen: time.Now()}
	_ = d.Node.Buckets.AddContact(present)

	d.AddToPending(parked)
	bucket, err := d.Node.Buckets.GetKBucket(present.ID)
	if err != nil {
		t.Fatalf("GetKBucket: %v", err)
	}

	d.Node.Buckets.RemoveContact(present.ID)
	d.promotePending(bucket)

	if !d.Node.Buckets.Contains(parked.ID) {
		t.Fatalf("expected parked contact to be promoted into the freed bucket")
	}
}
