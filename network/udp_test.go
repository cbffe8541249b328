package network

import (
	"testing"
	"time"

	"github.com/kutluhann/kademlia-dht/dht"
	"github.com/kutluhann/kademlia-dht/pos"
	"github.com/kutluhann/kademlia-dht/storage"
)

func newTestTransport(t *testing.T, id dht.ID) *Transport {
	t.Helper()
	our := dht.Contact{ID: id, LastSeen: time.Now()}
	buckets := dht.NewBucketList(our, nil)
	node := dht.NewNode(our, buckets, storage.NewMemoryStorage(), storage.NewMemoryStorage())

	transport, err := Listen("127.0.0.1:0", node)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	node.OurContact.Protocol = NewProtocol(transport, transport.Conn.LocalAddr().String())
	go transport.Serve()
	t.Cleanup(func() { transport.Close() })
	return transport
}

func TestProtocolPingRoundTrip(t *testing.T) {
	a := newTestTransport(t, dht.ID{0x01})
	b := newTestTransport(t, dht.ID{0x02})

	proto := NewProtocol(a, b.Conn.LocalAddr().String())
	if err := proto.Ping(a.Node.OurContact); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !b.Node.Buckets.Contains(a.SelfID) {
		t.Fatalf("expected b's routing table to learn about a after Ping")
	}
}

func TestProtocolStoreAndFindValueRoundTrip(t *testing.T) {
	a := newTestTransport(t, dht.ID{0x01})
	b := newTestTransport(t, dht.ID{0x02})

	toB := NewProtocol(a, b.Conn.LocalAddr().String())
	key := dht.ID{0x42}
	if err := toB.Store(a.Node.OurContact, key, []byte("payload"), false, 3600); err != nil {
		t.Fatalf("Store: %v", err)
	}

	contacts, value, err := toB.FindValue(a.Node.OurContact, key)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if contacts != nil {
		t.Fatalf("expected no contacts on a FindValue hit, got %v", contacts)
	}
	if string(value) != "payload" {
		t.Fatalf("FindValue = %q, want %q", value, "payload")
	}
}

func TestProtocolFindValueMissReturnsContacts(t *testing.T) {
	a := newTestTransport(t, dht.ID{0x01})
	b := newTestTransport(t, dht.ID{0x02})
	c := newTestTransport(t, dht.ID{0x03})

	toC := NewProtocol(b, c.Conn.LocalAddr().String())
	if err := toC.Ping(b.Node.OurContact); err != nil {
		t.Fatalf("Ping b->c: %v", err)
	}
	_ = c.Node.Buckets.AddContact(dht.Contact{
		ID:       a.SelfID,
		Protocol: NewProtocol(c, a.Conn.LocalAddr().String()),
		LastSeen: time.Now(),
	})

	contacts, value, err := toC.FindValue(b.Node.OurContact, dht.ID{0x99})
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if value != nil {
		t.Fatalf("expected a miss, got value %q", value)
	}
	found := false
	for _, ct := range contacts {
		if ct.ID == a.SelfID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected FindValue miss to return known contact %x", a.SelfID)
	}
}

func TestProtocolFindNodeRoundTrip(t *testing.T) {
	a := newTestTransport(t, dht.ID{0x01})
	b := newTestTransport(t, dht.ID{0x02})

	_ = b.Node.Buckets.AddContact(dht.Contact{
		ID:       dht.ID{0x10},
		Protocol: NewProtocol(b, "127.0.0.1:1"),
		LastSeen: time.Now(),
	})

	toB := NewProtocol(a, b.Conn.LocalAddr().String())
	contacts, err := toB.FindNode(a.Node.OurContact, dht.ID{0x10})
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	found := false
	for _, c := range contacts {
		if c.ID == (dht.ID{0x10}) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected FindNode to return %x, got %v", dht.ID{0x10}, contacts)
	}
}

func TestProtocolStoreRejectsSelfSender(t *testing.T) {
	a := newTestTransport(t, dht.ID{0x01})

	toSelf := NewProtocol(a, a.Conn.LocalAddr().String())
	err := toSelf.Store(a.Node.OurContact, dht.ID{0x02}, []byte("x"), false, 60)
	if err == nil {
		t.Fatalf("expected a self-sender Store to be refused")
	}
}

func TestVerifierRejectsContactWithoutChallenger(t *testing.T) {
	id := dht.ID{0x01}
	our := dht.Contact{ID: id, LastSeen: time.Now()}
	buckets := dht.NewBucketList(our, nil)
	node := dht.NewNode(our, buckets, storage.NewMemoryStorage(), storage.NewMemoryStorage())

	v := &Verifier{PlotSize: 48 * 300}
	contact := dht.Contact{ID: id, Protocol: dht.NewVirtualProtocol(node, true)}

	if err := v.VerifyContact(contact); err == nil {
		t.Fatalf("expected VerifyContact to reject a Protocol without ProveSpace")
	}
}

func TestVerifierAcceptsValidProof(t *testing.T) {
	plotSize := int64(48 * 300)
	peerID := dht.ID{0x07}

	dir := t.TempDir()
	plot, err := pos.GeneratePlot(peerID, plotSize, dir)
	if err != nil {
		t.Fatalf("GeneratePlot: %v", err)
	}

	prover := newTestTransport(t, peerID)
	prover.Node.Plot = plot

	v := &Verifier{PlotSize: plotSize}
	contact := dht.Contact{ID: peerID, Protocol: NewProtocol(prover, prover.Conn.LocalAddr().String())}

	if err := v.VerifyContact(contact); err != nil {
		t.Fatalf("VerifyContact: %v", err)
	}
}

func TestVerifierRejectsMissingPlot(t *testing.T) {
	plotSize := int64(48 * 300)
	prover := newTestTransport(t, dht.ID{0x01})

	v := &Verifier{PlotSize: plotSize}
	contact := dht.Contact{ID: prover.SelfID, Protocol: NewProtocol(prover, prover.Conn.LocalAddr().String())}

	if err := v.VerifyContact(contact); err == nil {
		t.Fatalf("expected VerifyContact to fail against a node with no plot")
	}
}
