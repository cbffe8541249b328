package dht

import (
	"fmt"
	"sync"
	"time"

	"github.com/kutluhann/kademlia-dht/constants"
	"github.com/kutluhann/kademlia-dht/storage"
)

// PosVerifier gates bootstrap admission behind a proof-of-space challenge.
// It is optional: a DHT constructed without one (the default) admits every
// bootstrap contact unconditionally, matching the spec's Sybil-defence
// non-goal. When set, FAILING the challenge refuses the bootstrap contact
// outright rather than weakening it to a lower trust tier.
type PosVerifier interface {
	VerifyContact(contact Contact) error
}

// DHT is the orchestrator tying together a Node, a Router and the
// background maintenance spec 4.8 describes (bucket refresh, replication,
// republishing). It is also the BucketList's EvictionSink: the one place
// the "evict or park" decision BucketList reaches after pinging a stale
// contact is actually carried out.
type DHT struct {
	Node   *Node
	Router *Router
	Pos    PosVerifier

	pendingMu sync.Mutex
	pending   map[*KBucket][]Contact

	stop chan struct{}
}

// New creates a DHT around ourContact, with fresh empty stores. pos may
// be nil to disable the proof-of-space admission gate.
func New(ourContact Contact, pos PosVerifier) *DHT {
	buckets := NewBucketList(ourContact, nil)
	node := NewNode(ourContact, buckets, storage.NewMemoryStorage(), storage.NewMemoryStorage())

	d := &DHT{
		Node:    node,
		Router:  NewRouter(node),
		Pos:     pos,
		pending: make(map[*KBucket][]Contact),
		stop:    make(chan struct{}),
	}
	buckets.SetEvictionSink(d)
	node.OnContactUnreachable = func(id ID) {
		if bucket, err := buckets.GetKBucket(id); err == nil {
			d.promotePending(bucket)
		}
	}
	return d
}

// DelayEvict implements EvictionSink: the stale contact is gone, so
// incoming replaces it.
func (d *DHT) DelayEvict(stale, incoming Contact) {
	d.Node.Buckets.RemoveContact(stale.ID)
	_ = d.Node.Buckets.AddContact(incoming)
}

// AddToPending implements EvictionSink: the stale contact answered the
// PING, so incoming is parked rather than admitted.
func (d *DHT) AddToPending(incoming Contact) {
	bucket, err := d.Node.Buckets.GetKBucket(incoming.ID)
	if err != nil {
		return
	}
	d.pendingMu.Lock()
	d.pending[bucket] = append(d.pending[bucket], incoming)
	d.pendingMu.Unlock()
}

// promotePending is called after a bucket loses a contact (eviction,
// manual removal, or going stale) to give a previously parked contact a
// chance to take the freed slot.
func (d *DHT) promotePending(bucket *KBucket) {
	d.pendingMu.Lock()
	queue := d.pending[bucket]
	if len(queue) == 0 {
		d.pendingMu.Unlock()
		return
	}
	next := queue[0]
	d.pending[bucket] = queue[1:]
	d.pendingMu.Unlock()

	_ = d.Node.Buckets.AddContact(next)
}

// Bootstrap seeds the routing table from a single known contact: adds it,
// runs a self-lookup and adds every contact that lookup returns, then
// refreshes every bucket other than the one holding the seed. If a
// PosVerifier is configured, the seed contact must pass its challenge
// first.
func (d *DHT) Bootstrap(seed Contact) error {
	if d.Pos != nil {
		if err := d.Pos.VerifyContact(seed); err != nil {
			return fmt.Errorf("dht: bootstrap rejected by proof-of-space gate: %w", err)
		}
	}

	if err := d.Node.Buckets.AddContact(seed); err != nil {
		return fmt.Errorf("dht: bootstrap: %w", err)
	}

	result, err := d.Router.Lookup(d.Node.OurContact.ID, d.Router.FindNodeRPC)
	if err != nil {
		return fmt.Errorf("dht: bootstrap self-lookup: %w", err)
	}
	for _, c := range result.Closest {
		if c.Protocol != nil {
			_ = d.Node.Buckets.AddContact(c)
		}
	}

	seedBucket, _ := d.Node.Buckets.GetKBucket(seed.ID)
	for _, b := range d.Node.Buckets.Buckets() {
		if b != seedBucket {
			d.refreshBucket(b)
		}
	}
	return nil
}

// refreshBucket performs a lookup for a random ID within b's range, adds
// every contact it returns to the routing table (populating b with any
// that fall in its range), and touches b so the periodic refresh timer
// leaves it alone for another cycle.
func (d *DHT) refreshBucket(b *KBucket) {
	target := RandomID(b.Low(), b.High())
	if result, err := d.Router.Lookup(target, d.Router.FindNodeRPC); err == nil {
		for _, c := range result.Closest {
			if c.Protocol != nil {
				_ = d.Node.Buckets.AddContact(c)
			}
		}
	}
	b.Touch()
}

// touchBucketWithKey refreshes whichever bucket currently owns key,
// without performing a lookup. DHT calls this after a successful Store so
// the bucket's staleness clock reflects genuine traffic rather than only
// refresh-timer activity.
func (d *DHT) touchBucketWithKey(key ID) {
	if b, err := d.Node.Buckets.GetKBucket(key); err == nil {
		b.Touch()
	}
}

// Store publishes value under key: it is recorded locally and pushed to
// the K closest contacts known on the network (not merely the locally
// known closest, which storeOnCloserContacts would under-cover for a
// freshly joined node). With an empty routing table there is no one to
// push to, and only the local copy is made.
func (d *DHT) Store(key ID, value []byte) error {
	d.Node.Store_.Store(toStorageKey(key), value, constants.ExpirationTimeSec*time.Second)
	d.touchBucketWithKey(key)

	result, err := d.Router.Lookup(key, d.Router.FindNodeRPC)
	if err == ErrAllKBucketsAreEmpty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dht: store: locating closest contacts: %w", err)
	}
	for _, c := range result.Closest {
		if c.ID == d.Node.OurContact.ID || c.Protocol == nil {
			continue
		}
		go func(c Contact) {
			_ = c.Protocol.Store(d.Node.OurContact, key, value, false, constants.ExpirationTimeSec)
		}(c)
	}
	return nil
}

// storeOnCloserContacts is the replicate-time counterpart of Store
// (RunMaintenance's replicate cycle): for a
// value we already hold, push it only to contacts in our own routing
// table that are closer to key than we are, caching it on them with
// isCached=true rather than replacing their authoritative copy.
func (d *DHT) storeOnCloserContacts(key ID, value []byte) {
	closer := d.Node.Buckets.GetCloseContacts(key, d.Node.OurContact.ID)
	for _, c := range closer {
		if !CloserTo(c.ID, d.Node.OurContact.ID, key) || c.Protocol == nil {
			continue
		}
		go func(c Contact) {
			_ = c.Protocol.Store(d.Node.OurContact, key, value, true, constants.TReplicateSec)
		}(c)
	}
}

// FindValue looks up key, checking our own stores first before falling
// back to a network FIND_VALUE lookup. On a network hit, the value is
// cached on the single closest contact the lookup turned up besides the
// one that actually answered (step 3 of the bootstrap/lookup cycle: the
// next closest custodian should have it without waiting for the normal
// replication cycle to reach it), not written into this node's own
// cache, since this node is not necessarily a custodian of key at all.
func (d *DHT) FindValue(key ID) ([]byte, bool, error) {
	storageKey := toStorageKey(key)
	if value, ok := d.Node.Store_.Get(storageKey); ok {
		return value, true, nil
	}
	if value, ok := d.Node.Cache.Get(storageKey); ok {
		return value, true, nil
	}

	result, err := d.Router.Lookup(key, d.Router.FindValueRPC)
	if err != nil {
		return nil, false, fmt.Errorf("dht: find_value: %w", err)
	}
	if !result.ValueHit {
		return nil, false, nil
	}

	d.cacheAtClosestOtherContact(key, result)
	return result.Value, true, nil
}

// cacheAtClosestOtherContact pushes value to the XOR-closest contact in
// result.Closest excluding whichever contact it was actually found by, as
// a cached (is_cached=true) copy. If the lookup turned up no other
// contact, there is nowhere to cache it and this is a no-op.
func (d *DHT) cacheAtClosestOtherContact(key ID, result LookupResult) {
	var storeTo Contact
	found := false
	for _, c := range result.Closest {
		if c.ID == result.FoundBy.ID || c.ID == d.Node.OurContact.ID || c.Protocol == nil {
			continue
		}
		if !found || CloserTo(c.ID, storeTo.ID, key) {
			storeTo = c
			found = true
		}
	}
	if !found {
		return
	}
	go func() {
		_ = storeTo.Protocol.Store(d.Node.OurContact, key, result.Value, true, constants.ExpirationTimeSec)
	}()
}

// Close stops DHT background maintenance. It is safe to call once.
func (d *DHT) Close() { close(d.stop) }

// RunMaintenance blocks, running the three periodic cycles spec 4.8
// names (bucket refresh, cache/value replication, republish) until Close
// is called. Callers run it in its own goroutine.
func (d *DHT) RunMaintenance() {
	refresh := time.NewTicker(constants.TRefreshSec * time.Second)
	replicate := time.NewTicker(constants.TReplicateSec * time.Second)
	republish := time.NewTicker(constants.TRepublishSec * time.Second)
	defer refresh.Stop()
	defer replicate.Stop()
	defer republish.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-refresh.C:
			for _, b := range d.Node.Buckets.Buckets() {
				if time.Since(b.TimeStamp()) >= constants.TRefreshSec*time.Second {
					d.refreshBucket(b)
				}
			}
		case <-replicate.C:
			for _, key := range d.Node.Store_.Keys() {
				id := ID(key)
				if value, ok := d.Node.Store_.Get(key); ok {
					d.storeOnCloserContacts(id, value)
					d.Node.Store_.Touch(key)
				}
			}
		case <-republish.C:
			for _, key := range d.Node.Store_.Keys() {
				id := ID(key)
				// A key touched more recently than TRepublishSec ago was
				// either stored fresh, freshly replicated, or republished
				// already this cycle by another node pushing it back to
				// us; skip it rather than republishing unconditionally.
				if ts, ok := d.Node.Store_.Timestamp(key); ok && time.Since(ts) < constants.TRepublishSec*time.Second {
					continue
				}
				if value, ok := d.Node.Store_.Get(key); ok {
					go func(id ID, value []byte) { _ = d.Store(id, value) }(id, value)
				}
			}
		}
	}
}
