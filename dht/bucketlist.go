package dht

import (
	"sort"
	"sync"

	"github.com/kutluhann/kademlia-dht/constants"
)

// EvictionSink receives the two possible outcomes of the bucket-full,
// not-splittable path (spec 4.4 step 4). BucketList depends only on this
// narrow interface rather than on the DHT type directly, so the classic
// BucketList -> DHT back-pointer never has to exist.
type EvictionSink interface {
	// DelayEvict means the stale contact failed to respond to a PING;
	// the sink should drop it and make room for incoming.
	DelayEvict(stale, incoming Contact)
	// AddToPending means the stale contact is still alive; incoming is
	// parked for later promotion instead of being dropped.
	AddToPending(incoming Contact)
}

type noopEvictionSink struct{}

func (noopEvictionSink) DelayEvict(Contact, Contact) {}
func (noopEvictionSink) AddToPending(Contact)        {}

// BucketList is the ordered, gap-free partition of the ID space into
// KBuckets. It is the sole owner of the routing table's mutable state.
type BucketList struct {
	ourContact Contact
	buckets    []*KBucket
	sink       EvictionSink
	mu         sync.Mutex
}

// NewBucketList creates a BucketList seeded with a single bucket spanning
// the whole ID space. sink may be nil, in which case the eviction policy's
// decisions are simply dropped (fine for tests that never fill a bucket).
func NewBucketList(ourContact Contact, sink EvictionSink) *BucketList {
	if sink == nil {
		sink = noopEvictionSink{}
	}
	return &BucketList{
		ourContact: ourContact,
		buckets:    []*KBucket{NewKBucket(MinID(), MaxID())},
		sink:       sink,
	}
}

// SetEvictionSink rewires the eviction sink after construction (used by DHT
// to plug itself in once both exist, avoiding an init-order cycle).
func (bl *BucketList) SetEvictionSink(sink EvictionSink) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.sink = sink
}

// CanSplit reports whether b may still be split: either it covers our own
// ID (so it must keep splitting to stay precise around us), or its
// contacts don't yet share the production split-threshold prefix length.
func (bl *BucketList) CanSplit(b *KBucket) bool {
	return b.IsInRange(bl.ourContact.ID) || b.Depth()%constants.SplitThreshold != 0
}

func (bl *BucketList) indexOf(b *KBucket) int {
	for i, cur := range bl.buckets {
		if cur == b {
			return i
		}
	}
	return -1
}

func (bl *BucketList) bucketIndexFor(id ID) int {
	for i, b := range bl.buckets {
		if b.IsInRange(id) {
			return i
		}
	}
	return -1
}

// GetKBucket returns the unique bucket whose range contains id. Failing to
// find one indicates the partition invariant has been violated.
func (bl *BucketList) GetKBucket(id ID) (*KBucket, error) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.getKBucketLocked(id)
}

func (bl *BucketList) getKBucketLocked(id ID) (*KBucket, error) {
	i := bl.bucketIndexFor(id)
	if i < 0 {
		return nil, ErrOutOfRange
	}
	return bl.buckets[i], nil
}

// Buckets returns a snapshot slice of the current bucket pointers, in
// range order. The KBuckets themselves are still the live ones; only the
// slice is a copy.
func (bl *BucketList) Buckets() []*KBucket {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	out := make([]*KBucket, len(bl.buckets))
	copy(out, bl.buckets)
	return out
}

// Contains reports whether id is already tracked anywhere in the table.
func (bl *BucketList) Contains(id ID) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	b, err := bl.getKBucketLocked(id)
	if err != nil {
		return false
	}
	return b.Contains(id)
}

// RemoveContact deletes id from whichever bucket currently holds it.
func (bl *BucketList) RemoveContact(id ID) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	b, err := bl.getKBucketLocked(id)
	if err != nil {
		return false
	}
	return b.RemoveContact(id)
}

// AddContact adds or refreshes contact in the routing table, applying the
// split/eviction policy of spec 4.4.
func (bl *BucketList) AddContact(contact Contact) error {
	if contact.ID == bl.ourContact.ID {
		return ErrOurNodeCannotBeAContact
	}
	contact.Touch()

	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.addContactLocked(contact)
}

func (bl *BucketList) addContactLocked(contact Contact) error {
	bucket, err := bl.getKBucketLocked(contact.ID)
	if err != nil {
		return err
	}

	switch {
	case bucket.Contains(contact.ID):
		return bucket.ReplaceContact(contact)

	case !bucket.IsFull():
		return bucket.AddContact(contact)

	case bl.CanSplit(bucket):
		k1, k2 := bucket.Split()
		idx := bl.indexOf(bucket)
		bl.buckets[idx] = k1
		bl.buckets = append(bl.buckets, nil)
		copy(bl.buckets[idx+2:], bl.buckets[idx+1:])
		bl.buckets[idx+1] = k2
		return bl.addContactLocked(contact)

	default:
		// Eviction path: ping the staleness leader synchronously, then
		// hand what to do with the incoming contact to the sink, which
		// carries it out; the caller returns right after that decision.
		staleLeader := bucket.contacts[0]
		for _, c := range bucket.contacts[1:] {
			if c.LastSeen.Before(staleLeader.LastSeen) {
				staleLeader = c
			}
		}

		// The PING and the sink run without bl.mu held, since a sink such
		// as DHT calls back into this BucketList. The lock is re-taken
		// before returning to AddContact, which releases it.
		bl.mu.Unlock()
		defer bl.mu.Lock()

		if staleLeader.Protocol == nil {
			bl.sink.AddToPending(contact)
			return nil
		}

		if err := staleLeader.Protocol.Ping(bl.ourContact); err != nil {
			bl.sink.DelayEvict(staleLeader, contact)
		} else {
			bl.sink.AddToPending(contact)
		}
		return nil
	}
}

// GetCloseContacts returns up to K contacts closest to key by XOR
// distance, excluding exclude, sorted ascending.
func (bl *BucketList) GetCloseContacts(key, exclude ID) []Contact {
	bl.mu.Lock()
	var all []Contact
	for _, b := range bl.buckets {
		for _, c := range b.contacts {
			if c.ID != exclude {
				all = append(all, c)
			}
		}
	}
	bl.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return CloserTo(all[i].ID, all[j].ID, key) })

	if len(all) > constants.K {
		all = all[:constants.K]
	}
	return all
}

// Contacts returns every contact currently in the table.
func (bl *BucketList) Contacts() []Contact {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	var all []Contact
	for _, b := range bl.buckets {
		all = append(all, b.contacts...)
	}
	return all
}
