package dht

import (
	"math/big"
	"sort"
	"time"

	"github.com/kutluhann/kademlia-dht/constants"
)

// KBucket holds up to K contacts whose IDs fall in the inclusive range
// [Low, High]. Contacts are kept in insertion order; ReplaceContact updates
// an entry in place, so staleness is judged by LastSeen, not by position.
type KBucket struct {
	low, high ID
	contacts  []Contact
	timeStamp time.Time
}

// NewKBucket creates an empty bucket covering [low, high].
func NewKBucket(low, high ID) *KBucket {
	return &KBucket{
		low:       low,
		high:      high,
		contacts:  make([]Contact, 0, constants.K),
		timeStamp: time.Now(),
	}
}

func (b *KBucket) Low() ID  { return b.low }
func (b *KBucket) High() ID { return b.high }

// Touch refreshes the bucket's last-refreshed timestamp.
func (b *KBucket) Touch() { b.timeStamp = time.Now() }

// TimeStamp reports when the bucket was last touched (added-to or refreshed).
func (b *KBucket) TimeStamp() time.Time { return b.timeStamp }

// IsInRange reports whether id falls within [Low, High].
func (b *KBucket) IsInRange(id ID) bool {
	return !id.Less(b.low) && !b.high.Less(id)
}

// IsFull reports whether the bucket already holds K contacts.
func (b *KBucket) IsFull() bool {
	return len(b.contacts) >= constants.K
}

// Contains reports whether id is already present in this bucket.
func (b *KBucket) Contains(id ID) bool {
	for _, c := range b.contacts {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Contacts returns a defensive copy of the bucket's contact list.
func (b *KBucket) Contacts() []Contact {
	out := make([]Contact, len(b.contacts))
	copy(out, b.contacts)
	return out
}

// Len reports the number of contacts currently in the bucket.
func (b *KBucket) Len() int { return len(b.contacts) }

// AddContact appends contact to the bucket. Fails with ErrTooManyContacts
// if the bucket is full, or ErrOutOfRange if the contact's ID falls
// outside the bucket's range. Callers (BucketList) are expected to have
// already excluded the duplicate-ID case.
func (b *KBucket) AddContact(c Contact) error {
	if b.IsFull() {
		return ErrTooManyContacts
	}
	if !b.IsInRange(c.ID) {
		return ErrOutOfRange
	}
	b.contacts = append(b.contacts, c)
	return nil
}

// ReplaceContact overwrites the existing entry sharing c.ID with c, and
// touches it. Precondition: Contains(c.ID).
func (b *KBucket) ReplaceContact(c Contact) error {
	for i := range b.contacts {
		if b.contacts[i].ID == c.ID {
			b.contacts[i] = c
			b.contacts[i].Touch()
			return nil
		}
	}
	return ErrContactNotFound
}

// RemoveContact deletes the contact with the given ID, if present.
func (b *KBucket) RemoveContact(id ID) bool {
	for i := range b.contacts {
		if b.contacts[i].ID == id {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			return true
		}
	}
	return false
}

// Depth returns the length of the longest binary prefix shared by every
// contact's ID, measured over the full fixed-160-bit representation. An
// empty bucket's depth is undefined by the reference implementation; a
// singleton bucket shares its whole ID with itself, so Depth returns the
// full ID width.
func (b *KBucket) Depth() int {
	if len(b.contacts) == 0 {
		return 0
	}
	prefix := idBitLen
	first := b.contacts[0].ID
	for _, c := range b.contacts[1:] {
		if p := CommonPrefixLen(first, c.ID); p < prefix {
			prefix = p
		}
	}
	return prefix
}

// Split partitions the bucket into two: k1 covering [Low, median-1] and k2
// covering [median, High], where median is the high-median of the current
// contact IDs (not the numeric midpoint of the range). Contacts below
// median go to k1 and the rest to k2, so the two ranges are disjoint and
// contiguous. Using the high-median guarantees both halves receive at
// least one contact whenever the bucket holds two or more, even when the
// population is bunched toward one side.
func (b *KBucket) Split() (k1, k2 *KBucket) {
	sorted := make([]ID, len(b.contacts))
	for i, c := range b.contacts {
		sorted[i] = c.ID
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	median := sorted[len(sorted)/2]
	beforeMedian := bigIntToID(new(big.Int).Sub(idToBigInt(median), big.NewInt(1)))

	k1 = NewKBucket(b.low, beforeMedian)
	k2 = NewKBucket(median, b.high)

	for _, c := range b.contacts {
		if c.ID.Less(median) {
			k1.contacts = append(k1.contacts, c)
		} else {
			k2.contacts = append(k2.contacts, c)
		}
	}
	return k1, k2
}
