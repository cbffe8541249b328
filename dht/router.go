package dht

import (
	"sort"
	"sync"

	"github.com/kutluhann/kademlia-dht/constants"
)

// RPCFunc issues one outbound RPC against contact on behalf of a Lookup
// round. It returns the contacts the peer offered back (a FIND_NODE/
// FIND_VALUE miss) and, for a value lookup, the value itself on a hit.
type RPCFunc func(contact Contact, key ID) (contacts []Contact, value []byte, err error)

// LookupResult is what a Router.Lookup converges to: either the K closest
// live contacts found (a FIND_NODE-shaped lookup, or a FIND_VALUE miss),
// or a value plus the identity of whichever contact actually returned it.
// Closest is populated either way: on a value hit it holds whatever other
// contacts the lookup had already accumulated, so the caller can still
// pick a custodian to cache the value on besides FoundBy.
type LookupResult struct {
	Closest  []Contact
	Value    []byte
	FoundBy  Contact
	ValueHit bool
}

// Router runs the iterative, alpha-parallel lookup algorithm against a
// Node's own view of the network. It holds no state between calls to
// Lookup; everything it needs it derives from node and the rpc passed in
// by the caller (DHT), so the same Router drives both FIND_NODE and
// FIND_VALUE lookups.
type Router struct {
	node *Node
}

// NewRouter returns a Router driven by node's routing table and identity.
func NewRouter(node *Node) *Router {
	return &Router{node: node}
}

// FindClosestNonEmptyKBucket returns the first non-empty bucket reachable
// by walking outward from the bucket that would hold key, alternating
// above and below it in the bucket ordering. An entirely empty routing
// table yields ErrAllKBucketsAreEmpty.
func (r *Router) FindClosestNonEmptyKBucket(key ID) (*KBucket, error) {
	buckets := r.node.Buckets.Buckets()
	if len(buckets) == 0 {
		return nil, ErrAllKBucketsAreEmpty
	}

	start := 0
	for i, b := range buckets {
		if b.IsInRange(key) {
			start = i
			break
		}
	}
	if buckets[start].Len() > 0 {
		return buckets[start], nil
	}

	for offset := 1; offset < len(buckets); offset++ {
		if i := start - offset; i >= 0 && buckets[i].Len() > 0 {
			return buckets[i], nil
		}
		if i := start + offset; i < len(buckets) && buckets[i].Len() > 0 {
			return buckets[i], nil
		}
	}
	return nil, ErrAllKBucketsAreEmpty
}

// Lookup performs the iterative lookup for key using rpc to contact peers,
// alpha at a time, until a round fails to turn up anyone closer than the
// closest contact already known and every contact currently in the top-K
// has been queried. It returns the K closest contacts discovered, leaving
// out any that failed to answer an RPC during the lookup; if rpc
// is FIND_VALUE-shaped and some peer answers with a value, Lookup returns
// immediately with ValueHit set instead of continuing to converge.
func (r *Router) Lookup(key ID, rpc RPCFunc) (LookupResult, error) {
	startBucket, err := r.FindClosestNonEmptyKBucket(key)
	if err != nil {
		return LookupResult{}, err
	}

	var mu sync.Mutex
	contacted := make(map[ID]bool)
	failed := make(map[ID]bool)
	live := func(contacts []Contact) []Contact {
		out := make([]Contact, 0, len(contacts))
		for _, c := range contacts {
			if !failed[c.ID] {
				out = append(out, c)
			}
		}
		return out
	}

	shortlist := startBucket.Contacts()
	shortlist = dedupeAndSort(shortlist, key)
	closestKnown := shortlist[0].ID

	for {
		mu.Lock()
		var toQuery []Contact
		for _, c := range shortlist {
			if !contacted[c.ID] {
				toQuery = append(toQuery, c)
				if len(toQuery) == constants.Alpha {
					break
				}
			}
		}
		for _, c := range toQuery {
			contacted[c.ID] = true
		}
		mu.Unlock()

		if len(toQuery) == 0 {
			break
		}

		type roundResult struct {
			contacts []Contact
			value    []byte
			foundBy  Contact
			ok       bool
		}
		results := make([]roundResult, len(toQuery))

		var wg sync.WaitGroup
		for i, c := range toQuery {
			wg.Add(1)
			go func(i int, c Contact) {
				defer wg.Done()
				contacts, value, err := rpc(c, key)
				if err != nil {
					mu.Lock()
					failed[c.ID] = true
					mu.Unlock()
					r.node.Buckets.RemoveContact(c.ID)
					if r.node.OnContactUnreachable != nil {
						r.node.OnContactUnreachable(c.ID)
					}
					return
				}
				results[i] = roundResult{contacts: contacts, value: value, foundBy: c, ok: true}
			}(i, c)
		}
		wg.Wait()

		var hit *roundResult
		for i := range results {
			res := results[i]
			if !res.ok {
				continue
			}
			if res.value != nil {
				if hit == nil {
					hit = &res
				}
				continue
			}
			mu.Lock()
			shortlist = append(shortlist, res.contacts...)
			mu.Unlock()
		}
		if hit != nil {
			mu.Lock()
			shortlist = dedupeAndSort(shortlist, key)
			closest := live(shortlist)
			if len(closest) > constants.K {
				closest = closest[:constants.K]
			}
			mu.Unlock()
			return LookupResult{Value: hit.value, FoundBy: hit.foundBy, ValueHit: true, Closest: closest}, nil
		}

		mu.Lock()
		shortlist = dedupeAndSort(shortlist, key)
		madeProgress := shortlist[0].ID != closestKnown
		closestKnown = shortlist[0].ID

		if !madeProgress {
			allTopKContacted := true
			top := shortlist
			if len(top) > constants.K {
				top = top[:constants.K]
			}
			for _, c := range top {
				if !contacted[c.ID] {
					allTopKContacted = false
					break
				}
			}
			mu.Unlock()
			if allTopKContacted {
				break
			}
			continue
		}
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	shortlist = live(shortlist)
	if len(shortlist) > constants.K {
		shortlist = shortlist[:constants.K]
	}
	return LookupResult{Closest: shortlist}, nil
}

// FindNodeRPC issues a FIND_NODE against contact, identifying this Router's
// own node as the sender. It is the default RPCFunc for contact-discovery
// lookups (bucket refresh, bootstrap, Store's placement lookup).
func (r *Router) FindNodeRPC(contact Contact, key ID) ([]Contact, []byte, error) {
	contacts, err := contact.Protocol.FindNode(r.node.OurContact, key)
	return contacts, nil, err
}

// FindValueRPC issues a FIND_VALUE against contact, identifying this
// Router's own node as the sender.
func (r *Router) FindValueRPC(contact Contact, key ID) ([]Contact, []byte, error) {
	return contact.Protocol.FindValue(r.node.OurContact, key)
}

func sortByDistance(contacts []Contact, key ID) {
	sort.Slice(contacts, func(i, j int) bool {
		return CloserTo(contacts[i].ID, contacts[j].ID, key)
	})
}

func dedupeAndSort(contacts []Contact, key ID) []Contact {
	seen := make(map[ID]bool, len(contacts))
	out := contacts[:0]
	for _, c := range contacts {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	sortByDistance(out, key)
	return out
}
