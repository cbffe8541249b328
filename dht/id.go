package dht

import (
	"crypto/rand"
	"math/big"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

// ID is a 160-bit Kademlia identifier. It is the same 20-byte layout as
// id_tools.PeerID, so every node's routing-table identity and its
// cryptographic peer ID are one and the same value.
type ID = id_tools.PeerID

// NodeID is the wire-level name for ID, matching the vocabulary used in
// message.go's RPC payloads.
type NodeID = ID

var idBitLen = len(ID{}) * 8

// MinID returns the all-zero ID (spec constant "min").
func MinID() ID {
	return ID{}
}

// MaxID returns the all-ones ID (spec constant "max").
func MaxID() ID {
	var id ID
	for i := range id {
		id[i] = 0xFF
	}
	return id
}

// MidID returns 2^(B-1), the midpoint of the ID space (spec constant "mid").
func MidID() ID {
	var id ID
	id[0] = 0x80
	return id
}

func idToBigInt(id ID) *big.Int {
	return new(big.Int).SetBytes(id[:])
}

func bigIntToID(v *big.Int) ID {
	var id ID
	b := v.Bytes()
	// left-pad into the fixed-width array
	copy(id[len(id)-len(b):], b)
	return id
}

// RandomID returns a uniformly random ID in the inclusive range [low, high].
// low must not be greater than high.
func RandomID(low, high ID) ID {
	lo := idToBigInt(low)
	hi := idToBigInt(high)

	span := new(big.Int).Sub(hi, lo)
	span.Add(span, big.NewInt(1))
	if span.Sign() <= 0 {
		return low
	}

	offset, err := rand.Int(rand.Reader, span)
	if err != nil {
		// crypto/rand failing is unrecoverable for identity generation
		// elsewhere in this codebase too; degrade to the low bound rather
		// than panic a routing-table refresh.
		return low
	}

	return bigIntToID(new(big.Int).Add(lo, offset))
}

// RandomIDInRange returns a random ID within a bucket's [low, high] range,
// used by bucket refresh (spec 4.1, 4.9).
func RandomIDInRange(low, high ID) ID {
	return RandomID(low, high)
}

// CloserTo reports whether a is closer to key than b is, by XOR distance.
func CloserTo(a, b, key ID) bool {
	da := a.Xor(key)
	db := b.Xor(key)
	return da.Less(db)
}

// CommonPrefixLen returns the number of leading bits a and b share over the
// full fixed-width representation (no truncation, unlike the reference
// implementation's bin()[2:] slicing).
func CommonPrefixLen(a, b ID) int {
	return a.PrefixLen(b)
}
