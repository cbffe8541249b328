package dht

import "errors"

// Error taxonomy per spec section 7. RPC-facing errors are recovered
// locally by callers (converted into routing decisions); the others
// signal an invariant violation and should never occur against a
// correct caller.
var (
	ErrOurNodeCannotBeAContact = errors.New("dht: our own node cannot be added as a contact")
	ErrTooManyContacts         = errors.New("dht: kbucket is full")
	ErrOutOfRange              = errors.New("dht: contact id is out of the kbucket's range")
	ErrSenderIsSelf            = errors.New("dht: sender identifies as us")
	ErrSendingQueryToSelf      = errors.New("dht: query sender identifies as us")
	ErrAllKBucketsAreEmpty     = errors.New("dht: routing table has no contacts to search from")
	ErrRPCTimeout              = errors.New("dht: rpc timed out or peer unreachable")
	ErrContactNotFound         = errors.New("dht: contact not present in bucket")
)
