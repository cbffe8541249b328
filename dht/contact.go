package dht

import "time"

// Contact is a peer descriptor: its ID, a weak capability handle to reach
// it (Protocol), and when we last heard from it. A Contact is owned by at
// most one KBucket at a time; it never owns the remote Node behind
// Protocol.
type Contact struct {
	ID       ID
	Protocol Protocol
	LastSeen time.Time
}

// Touch refreshes LastSeen to now.
func (c *Contact) Touch() {
	c.LastSeen = time.Now()
}
