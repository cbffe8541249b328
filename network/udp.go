// Package network provides the UDP wire transport binding dht.Protocol to
// real sockets, adapted from the original single-process JSON-over-UDP
// network loop this project grew out of.
package network

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kutluhann/kademlia-dht/dht"
	"github.com/kutluhann/kademlia-dht/pos"
)

const rpcTimeout = 5 * time.Second

// Transport owns the UDP socket, demultiplexes inbound packets between
// in-flight RPC responses and new inbound requests, and dispatches
// requests to a dht.Node.
type Transport struct {
	Conn   *net.UDPConn
	Node   *dht.Node
	SelfID dht.NodeID

	mu        sync.RWMutex
	responses map[string]chan dht.Message
}

// Listen binds address and returns a Transport ready to serve node.
func Listen(address string, node *dht.Node) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("network: resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("network: listen %s: %w", address, err)
	}
	return &Transport{
		Conn:      conn,
		Node:      node,
		SelfID:    node.OurContact.ID,
		responses: make(map[string]chan dht.Message),
	}, nil
}

// Serve blocks, reading packets off the socket and dispatching them, until
// the socket is closed.
func (t *Transport) Serve() {
	buf := make([]byte, 65535)
	for {
		n, remoteAddr, err := t.Conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		go t.handlePacket(packet, remoteAddr)
	}
}

// Close shuts down the listening socket.
func (t *Transport) Close() error { return t.Conn.Close() }

func (t *Transport) registerResponseChannel(rpcID string, ch chan dht.Message) {
	t.mu.Lock()
	t.responses[rpcID] = ch
	t.mu.Unlock()
}

func (t *Transport) unregisterResponseChannel(rpcID string) {
	t.mu.Lock()
	delete(t.responses, rpcID)
	t.mu.Unlock()
}

func (t *Transport) handlePacket(data []byte, addr *net.UDPAddr) {
	var msg dht.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	if isResponseType(msg.Type) {
		t.mu.RLock()
		ch, ok := t.responses[msg.RPCID]
		t.mu.RUnlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
		return
	}

	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return
	}

	switch msg.Type {
	case dht.PING:
		var req dht.PingRequest
		if json.Unmarshal(payloadBytes, &req) != nil {
			return
		}
		sender := t.contactFromWire(req.Sender, addr)
		_ = t.Node.Ping(sender)
		t.sendResponse(msg.RPCID, dht.PING_RES, dht.PingResponse{Timestamp: time.Now().Unix()}, addr)

	case dht.FIND_NODE:
		var req dht.FindNodeRequest
		if json.Unmarshal(payloadBytes, &req) != nil {
			return
		}
		sender := t.contactFromWire(req.Sender, addr)
		nodes, _ := t.Node.FindNode(req.TargetID, sender)
		t.sendResponse(msg.RPCID, dht.FIND_NODE_RES, dht.FindNodeResponse{Nodes: t.toWireContacts(nodes)}, addr)

	case dht.STORE:
		var req dht.StoreRequest
		if json.Unmarshal(payloadBytes, &req) != nil {
			return
		}
		sender := t.contactFromWire(req.Sender, addr)
		err := t.Node.Store(req.Key, sender, req.Value, req.IsCached, req.TTLSec)
		t.sendResponse(msg.RPCID, dht.STORE_RES, dht.StoreResponse{Success: err == nil}, addr)

	case dht.FIND_VALUE:
		var req dht.FindValueRequest
		if json.Unmarshal(payloadBytes, &req) != nil {
			return
		}
		sender := t.contactFromWire(req.Sender, addr)
		nodes, value, _ := t.Node.FindValue(req.Key, sender)
		t.sendResponse(msg.RPCID, dht.FIND_VALUE_RES, dht.FindValueResponse{
			Found: value != nil,
			Value: value,
			Nodes: t.toWireContacts(nodes),
		}, addr)

	case dht.POS_CHALLENGE:
		var payload dht.PosChallengePayload
		if json.Unmarshal(payloadBytes, &payload) != nil {
			return
		}
		if t.Node.Plot == nil {
			return
		}
		proof, err := t.Node.Plot.GenerateProof(challengeFromWire(payload))
		if err != nil {
			return
		}
		t.sendResponse(msg.RPCID, dht.POS_PROOF, proofToWire(proof), addr)
	}
}

func isResponseType(t dht.MessageType) bool {
	switch t {
	case dht.PING_RES, dht.FIND_NODE_RES, dht.FIND_VALUE_RES, dht.STORE_RES,
		dht.JOIN_CHALLENGE, dht.JOIN_ACK, dht.POS_PROOF:
		return true
	default:
		return false
	}
}

func (t *Transport) sendResponse(rpcID string, msgType dht.MessageType, payload interface{}, addr *net.UDPAddr) {
	msg := dht.Message{Type: msgType, RPCID: rpcID, SenderID: t.SelfID, Payload: payload}
	_ = t.sendTo(msg, addr)
}

func (t *Transport) sendTo(msg dht.Message, addr *net.UDPAddr) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = t.Conn.WriteToUDP(data, addr)
	return err
}

func (t *Transport) sendAndWait(msg dht.Message, address string, wantType dht.MessageType) (dht.Message, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return dht.Message{}, err
	}

	respChan := make(chan dht.Message, 1)
	t.registerResponseChannel(msg.RPCID, respChan)
	defer t.unregisterResponseChannel(msg.RPCID)

	if err := t.sendTo(msg, addr); err != nil {
		return dht.Message{}, fmt.Errorf("network: send %v: %w", msg.Type, err)
	}

	select {
	case resp := <-respChan:
		if resp.Type != wantType {
			return dht.Message{}, fmt.Errorf("network: expected %v, got %v", wantType, resp.Type)
		}
		return resp, nil
	case <-time.After(rpcTimeout):
		return dht.Message{}, dht.ErrRPCTimeout
	}
}

func (t *Transport) selfWire() dht.WireContact {
	return dht.WireContact{ID: t.SelfID, Addr: t.Conn.LocalAddr().String()}
}

func (t *Transport) contactFromWire(w dht.WireContact, fallback *net.UDPAddr) dht.Contact {
	addr := w.Addr
	if addr == "" && fallback != nil {
		addr = fallback.String()
	}
	return dht.Contact{ID: w.ID, Protocol: NewProtocol(t, addr), LastSeen: time.Now()}
}

func (t *Transport) toWireContacts(contacts []dht.Contact) []dht.WireContact {
	out := make([]dht.WireContact, 0, len(contacts))
	for _, c := range contacts {
		p, ok := c.Protocol.(*Protocol)
		addr := ""
		if ok {
			addr = p.addr
		}
		out = append(out, dht.WireContact{ID: c.ID, Addr: addr})
	}
	return out
}

func (t *Transport) fromWireContacts(wire []dht.WireContact) []dht.Contact {
	out := make([]dht.Contact, 0, len(wire))
	for _, w := range wire {
		out = append(out, dht.Contact{ID: w.ID, Protocol: NewProtocol(t, w.Addr), LastSeen: time.Now()})
	}
	return out
}

func generateRPCID() string {
	return fmt.Sprintf("rpc-%d", time.Now().UnixNano())
}

// Protocol implements dht.Protocol against a single remote address, over a
// shared Transport's socket.
type Protocol struct {
	transport *Transport
	addr      string
}

// NewProtocol returns a dht.Protocol that reaches addr through transport.
func NewProtocol(transport *Transport, addr string) *Protocol {
	return &Protocol{transport: transport, addr: addr}
}

func (p *Protocol) Ping(sender dht.Contact) error {
	msg := dht.Message{
		Type: dht.PING, RPCID: generateRPCID(), SenderID: sender.ID,
		Payload: dht.PingRequest{Sender: p.transport.selfWire(), Timestamp: time.Now().Unix()},
	}
	_, err := p.transport.sendAndWait(msg, p.addr, dht.PING_RES)
	return err
}

func (p *Protocol) Store(sender dht.Contact, key dht.ID, value []byte, isCached bool, ttlSec int) error {
	msg := dht.Message{
		Type: dht.STORE, RPCID: generateRPCID(), SenderID: sender.ID,
		Payload: dht.StoreRequest{Sender: p.transport.selfWire(), Key: key, Value: value, IsCached: isCached, TTLSec: ttlSec},
	}
	resp, err := p.transport.sendAndWait(msg, p.addr, dht.STORE_RES)
	if err != nil {
		return err
	}
	payloadBytes, _ := json.Marshal(resp.Payload)
	var res dht.StoreResponse
	if err := json.Unmarshal(payloadBytes, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("network: remote refused store")
	}
	return nil
}

func (p *Protocol) FindNode(sender dht.Contact, key dht.ID) ([]dht.Contact, error) {
	msg := dht.Message{
		Type: dht.FIND_NODE, RPCID: generateRPCID(), SenderID: sender.ID,
		Payload: dht.FindNodeRequest{Sender: p.transport.selfWire(), TargetID: key},
	}
	resp, err := p.transport.sendAndWait(msg, p.addr, dht.FIND_NODE_RES)
	if err != nil {
		return nil, err
	}
	payloadBytes, _ := json.Marshal(resp.Payload)
	var res dht.FindNodeResponse
	if err := json.Unmarshal(payloadBytes, &res); err != nil {
		return nil, err
	}
	return p.transport.fromWireContacts(res.Nodes), nil
}

func (p *Protocol) FindValue(sender dht.Contact, key dht.ID) ([]dht.Contact, []byte, error) {
	msg := dht.Message{
		Type: dht.FIND_VALUE, RPCID: generateRPCID(), SenderID: sender.ID,
		Payload: dht.FindValueRequest{Sender: p.transport.selfWire(), Key: key},
	}
	resp, err := p.transport.sendAndWait(msg, p.addr, dht.FIND_VALUE_RES)
	if err != nil {
		return nil, nil, err
	}
	payloadBytes, _ := json.Marshal(resp.Payload)
	var res dht.FindValueResponse
	if err := json.Unmarshal(payloadBytes, &res); err != nil {
		return nil, nil, err
	}
	if res.Found {
		return nil, res.Value, nil
	}
	return p.transport.fromWireContacts(res.Nodes), nil, nil
}

// ProveSpace sends challenge to the remote peer over UDP and returns the
// proof it answers with. It implements network.Challenger, the optional
// capability PosVerifier looks for on a Contact's Protocol.
func (p *Protocol) ProveSpace(challenge pos.Challenge) (*pos.Proof, error) {
	msg := dht.Message{
		Type:  dht.POS_CHALLENGE,
		RPCID: generateRPCID(),
		Payload: dht.PosChallengePayload{
			ChallengeValue: challenge.Value,
			StartIndex:     challenge.StartIndex,
			EndIndex:       challenge.EndIndex,
			Required:       challenge.Required,
		},
	}
	resp, err := p.transport.sendAndWait(msg, p.addr, dht.POS_PROOF)
	if err != nil {
		return nil, err
	}
	payloadBytes, _ := json.Marshal(resp.Payload)
	var wire dht.PosProofPayload
	if err := json.Unmarshal(payloadBytes, &wire); err != nil {
		return nil, err
	}
	return proofFromWire(wire), nil
}

func challengeFromWire(w dht.PosChallengePayload) *pos.Challenge {
	return &pos.Challenge{
		Value:      w.ChallengeValue,
		StartIndex: w.StartIndex,
		EndIndex:   w.EndIndex,
		Required:   w.Required,
	}
}

func proofToWire(p *pos.Proof) dht.PosProofPayload {
	elements := make([]dht.PosProofElement, len(p.ProofChain))
	for i, e := range p.ProofChain {
		elements[i] = dht.PosProofElement{
			Layer: e.Layer, Index: e.Index, Value: e.Value,
			ParentLeft: e.ParentLeft, ParentRight: e.ParentRight,
		}
	}
	return dht.PosProofPayload{ChallengeValue: p.Challenge, ProofChain: elements}
}

func proofFromWire(w dht.PosProofPayload) *pos.Proof {
	chain := make([]pos.ProofElement, len(w.ProofChain))
	for i, e := range w.ProofChain {
		chain[i] = pos.ProofElement{
			Layer: e.Layer, Index: e.Index, Value: e.Value,
			ParentLeft: e.ParentLeft, ParentRight: e.ParentRight,
		}
	}
	return &pos.Proof{Challenge: w.ChallengeValue, ProofChain: chain}
}

// Challenger is the optional capability a dht.Contact's Protocol may
// implement to answer a proof-of-space challenge. *Protocol implements
// it; dht.VirtualProtocol does not, so in-process tests never accidentally
// exercise the PoS gate.
type Challenger interface {
	ProveSpace(challenge pos.Challenge) (*pos.Proof, error)
}

// Verifier implements dht.PosVerifier against contacts reachable over
// UDP. It is constructed only when an operator opts a node into the
// bootstrap gate; everywhere else the DHT is created by dht.New with a nil
// PosVerifier, which is the default.
type Verifier struct {
	PlotSize int64
}

func (v *Verifier) VerifyContact(contact dht.Contact) error {
	challenger, ok := contact.Protocol.(Challenger)
	if !ok {
		return fmt.Errorf("network: contact %s does not support proof-of-space challenges", contact.ID)
	}

	challenge, err := pos.GenerateChallenge(v.PlotSize)
	if err != nil {
		return fmt.Errorf("network: generate challenge: %w", err)
	}

	proof, err := challenger.ProveSpace(*challenge)
	if err != nil {
		return fmt.Errorf("network: contact %s failed to answer challenge: %w", contact.ID, err)
	}

	if !pos.VerifyProof(contact.ID, challenge, proof) {
		return fmt.Errorf("network: contact %s returned an invalid proof of space", contact.ID)
	}
	return nil
}
