package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/dagchain/consensus/dag"
)

// Receiver is the consumer of parsed inbound frames, implemented by
// node.Engine. This package parses each payload into a dag value before
// handing it over; validation happens on the node's step-loop goroutine.
type Receiver interface {
	EnqueueBlock(sb *dag.SignedBlock)
	EnqueueConflictingBlock(sb *dag.SignedBlock)
	EnqueueSystemic(tx dag.SystemicTx)
}

// BlockSource answers MsgGetParent requests from the local DAG.
type BlockSource interface {
	Get(h dag.Hash) (dag.SignedBlock, error)
}

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// Node listens for incoming peers and manages outgoing connections. It
// implements node.Broadcaster.
type Node struct {
	nodeID     string
	listenAddr string
	receiver   Receiver
	blocks     BlockSource // may be nil; nil means MsgGetParent goes unanswered
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler

	listener net.Listener
	stopCh   chan struct{}
}

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// NewNode creates a Node that will listen on listenAddr.
// If tlsCfg is non-nil the listener and outgoing connections use TLS.
func NewNode(nodeID, listenAddr string, receiver Receiver, blocks BlockSource, tlsCfg *tls.Config) *Node {
	n := &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		receiver:   receiver,
		blocks:     blocks,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
	}
	n.Handle(MsgBlock, n.handleBlock)
	n.Handle(MsgConflictingBlock, n.handleConflictingBlock)
	n.Handle(MsgSystemic, n.handleSystemic)
	n.Handle(MsgGetParent, n.handleGetParent)
	n.Handle(MsgParent, n.handleBlock)
	return n
}

// Handle registers a handler for msg type.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the peer.
func (n *Node) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	hello, err := json.Marshal(map[string]string{"node_id": n.nodeID})
	if err != nil {
		log.Printf("[network] marshal hello: %v", err)
		return nil
	}
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		log.Printf("[network] send hello to %s: %v", id, err)
	}
	return nil
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Broadcast sends msg to all connected peers.
func (n *Node) Broadcast(msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			log.Printf("[network] broadcast to %s: %v", p.ID, err)
		}
	}
}

// BroadcastBlock implements node.Broadcaster.
func (n *Node) BroadcastBlock(sb *dag.SignedBlock) {
	n.Broadcast(Message{Type: MsgBlock, Payload: sb.Pack()})
}

// BroadcastConflictingBlock implements node.Broadcaster.
func (n *Node) BroadcastConflictingBlock(sb *dag.SignedBlock) {
	n.Broadcast(Message{Type: MsgConflictingBlock, Payload: sb.Pack()})
}

// BroadcastSystemic implements node.Broadcaster.
func (n *Node) BroadcastSystemic(tx dag.SystemicTx) {
	n.Broadcast(Message{Type: MsgSystemic, Payload: tx.Pack()})
}

// RequestParent implements node.Broadcaster: it asks every peer for hash,
// fire-and-forget, since the step loop never blocks on I/O.
func (n *Node) RequestParent(hash dag.Hash) {
	n.Broadcast(Message{Type: MsgGetParent, Payload: hash[:]})
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			log.Printf("[network] max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

func (n *Node) handleBlock(_ *Peer, msg Message) {
	sb, err := dag.ParseSignedBlockBytes(msg.Payload)
	if err != nil {
		log.Printf("[network] parse block: %v", err)
		return
	}
	n.receiver.EnqueueBlock(sb)
}

func (n *Node) handleConflictingBlock(_ *Peer, msg Message) {
	sb, err := dag.ParseSignedBlockBytes(msg.Payload)
	if err != nil {
		log.Printf("[network] parse conflicting block: %v", err)
		return
	}
	n.receiver.EnqueueConflictingBlock(sb)
}

func (n *Node) handleSystemic(_ *Peer, msg Message) {
	tx, err := dag.ParseSystemicTxBytes(msg.Payload)
	if err != nil {
		log.Printf("[network] parse systemic tx: %v", err)
		return
	}
	n.receiver.EnqueueSystemic(tx)
}

func (n *Node) handleGetParent(peer *Peer, msg Message) {
	if n.blocks == nil {
		return
	}
	hash, err := dag.HashFromBytes(msg.Payload)
	if err != nil {
		return
	}
	sb, err := n.blocks.Get(hash)
	if err != nil {
		return
	}
	if err := peer.Send(Message{Type: MsgParent, Payload: sb.Pack()}); err != nil {
		log.Printf("[network] send parent to %s: %v", peer.ID, err)
	}
}
