package quictransport

import (
	"sync"
)

// Transport fans outbound envelopes across a set of named peer
// connections and pumps inbound envelopes from each into a single
// callback, satisfying the same Send(envelope, to) shape the manager
// package depends on (named locally there to avoid a dependency
// cycle) so either transport.MemoryTransport or this type can back a
// TransferManager without it knowing which.
type Transport struct {
	mu         sync.RWMutex
	peers      map[string]*Conn
	onReceive  func(envelope []byte, from string)
	onPeerGone func(peerID string)
}

// NewTransport constructs a Transport with no peers registered yet.
func NewTransport() *Transport {
	return &Transport{peers: make(map[string]*Conn)}
}

// OnReceive registers the callback invoked for every envelope received
// from any registered peer.
func (t *Transport) OnReceive(callback func(envelope []byte, from string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReceive = callback
}

// OnPeerGone registers a callback invoked when a peer's connection
// closes or errors out of its receive loop, so the caller can retry
// admission or mark the peer unreachable.
func (t *Transport) OnPeerGone(callback func(peerID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPeerGone = callback
}

// AddPeer registers an already-established connection under peerID and
// starts pumping its inbound envelopes into the receive callback. The
// pump runs until the connection errors or is closed.
func (t *Transport) AddPeer(peerID string, conn *Conn) {
	t.mu.Lock()
	t.peers[peerID] = conn
	t.mu.Unlock()

	go t.pump(peerID, conn)
}

func (t *Transport) pump(peerID string, conn *Conn) {
	for {
		envelope, err := conn.ReceiveEnvelope()
		if err != nil {
			t.mu.Lock()
			if t.peers[peerID] == conn {
				delete(t.peers, peerID)
			}
			gone := t.onPeerGone
			t.mu.Unlock()
			if gone != nil {
				gone(peerID)
			}
			return
		}

		t.mu.RLock()
		cb := t.onReceive
		t.mu.RUnlock()
		if cb != nil {
			cb(envelope, peerID)
		}
	}
}

// RemovePeer closes and forgets peerID's connection, if registered.
func (t *Transport) RemovePeer(peerID string) {
	t.mu.Lock()
	conn, ok := t.peers[peerID]
	if ok {
		delete(t.peers, peerID)
	}
	t.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Send writes envelope to peerID's connection. An unregistered peer is
// silently dropped, mirroring the mesh's fire-and-forget delivery
// semantics: the manager finds out indirectly, via retransmit
// timeouts, rather than a synchronous send error.
func (t *Transport) Send(envelope []byte, to string) error {
	t.mu.RLock()
	conn, ok := t.peers[to]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return conn.SendEnvelope(envelope)
}

// PeerCount returns the number of currently registered peer connections.
func (t *Transport) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
