package transport

import "sync"

// MemoryHub wires a set of named MemoryTransport peers together
// in-process, useful for tests and the demo binary where no real
// radio or mesh link is available.
type MemoryHub struct {
	mu    sync.Mutex
	peers map[string]*MemoryTransport
}

// NewMemoryHub constructs an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{peers: make(map[string]*MemoryTransport)}
}

// Peer registers and returns the named peer's transport, creating it
// on first use.
func (h *MemoryHub) Peer(id string) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.peers[id]; ok {
		return t
	}
	t := &MemoryTransport{hub: h, selfID: id}
	h.peers[id] = t
	return t
}

func (h *MemoryHub) lookup(id string) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[id]
}

// MemoryTransport is a Transport backed by direct in-process delivery
// to another MemoryTransport registered on the same hub.
type MemoryTransport struct {
	hub    *MemoryHub
	selfID string

	mu       sync.RWMutex
	callback func(envelope []byte, from string)
}

// Send delivers the envelope synchronously to the recipient's
// registered callback, if any, mirroring the fire-and-forget,
// no-delivery-guarantee semantics of a real mesh link: an unknown
// recipient or one with no registered callback silently drops it.
func (t *MemoryTransport) Send(envelope []byte, to string) error {
	recipient := t.hub.lookup(to)
	if recipient == nil {
		return nil
	}
	recipient.mu.RLock()
	cb := recipient.callback
	recipient.mu.RUnlock()
	if cb == nil {
		return nil
	}
	cb(append([]byte(nil), envelope...), t.selfID)
	return nil
}

// OnReceive registers the inbound envelope callback.
func (t *MemoryTransport) OnReceive(callback func(envelope []byte, from string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = callback
}
