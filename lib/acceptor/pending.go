// Package acceptor owns the stream listener and the shared datagram socket.
// It drives the out-of-band handshake that binds each new stream connection
// to a datagram endpoint, producing bound sessions, and routes every
// inbound datagram to its session.
package acceptor

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// pendingHandshake is one in-flight handshake: the raw stream connection
// and a one-shot slot resolved with the peer's datagram endpoint.
type pendingHandshake struct {
	conn net.Conn

	// resolved receives the peer endpoint exactly once. Buffered so the
	// datagram listener never blocks on a slow driver.
	resolved chan net.Addr
}

// pendingTable maps handshake nonces to in-flight handshakes. It is touched
// only from acceptor-owned goroutines; a plain mutex serializes mutation.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*pendingHandshake
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[uuid.UUID]*pendingHandshake),
	}
}

// add records a new in-flight handshake under its nonce.
func (t *pendingTable) add(nonce uuid.UUID, conn net.Conn) *pendingHandshake {
	entry := &pendingHandshake{
		conn:     conn,
		resolved: make(chan net.Addr, 1),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[nonce] = entry
	return entry
}

// remove deletes the entry for nonce, if present.
func (t *pendingTable) remove(nonce uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, nonce)
}

// resolve completes the entry for nonce with the peer's datagram endpoint.
// The entry is removed so a nonce never matches more than once. Returns
// false when no entry matches.
func (t *pendingTable) resolve(nonce uuid.UUID, addr net.Addr) bool {
	t.mu.Lock()
	entry, ok := t.entries[nonce]
	if ok {
		delete(t.entries, nonce)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	entry.resolved <- addr
	return true
}

// size returns the number of in-flight handshakes.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
