package session

import (
	"net"
	"sync"

	"github.com/go-mythos/go-game-server/lib/util"
)

// Registry tracks two logically separate collections: raw pre-handshake
// stream connections, and fully bound sessions. Both tolerate concurrent
// mutation; session snapshots are point-in-time copies so the broadcast
// path never blocks mutators.
type Registry struct {
	mu         sync.RWMutex
	raw        map[net.Conn]struct{}
	sessions   map[uint64]*Session
	byEndpoint map[string]*Session

	// onUnregister, when set, observes each successful unregister exactly
	// once. Used for gauge accounting.
	onUnregister func(*Session)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		raw:        make(map[net.Conn]struct{}),
		sessions:   make(map[uint64]*Session),
		byEndpoint: make(map[string]*Session),
	}
}

// RegisterRaw adds a pre-handshake stream connection.
func (r *Registry) RegisterRaw(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw[conn] = struct{}{}
}

// UnregisterRaw removes a pre-handshake stream connection.
func (r *Registry) UnregisterRaw(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.raw, conn)
}

// RawCount returns the number of in-flight handshake connections.
func (r *Registry) RawCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.raw)
}

// Register adds a bound session and installs its unregister callback.
// Returns util.ErrDuplicateSession if the id or datagram endpoint is
// already registered.
func (r *Registry) Register(s *Session) error {
	if s == nil {
		return util.ErrSessionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID()]; exists {
		return util.ErrDuplicateSession
	}
	key := s.RemoteDatagramAddr().String()
	if _, exists := r.byEndpoint[key]; exists {
		return util.ErrDuplicateSession
	}

	r.sessions[s.ID()] = s
	r.byEndpoint[key] = s
	s.SetOnClose(r.unregister)
	return nil
}

// SetOnUnregister installs the observer called once per removed session.
func (r *Registry) SetOnUnregister(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnregister = fn
}

// unregister removes a session; wired as the session's close callback.
func (r *Registry) unregister(s *Session) {
	r.mu.Lock()
	if _, exists := r.sessions[s.ID()]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.ID())
	delete(r.byEndpoint, s.RemoteDatagramAddr().String())
	fn := r.onUnregister
	r.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// Get returns a session by id, or nil if not found.
func (r *Registry) Get(id uint64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// LookupByEndpoint returns the session bound to the given datagram
// endpoint, matching by address and port, or nil if none.
func (r *Registry) LookupByEndpoint(addr net.Addr) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byEndpoint[addr.String()]
}

// Snapshot returns a point-in-time copy of the bound sessions. The slice
// is owned by the caller; iteration never holds the registry lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of bound sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close disconnects every bound session and closes every raw connection.
func (r *Registry) Close() {
	r.mu.Lock()
	rawConns := make([]net.Conn, 0, len(r.raw))
	for c := range r.raw {
		rawConns = append(rawConns, c)
	}
	r.raw = make(map[net.Conn]struct{})
	r.mu.Unlock()

	for _, c := range rawConns {
		_ = c.Close()
	}
	for _, s := range r.Snapshot() {
		s.Disconnect()
	}
}
