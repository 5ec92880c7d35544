package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/go-mythos/go-game-server/lib/metrics"
)

// Session is the logical client: one owned stream connection plus one bound
// datagram endpoint on the shared socket. A Session only exists after both
// transports are bound by the handshake; it is never visible to the
// broadcast path in a half-bound state.
//
// The authenticated and disconnecting flags are monotonic, set exactly once
// from false to true.
type Session struct {
	id     uint64
	nonce  uuid.UUID
	conn   net.Conn
	remote net.Addr

	stream   *StreamIO
	datagram *DatagramIO
	stats    *Stats

	authenticated atomic.Bool
	disconnecting atomic.Bool

	// onClose unregisters the session from the registry. The callback
	// keeps ownership one-way (registry owns session) without a back
	// reference.
	onClose func(*Session)

	closeOnce sync.Once
	log       *logrus.Entry
}

// New builds a fully bound Session from its two transports. The stream and
// datagram I/O instances are created here, once, and reused for the whole
// session life; the shared datagram socket is borrowed and never closed by
// the Session.
func New(id uint64, nonce uuid.UUID, conn net.Conn, udp net.PacketConn, remote net.Addr, m *metrics.Metrics, log *logrus.Logger) *Session {
	entry := log.WithFields(logrus.Fields{
		"session": id,
		"remote":  conn.RemoteAddr().String(),
	})

	stats := NewStats(m)
	return &Session{
		id:       id,
		nonce:    nonce,
		conn:     conn,
		remote:   remote,
		stream:   NewStreamIO(conn, stats),
		datagram: NewDatagramIO(udp, remote, stats, entry),
		stats:    stats,
		log:      entry,
	}
}

// SetOnClose installs the unregister callback invoked once on disconnect.
// The registry sets this when the session is registered.
func (s *Session) SetOnClose(fn func(*Session)) {
	s.onClose = fn
}

// ID returns the session's process-unique id.
func (s *Session) ID() uint64 { return s.id }

// Nonce returns the 128-bit handshake nonce that bound the two transports.
func (s *Session) Nonce() uuid.UUID { return s.nonce }

// RemoteDatagramAddr returns the datagram endpoint learned at handshake.
func (s *Session) RemoteDatagramAddr() net.Addr { return s.remote }

// Stream returns the session's stream I/O. The same instance is returned
// for the session's whole life.
func (s *Session) Stream() *StreamIO { return s.stream }

// Datagram returns the session's datagram I/O. The same instance is
// returned for the session's whole life.
func (s *Session) Datagram() *DatagramIO { return s.datagram }

// Stats returns the session's traffic counters.
func (s *Session) Stats() *Stats { return s.stats }

// Log returns the session-scoped log entry.
func (s *Session) Log() *logrus.Entry { return s.log }

// Authenticated reports whether challenge-response authentication succeeded.
func (s *Session) Authenticated() bool { return s.authenticated.Load() }

// SetAuthenticated marks the session authenticated. Monotonic.
func (s *Session) SetAuthenticated() { s.authenticated.Store(true) }

// Disconnecting reports whether the session is being torn down.
func (s *Session) Disconnecting() bool { return s.disconnecting.Load() }

// Broadcastable reports whether the broadcast path may send to this session.
func (s *Session) Broadcastable() bool {
	return s.authenticated.Load() && !s.disconnecting.Load()
}

// Disconnect tears the session down: sets disconnecting, closes the owned
// stream connection, and unregisters from the registry. Idempotent and safe
// to call from any component on any failure path. The shared datagram
// socket is left open.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.disconnecting.Store(true)
		if err := s.conn.Close(); err != nil {
			s.log.WithError(err).Debug("Stream close error")
		}
		if s.onClose != nil {
			s.onClose(s)
		}
		s.log.WithFields(logrus.Fields{
			"bytesSent":     s.stats.BytesSent(),
			"bytesReceived": s.stats.BytesReceived(),
		}).Info("Session disconnected")
	})
}
