// Package session implements per-client session state: the owned stream
// connection, the bound datagram endpoint, message-oriented I/O over both
// transports, and the thread-safe registry that tracks them.
package session

import (
	"sync/atomic"
	"time"

	"github.com/go-mythos/go-game-server/lib/metrics"
)

// Stats tracks per-session traffic counters and activity timestamps, and
// feeds the process-wide byte counters. All fields are updated atomically;
// a single Stats instance is shared by the session's stream and datagram
// I/O.
type Stats struct {
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	// Activity timestamps as Unix nanoseconds, tracked separately per
	// transport. Zero means no activity yet.
	lastStreamActivity   atomic.Int64
	lastDatagramActivity atomic.Int64

	loginAt atomic.Int64

	metrics *metrics.Metrics
}

// NewStats creates a Stats with the login timestamp set to now.
// Byte totals are mirrored into m's per-transport counters.
func NewStats(m *metrics.Metrics) *Stats {
	if m == nil {
		m = metrics.Nop()
	}
	s := &Stats{metrics: m}
	s.loginAt.Store(time.Now().UnixNano())
	return s
}

// AddStreamSent records n bytes written to the stream, framing included.
func (s *Stats) AddStreamSent(n int) {
	s.bytesSent.Add(uint64(n))
	s.metrics.BytesSent.WithLabelValues("stream").Add(float64(n))
}

// AddStreamReceived records n bytes read from the stream.
func (s *Stats) AddStreamReceived(n int) {
	s.bytesReceived.Add(uint64(n))
	s.metrics.BytesReceived.WithLabelValues("stream").Add(float64(n))
}

// AddDatagramSent records n bytes sent on the datagram socket.
func (s *Stats) AddDatagramSent(n int) {
	s.bytesSent.Add(uint64(n))
	s.metrics.BytesSent.WithLabelValues("datagram").Add(float64(n))
}

// AddDatagramReceived records n bytes received on the datagram socket.
func (s *Stats) AddDatagramReceived(n int) {
	s.bytesReceived.Add(uint64(n))
	s.metrics.BytesReceived.WithLabelValues("datagram").Add(float64(n))
}

// BytesSent returns total bytes sent over both transports, including
// framing prefixes.
func (s *Stats) BytesSent() uint64 { return s.bytesSent.Load() }

// BytesReceived returns total bytes received over both transports.
func (s *Stats) BytesReceived() uint64 { return s.bytesReceived.Load() }

// TouchStream records stream activity at now.
func (s *Stats) TouchStream() { s.lastStreamActivity.Store(time.Now().UnixNano()) }

// TouchDatagram records datagram activity at now.
func (s *Stats) TouchDatagram() { s.lastDatagramActivity.Store(time.Now().UnixNano()) }

// LastStreamActivity returns the time of the last stream read or write,
// or the zero time if none.
func (s *Stats) LastStreamActivity() time.Time { return nanoTime(s.lastStreamActivity.Load()) }

// LastDatagramActivity returns the time of the last datagram in or out,
// or the zero time if none.
func (s *Stats) LastDatagramActivity() time.Time { return nanoTime(s.lastDatagramActivity.Load()) }

// LoginAt returns when the session was created.
func (s *Stats) LoginAt() time.Time { return nanoTime(s.loginAt.Load()) }

// DatagramIdle returns how long the datagram channel has been quiet.
// Sessions idle past the diagnostic threshold are reported, not dropped.
func (s *Stats) DatagramIdle() time.Duration {
	last := s.lastDatagramActivity.Load()
	if last == 0 {
		return time.Since(s.LoginAt())
	}
	return time.Since(nanoTime(last))
}

// DatagramIdleThreshold is the inactivity span after which a session's
// datagram channel is considered timed out for diagnostic purposes.
const DatagramIdleThreshold = 30 * time.Second

func nanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
