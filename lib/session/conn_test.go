package session

import (
	"net"
	"sync"
	"time"
)

// fakePacketConn records datagrams written through it. Reads block until
// Close; tests only exercise the write path.
type fakePacketConn struct {
	mu     sync.Mutex
	writes [][]byte
	dests  []net.Addr
	closed chan struct{}
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{closed: make(chan struct{})}
}

func (f *fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, buf)
	f.dests = append(f.dests, addr)
	return len(p), nil
}

func (f *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	<-f.closed
	return 0, nil, net.ErrClosed
}

func (f *fakePacketConn) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakePacketConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9998}
}

func (f *fakePacketConn) SetDeadline(time.Time) error { return nil }
func (f *fakePacketConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakePacketConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakePacketConn) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func testUDPAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: port}
}
