package session

import (
	"encoding/binary"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/go-mythos/go-game-server/lib/util"
	"github.com/go-mythos/go-game-server/lib/wire"
)

// DatagramIO sends and receives sequence-prefixed datagrams for one session
// over the shared datagram socket. Every outbound datagram is framed as
// [u32-LE seq | payload] with seq assigned from a per-session monotonic
// counter; the first outbound datagram carries sequence 1 and the counter
// wraps at 2^32.
//
// Inbound datagrams are accepted only when their sequence is strictly newer
// than the last accepted one under 32-bit serial arithmetic; older or
// duplicate sequences are dropped silently, which is normal for a lossy,
// reordering transport. There is no retransmission.
type DatagramIO struct {
	conn   net.PacketConn // shared socket, borrowed, never closed here
	remote net.Addr
	stats  *Stats
	log    *logrus.Entry

	lastSent     atomic.Uint32
	lastReceived atomic.Uint32
	seenInbound  atomic.Bool

	// receiver gets each accepted payload, already stripped of its prefix.
	receiver atomic.Pointer[func(payload []byte)]
}

// NewDatagramIO creates the session's datagram endpoint wrapper.
// One DatagramIO exists per session, created at session construction;
// recreating it would reset the sequence space.
func NewDatagramIO(conn net.PacketConn, remote net.Addr, stats *Stats, log *logrus.Entry) *DatagramIO {
	return &DatagramIO{
		conn:   conn,
		remote: remote,
		stats:  stats,
		log:    log,
	}
}

// SetReceiver installs the callback invoked with each accepted inbound
// payload. A nil receiver discards payloads after sequence accounting.
func (d *DatagramIO) SetReceiver(fn func(payload []byte)) {
	if fn == nil {
		d.receiver.Store(nil)
		return
	}
	d.receiver.Store(&fn)
}

// Send frames payload with the next sequence number and writes it to the
// session's remote endpoint. Payloads over wire.MaxDatagramPayload are
// rejected outright, never truncated.
func (d *DatagramIO) Send(payload []byte) error {
	if len(payload) > wire.MaxDatagramPayload {
		return util.ErrDatagramTooLarge
	}

	seq := d.lastSent.Add(1)

	buf := make([]byte, wire.SeqPrefixLen+len(payload))
	binary.LittleEndian.PutUint32(buf[:wire.SeqPrefixLen], seq)
	copy(buf[wire.SeqPrefixLen:], payload)

	n, err := d.conn.WriteTo(buf, d.remote)
	if n > 0 {
		d.stats.AddDatagramSent(n)
		d.stats.TouchDatagram()
	}
	return err
}

// Receive handles one raw inbound datagram addressed to this session.
// It validates the length, applies the serial-arithmetic ordering check,
// records wrap-aware loss for diagnostics, and hands the payload to the
// receiver. Returns util.ErrDatagramStale for ordinary drops.
func (d *DatagramIO) Receive(data []byte) error {
	if len(data) < wire.SeqPrefixLen {
		return util.ErrDatagramTooSmall
	}

	d.stats.AddDatagramReceived(len(data))
	d.stats.TouchDatagram()

	seq := binary.LittleEndian.Uint32(data[:wire.SeqPrefixLen])
	if d.seenInbound.Load() {
		last := d.lastReceived.Load()
		if !wire.SerialNewer(seq, last) {
			return util.ErrDatagramStale
		}
		if gap := wire.SerialGap(seq, last); gap > 1 {
			d.log.WithFields(logrus.Fields{
				"lost": gap - 1,
				"seq":  seq,
			}).Debug("Datagram loss detected")
		}
	}
	d.lastReceived.Store(seq)
	d.seenInbound.Store(true)

	if fn := d.receiver.Load(); fn != nil {
		(*fn)(data[wire.SeqPrefixLen:])
	}
	return nil
}

// LastSent returns the sequence number of the most recent outbound datagram,
// which equals the count of datagrams sent since creation (mod 2^32).
func (d *DatagramIO) LastSent() uint32 { return d.lastSent.Load() }

// LastReceived returns the newest accepted inbound sequence.
func (d *DatagramIO) LastReceived() uint32 { return d.lastReceived.Load() }

// Remote returns the session's bound datagram endpoint.
func (d *DatagramIO) Remote() net.Addr { return d.remote }
