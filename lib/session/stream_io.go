package session

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-mythos/go-game-server/lib/util"
)

// MaxFrameLen is the largest binary frame payload accepted on the stream.
// A frame of exactly this size is valid; one byte more is a protocol
// violation, reported by ReadFrame as util.ErrFrameTooLarge. StreamIO does
// not set the session's disconnecting flag itself.
const MaxFrameLen = 10 << 20 // 10 MiB

// StreamIO provides message-oriented I/O over a session's stream connection.
// Two framings co-exist on the same stream: newline-terminated UTF-8 text
// lines for control messages, and length-prefixed binary frames for bulk
// payloads (u32 little-endian length, then exactly that many bytes).
//
// Reads are single-consumer. Writes from multiple goroutines are serialized
// by an internal mutex.
type StreamIO struct {
	conn   net.Conn
	reader *bufio.Reader
	stats  *Stats

	// partial accumulates a line interrupted by a read deadline so that
	// polling readers never lose consumed bytes. Reads are single-consumer,
	// so no lock guards it.
	partial strings.Builder

	writeMu sync.Mutex
}

// NewStreamIO wraps conn. One StreamIO exists per session, created at
// session construction and reused for its whole life; callers must not
// construct a second reader over the same connection.
func NewStreamIO(conn net.Conn, stats *Stats) *StreamIO {
	return &StreamIO{
		conn:   conn,
		reader: bufio.NewReader(conn),
		stats:  stats,
	}
}

// ReadLine reads one newline-terminated line and returns it without the
// trailing newline. A carriage return before the newline is stripped.
func (s *StreamIO) ReadLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if len(line) > 0 {
		s.stats.AddStreamReceived(len(line))
		s.stats.TouchStream()
	}
	if err != nil {
		// Keep whatever was consumed; a retry after a deadline picks the
		// line back up where it left off.
		s.partial.WriteString(line)
		return "", err
	}
	full := line
	if s.partial.Len() > 0 {
		full = s.partial.String() + line
		s.partial.Reset()
	}
	return strings.TrimRight(full, "\r\n"), nil
}

// ReadLineDeadline reads one line, failing if it does not arrive by the
// deadline. The deadline is cleared afterwards.
func (s *StreamIO) ReadLineDeadline(deadline time.Time) (string, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	line, err := s.ReadLine()
	_ = s.conn.SetReadDeadline(time.Time{})
	return line, err
}

// WriteLine writes a single line, appending the terminating newline.
func (s *StreamIO) WriteLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.conn.Write([]byte(line + "\n"))
	if n > 0 {
		s.stats.AddStreamSent(n)
		s.stats.TouchStream()
	}
	return err
}

// ReadFrame reads one length-prefixed binary frame and returns its payload.
// Declared lengths of zero or beyond MaxFrameLen are protocol violations;
// the caller is expected to drop the session on any returned error.
func (s *StreamIO) ReadFrame() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(s.reader, prefix[:]); err != nil {
		return nil, err
	}
	s.stats.AddStreamReceived(len(prefix))

	length := binary.LittleEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, util.ErrFrameEmpty
	}
	if length > MaxFrameLen {
		return nil, util.ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(s.reader, payload); err != nil {
		return nil, err
	}
	s.stats.AddStreamReceived(len(payload))
	s.stats.TouchStream()
	return payload, nil
}

// WriteFrame writes one length-prefixed binary frame.
func (s *StreamIO) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return util.ErrFrameEmpty
	}
	if len(payload) > MaxFrameLen {
		return util.ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.conn.Write(buf)
	if n > 0 {
		s.stats.AddStreamSent(n)
		s.stats.TouchStream()
	}
	return err
}
