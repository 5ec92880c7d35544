package session

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/go-mythos/go-game-server/lib/util"
)

func streamPair() (*StreamIO, net.Conn) {
	server, client := net.Pipe()
	return NewStreamIO(server, NewStats(nil)), client
}

func TestStreamIO_Lines(t *testing.T) {
	t.Run("write line appends newline", func(t *testing.T) {
		s, client := streamPair()
		defer client.Close()

		go func() { _ = s.WriteLine("HELLO") }()

		buf := make([]byte, 16)
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("client read error: %v", err)
		}
		if string(buf[:n]) != "HELLO\n" {
			t.Errorf("wire bytes = %q, want %q", buf[:n], "HELLO\n")
		}
	})

	t.Run("read line strips terminator", func(t *testing.T) {
		s, client := streamPair()
		defer client.Close()

		go func() { _, _ = client.Write([]byte("AUTH_RESPONSE|abc\r\n")) }()

		line, err := s.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine() error: %v", err)
		}
		if line != "AUTH_RESPONSE|abc" {
			t.Errorf("ReadLine() = %q, want %q", line, "AUTH_RESPONSE|abc")
		}
	})

	t.Run("deadline expires without data", func(t *testing.T) {
		s, client := streamPair()
		defer client.Close()

		_, err := s.ReadLineDeadline(time.Now().Add(20 * time.Millisecond))
		if !util.IsTimeout(err) {
			t.Errorf("ReadLineDeadline() = %v, want timeout", err)
		}
	})

	t.Run("partial line survives a deadline", func(t *testing.T) {
		s, client := streamPair()
		defer client.Close()

		go func() {
			_, _ = client.Write([]byte("WEL"))
			time.Sleep(60 * time.Millisecond)
			_, _ = client.Write([]byte("COME\n"))
		}()

		if _, err := s.ReadLineDeadline(time.Now().Add(30 * time.Millisecond)); !util.IsTimeout(err) {
			t.Fatalf("first read = %v, want timeout", err)
		}
		line, err := s.ReadLineDeadline(time.Now().Add(time.Second))
		if err != nil {
			t.Fatalf("second read error: %v", err)
		}
		if line != "WELCOME" {
			t.Errorf("ReadLine() = %q, want %q", line, "WELCOME")
		}
	})
}

func TestStreamIO_Frames(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		server, client := net.Pipe()
		a := NewStreamIO(server, NewStats(nil))
		b := NewStreamIO(client, NewStats(nil))

		payload := []byte("binary frame payload")
		go func() { _ = a.WriteFrame(payload) }()

		got, err := b.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() error: %v", err)
		}
		if string(got) != string(payload) {
			t.Errorf("ReadFrame() = %q, want %q", got, payload)
		}
	})

	t.Run("zero length rejected", func(t *testing.T) {
		s, client := streamPair()
		defer client.Close()

		go func() {
			var prefix [4]byte
			_, _ = client.Write(prefix[:])
		}()

		if _, err := s.ReadFrame(); !errors.Is(err, util.ErrFrameEmpty) {
			t.Errorf("ReadFrame(len 0) = %v, want ErrFrameEmpty", err)
		}
	})

	t.Run("over limit rejected before payload", func(t *testing.T) {
		s, client := streamPair()
		defer client.Close()

		go func() {
			var prefix [4]byte
			binary.LittleEndian.PutUint32(prefix[:], MaxFrameLen+1)
			_, _ = client.Write(prefix[:])
		}()

		if _, err := s.ReadFrame(); !errors.Is(err, util.ErrFrameTooLarge) {
			t.Errorf("ReadFrame(10MiB+1) = %v, want ErrFrameTooLarge", err)
		}
	})

	t.Run("exactly at limit accepted", func(t *testing.T) {
		server, client := net.Pipe()
		a := NewStreamIO(server, NewStats(nil))
		b := NewStreamIO(client, NewStats(nil))

		go func() { _ = a.WriteFrame(make([]byte, MaxFrameLen)) }()

		got, err := b.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(10MiB) error: %v", err)
		}
		if len(got) != MaxFrameLen {
			t.Errorf("payload len = %d, want %d", len(got), MaxFrameLen)
		}
	})

	t.Run("oversized write rejected locally", func(t *testing.T) {
		s, client := streamPair()
		defer client.Close()

		if err := s.WriteFrame(make([]byte, MaxFrameLen+1)); !errors.Is(err, util.ErrFrameTooLarge) {
			t.Errorf("WriteFrame(10MiB+1) = %v, want ErrFrameTooLarge", err)
		}
	})
}

func TestStreamIO_MetricsCountPrefix(t *testing.T) {
	server, client := net.Pipe()
	stats := NewStats(nil)
	a := NewStreamIO(server, stats)
	b := NewStreamIO(client, NewStats(nil))

	payload := []byte("12345")
	written := make(chan error, 1)
	go func() { written <- a.WriteFrame(payload) }()
	if _, err := b.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	// The writer records its byte count after Write returns; wait for it.
	if err := <-written; err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}

	if got, want := stats.BytesSent(), uint64(4+len(payload)); got != want {
		t.Errorf("BytesSent() = %d, want %d (prefix included)", got, want)
	}
}
