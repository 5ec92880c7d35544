package acceptor

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/go-mythos/go-game-server/lib/auth"
	"github.com/go-mythos/go-game-server/lib/config"
	"github.com/go-mythos/go-game-server/lib/session"
	"github.com/go-mythos/go-game-server/lib/tick"
	"github.com/go-mythos/go-game-server/lib/wire"
)

const testSecret = "integration-secret"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig() *config.Config {
	return &config.Config{
		ListenAddr:       "127.0.0.1:0",
		DatagramAddr:     "127.0.0.1:0",
		MaxClients:       4,
		SharedSecret:     testSecret,
		Welcome:          "welcome adventurer",
		HandshakeTimeout: 2 * time.Second,
		AuthTimeout:      2 * time.Second,
		StopGrace:        2 * time.Second,
	}
}

// startAcceptor boots an acceptor on loopback and tears it down with the test.
func startAcceptor(t *testing.T, cfg *config.Config) (*Acceptor, *session.Registry) {
	t.Helper()

	log := quietLogger()
	reg := session.NewRegistry()
	authn := auth.New([]byte(cfg.SharedSecret), cfg.AuthTimeout, nil, log)
	acc := New(cfg, reg, authn, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	if err := acc.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = acc.Stop(stopCtx)
	})
	return acc, reg
}

// testClient drives the client side of the dual-transport protocol.
type testClient struct {
	tcp       net.Conn
	reader    *bufio.Reader
	udp       net.PacketConn
	serverUDP net.Addr
	nonce     string
}

func (c *testClient) close() {
	if c.tcp != nil {
		c.tcp.Close()
	}
	if c.udp != nil {
		c.udp.Close()
	}
}

func (c *testClient) readLine(t *testing.T) string {
	t.Helper()
	_ = c.tcp.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("client stream read: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

func (c *testClient) readDatagram(t *testing.T) (uint32, []byte) {
	t.Helper()
	buf := make([]byte, 2048)
	_ = c.udp.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := c.udp.ReadFrom(buf)
	if err != nil {
		t.Fatalf("client datagram read: %v", err)
	}
	if n < 4 {
		t.Fatalf("datagram of %d bytes, want at least 4", n)
	}
	payload := make([]byte, n-4)
	copy(payload, buf[4:n])
	return binary.LittleEndian.Uint32(buf[:4]), payload
}

// connect dials the stream and consumes the handshake line.
func connect(t *testing.T, acc *Acceptor) *testClient {
	t.Helper()

	tcp, err := net.Dial("tcp", acc.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	c := &testClient{tcp: tcp, reader: bufio.NewReader(tcp)}

	line := c.readLine(t)
	parts := strings.Split(line, "|")
	if len(parts) != 4 || parts[0] != "HANDSHAKE" {
		t.Fatalf("handshake line = %q", line)
	}
	c.nonce = parts[1]

	port, err := strconv.Atoi(parts[3])
	if err != nil {
		t.Fatalf("handshake datagram port %q: %v", parts[3], err)
	}
	c.serverUDP = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}

	c.udp, err = net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bind client datagram socket: %v", err)
	}
	return c
}

// bind completes the datagram half of the handshake and consumes the ack.
func (c *testClient) bind(t *testing.T) {
	t.Helper()

	if _, err := c.udp.WriteTo([]byte("HANDSHAKE|"+c.nonce), c.serverUDP); err != nil {
		t.Fatalf("send handshake datagram: %v", err)
	}

	seq, payload := c.readDatagram(t)
	if seq != 1 {
		t.Errorf("ack seq = %d, want 1", seq)
	}
	if string(payload) != "HANDSHAKE_ACK" {
		t.Errorf("ack payload = %q, want HANDSHAKE_ACK", payload)
	}
}

// authenticate answers the challenge with the given secret.
func (c *testClient) authenticate(t *testing.T, secret string) string {
	t.Helper()

	line := c.readLine(t)
	if !strings.HasPrefix(line, "AUTH_CHALLENGE|") {
		t.Fatalf("challenge line = %q", line)
	}
	challenge := strings.TrimPrefix(line, "AUTH_CHALLENGE|")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(challenge))
	response := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if _, err := c.tcp.Write([]byte("AUTH_RESPONSE|" + response + "\n")); err != nil {
		t.Fatalf("send auth response: %v", err)
	}
	return c.readLine(t)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAcceptor_HappyPath(t *testing.T) {
	acc, reg := startAcceptor(t, testConfig())

	c := connect(t, acc)
	defer c.close()
	c.bind(t)

	if status := c.authenticate(t, testSecret); status != "AUTH_SUCCESS" {
		t.Fatalf("auth status = %q, want AUTH_SUCCESS", status)
	}
	if welcome := c.readLine(t); welcome != "welcome adventurer" {
		t.Errorf("welcome = %q", welcome)
	}

	waitFor(t, "session registration", func() bool { return reg.Count() == 1 })

	s := reg.Snapshot()[0]
	if !s.Authenticated() {
		t.Error("session not authenticated")
	}
	if got := s.Nonce().String(); got != c.nonce {
		t.Errorf("session nonce = %s, want %s", got, c.nonce)
	}
	if got := s.RemoteDatagramAddr().String(); got != c.udp.LocalAddr().String() {
		t.Errorf("bound endpoint = %s, want client socket %s", got, c.udp.LocalAddr())
	}

	// A tick dispatched through the registry must arrive as a framed
	// 25-byte datagram with a newer sequence than the ack.
	d := tick.NewDispatcher(reg, nil, quietLogger())
	d.Register(tick.Movement, 50*time.Millisecond, nil, nil, nil)
	d.ProcessTick(tick.Movement)

	seq, payload := c.readDatagram(t)
	if seq != 2 {
		t.Errorf("tick seq = %d, want 2 (after ack)", seq)
	}
	packet, err := wire.DecodeTickPacket(payload)
	if err != nil {
		t.Fatalf("DecodeTickPacket() error: %v", err)
	}
	if packet.Kind != int32(tick.Movement) {
		t.Errorf("tick kind = %d, want %d", packet.Kind, tick.Movement)
	}
	if packet.Counter != 1 {
		t.Errorf("tick counter = %d, want 1", packet.Counter)
	}
}

func TestAcceptor_WrongSecret(t *testing.T) {
	acc, reg := startAcceptor(t, testConfig())

	c := connect(t, acc)
	defer c.close()
	c.bind(t)

	if status := c.authenticate(t, "not-the-secret"); status != "AUTH_FAILED" {
		t.Fatalf("auth status = %q, want AUTH_FAILED", status)
	}

	// The stream must close promptly and the session must disappear.
	_ = c.tcp.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := c.reader.ReadString('\n'); err == nil {
		t.Error("stream still open after AUTH_FAILED")
	}
	waitFor(t, "session teardown", func() bool { return reg.Count() == 0 })
}

func TestAcceptor_HandshakeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 150 * time.Millisecond
	acc, reg := startAcceptor(t, cfg)

	c := connect(t, acc)
	defer c.close()
	// Never send the datagram half.

	_ = c.tcp.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.reader.ReadString('\n'); err == nil {
		t.Error("stream still open after handshake timeout")
	}
	if reg.Count() != 0 {
		t.Errorf("sessions = %d after timeout, want 0", reg.Count())
	}
	waitFor(t, "raw connection cleanup", func() bool { return reg.RawCount() == 0 })
}

func TestAcceptor_DuplicateHandshakeDatagram(t *testing.T) {
	acc, reg := startAcceptor(t, testConfig())

	c := connect(t, acc)
	defer c.close()
	c.bind(t)
	if status := c.authenticate(t, testSecret); status != "AUTH_SUCCESS" {
		t.Fatalf("auth status = %q", status)
	}
	_ = c.readLine(t) // welcome

	// Retransmit the handshake echo after binding.
	if _, err := c.udp.WriteTo([]byte("HANDSHAKE|"+c.nonce), c.serverUDP); err != nil {
		t.Fatalf("resend handshake datagram: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := reg.Count(); got != 1 {
		t.Errorf("sessions = %d after duplicate handshake, want 1", got)
	}
	if s := reg.Snapshot()[0]; s.Disconnecting() || !s.Authenticated() {
		t.Error("existing session state changed by duplicate handshake")
	}
}

func TestAcceptor_MalformedAndUnknownDatagrams(t *testing.T) {
	acc, reg := startAcceptor(t, testConfig())

	c := connect(t, acc)
	defer c.close()

	// Malformed handshake text and unknown-endpoint datagrams must be
	// dropped without consuming the pending entry.
	if _, err := c.udp.WriteTo([]byte("HANDSHAKE|not-a-uuid"), c.serverUDP); err != nil {
		t.Fatal(err)
	}
	stray, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer stray.Close()
	if _, err := stray.WriteTo([]byte{0, 0, 0, 9, 'x'}, c.serverUDP); err != nil {
		t.Fatal(err)
	}

	// The real echo still binds.
	c.bind(t)
	if status := c.authenticate(t, testSecret); status != "AUTH_SUCCESS" {
		t.Fatalf("auth status = %q", status)
	}
	waitFor(t, "session registration", func() bool { return reg.Count() == 1 })
}

func TestAcceptor_MaxClients(t *testing.T) {
	cfg := testConfig()
	cfg.MaxClients = 1
	acc, reg := startAcceptor(t, cfg)

	c1 := connect(t, acc)
	defer c1.close()
	c1.bind(t)
	if status := c1.authenticate(t, testSecret); status != "AUTH_SUCCESS" {
		t.Fatalf("auth status = %q", status)
	}
	_ = c1.readLine(t) // welcome
	waitFor(t, "first session", func() bool { return reg.Count() == 1 })

	// With the cap reached, a second connection is closed before any
	// handshake line is sent.
	tcp2, err := net.Dial("tcp", acc.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial second stream: %v", err)
	}
	defer tcp2.Close()

	_ = tcp2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := bufio.NewReader(tcp2).ReadString('\n'); err == nil {
		t.Error("second connection received a handshake despite full server")
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestAcceptor_GracefulShutdown(t *testing.T) {
	cfg := testConfig()
	log := quietLogger()
	reg := session.NewRegistry()
	authn := auth.New([]byte(cfg.SharedSecret), cfg.AuthTimeout, nil, log)
	acc := New(cfg, reg, authn, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	if err := acc.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	c := connect(t, acc)
	defer c.close()
	c.bind(t)
	if status := c.authenticate(t, testSecret); status != "AUTH_SUCCESS" {
		t.Fatalf("auth status = %q", status)
	}
	_ = c.readLine(t) // welcome

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()

	start := time.Now()
	if err := acc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop() took %v, want within grace", elapsed)
	}

	if got := reg.Count(); got != 0 {
		t.Errorf("sessions = %d after shutdown, want 0", got)
	}

	// The client observes its stream closing.
	_ = c.tcp.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := c.reader.ReadString('\n'); err == nil {
		t.Error("client stream still open after shutdown")
	}
}

func TestPendingTable(t *testing.T) {
	table := newPendingTable()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	nonce := uuid.New()
	entry := table.add(nonce, server)
	if table.size() != 1 {
		t.Fatalf("size() = %d, want 1", table.size())
	}

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7000}
	if !table.resolve(nonce, addr) {
		t.Fatal("resolve() = false for pending nonce")
	}
	select {
	case got := <-entry.resolved:
		if got.String() != addr.String() {
			t.Errorf("resolved addr = %s, want %s", got, addr)
		}
	default:
		t.Fatal("resolution did not reach the completion slot")
	}

	// A nonce matches at most once.
	if table.resolve(nonce, addr) {
		t.Error("resolve() = true for consumed nonce")
	}
	if table.size() != 0 {
		t.Errorf("size() = %d after resolve, want 0", table.size())
	}

	table.remove(nonce) // removing an absent entry is a no-op
}
