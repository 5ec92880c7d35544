package acceptor

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/go-mythos/go-game-server/lib/auth"
	"github.com/go-mythos/go-game-server/lib/config"
	"github.com/go-mythos/go-game-server/lib/metrics"
	"github.com/go-mythos/go-game-server/lib/session"
	"github.com/go-mythos/go-game-server/lib/util"
	"github.com/go-mythos/go-game-server/lib/wire"
)

// resolvedNonceCacheSize bounds the cache used to silently drop handshake
// datagrams retransmitted after their nonce already resolved.
const resolvedNonceCacheSize = 512

// readLoopPollInterval bounds how long a session read blocks before the
// loop re-checks the shutdown signal.
const readLoopPollInterval = time.Second

// Acceptor owns the stream listener and the shared datagram socket, runs
// the two listener loops, and drives one handshake per raw connection.
// Both sockets are released on Stop; sessions borrow the datagram socket
// but never close it.
type Acceptor struct {
	cfg      *config.Config
	registry *session.Registry
	auth     *auth.Authenticator
	metrics  *metrics.Metrics
	log      *logrus.Logger

	listener net.Listener
	udp      net.PacketConn

	pending  *pendingTable
	resolved *lru.Cache[uuid.UUID, struct{}]

	nextID atomic.Uint64
	closed atomic.Bool

	group *errgroup.Group
	wg    sync.WaitGroup // handshake drivers and session read loops
}

// New creates an acceptor. Sockets are not bound until Start.
func New(cfg *config.Config, reg *session.Registry, authn *auth.Authenticator, m *metrics.Metrics, log *logrus.Logger) *Acceptor {
	if m == nil {
		m = metrics.Nop()
	}
	cache, _ := lru.New[uuid.UUID, struct{}](resolvedNonceCacheSize)
	reg.SetOnUnregister(func(*session.Session) { m.SessionsActive.Dec() })
	return &Acceptor{
		cfg:      cfg,
		registry: reg,
		auth:     authn,
		metrics:  m,
		log:      log,
		pending:  newPendingTable(),
		resolved: cache,
	}
}

// Name implements supervisor.Component.
func (a *Acceptor) Name() string { return "acceptor" }

// Start binds both sockets and launches the stream and datagram listener
// loops. It returns once both listeners are running; ctx is the process
// shutdown signal.
func (a *Acceptor) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return util.NewConnectionError(a.cfg.ListenAddr, "listen stream", err)
	}

	udp, err := net.ListenPacket("udp", a.cfg.DatagramAddr)
	if err != nil {
		listener.Close()
		return util.NewConnectionError(a.cfg.DatagramAddr, "listen datagram", err)
	}

	a.listener = listener
	a.udp = udp

	a.log.WithFields(logrus.Fields{
		"stream":   listener.Addr().String(),
		"datagram": udp.LocalAddr().String(),
	}).Info("Acceptor listening")

	group, gctx := errgroup.WithContext(ctx)
	a.group = group
	group.Go(func() error { return a.acceptLoop(gctx) })
	group.Go(func() error { return a.datagramLoop(gctx) })
	return nil
}

// Stop closes both sockets, disconnects every session, and waits for the
// listener loops and per-connection goroutines to finish. ctx bounds the
// wait.
func (a *Acceptor) Stop(ctx context.Context) error {
	if a.closed.Swap(true) {
		return nil
	}

	if a.listener != nil {
		_ = a.listener.Close()
	}
	if a.udp != nil {
		_ = a.udp.Close()
	}
	a.registry.Close()

	done := make(chan struct{})
	go func() {
		if a.group != nil {
			_ = a.group.Wait()
		}
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DatagramPort returns the bound UDP port, for the handshake line.
func (a *Acceptor) DatagramPort() int {
	if addr, ok := a.udp.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// acceptLoop accepts raw stream connections and spawns a handshake driver
// for each. The bound-session cap is checked before the connection is
// handed to a driver; raw in-flight handshakes are not counted.
func (a *Acceptor) acceptLoop(ctx context.Context) error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.closed.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if util.IsTimeout(err) {
				continue
			}
			return util.NewConnectionError(a.cfg.ListenAddr, "accept", err)
		}

		if a.cfg.MaxClients > 0 && a.registry.Count() >= a.cfg.MaxClients {
			a.log.WithField("remote", conn.RemoteAddr().String()).
				Warn("Rejecting connection: server full")
			_ = conn.Close()
			continue
		}

		a.registry.RegisterRaw(conn)
		a.wg.Add(1)
		go a.handshake(ctx, conn)
	}
}

// handshake drives one connection through the binding state machine:
// issue the nonce on the stream, wait for the matching datagram, then
// construct the session, authenticate it, and enter its read loop. Any
// failure closes the raw connection and removes all trace of it.
func (a *Acceptor) handshake(ctx context.Context, conn net.Conn) {
	defer a.wg.Done()

	log := a.log.WithField("remote", conn.RemoteAddr().String())

	nonce := uuid.New()
	entry := a.pending.add(nonce, conn)

	fail := func(reason string, err error) {
		a.pending.remove(nonce)
		a.registry.UnregisterRaw(conn)
		_ = conn.Close()
		a.metrics.HandshakesFailed.Inc()
		if err != nil && !util.IsNetworkClose(err) {
			log.WithError(err).Warn(reason)
		} else {
			log.WithError(err).Debug(reason)
		}
	}

	line := wire.HandshakeLine(nonce, a.listener.Addr().String(), a.DatagramPort())
	if err := writeLine(conn, line); err != nil {
		fail("Handshake send failed", err)
		return
	}

	var remote net.Addr
	timer := time.NewTimer(a.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case remote = <-entry.resolved:
	case <-timer.C:
		fail("Handshake datagram never arrived", util.ErrHandshakeTimeout)
		return
	case <-ctx.Done():
		fail("Handshake cancelled by shutdown", ctx.Err())
		return
	}

	s := session.New(a.nextID.Add(1), nonce, conn, a.udp, remote, a.metrics, a.log)
	if err := a.registry.Register(s); err != nil {
		fail("Session registration failed", err)
		return
	}
	a.registry.UnregisterRaw(conn)
	a.metrics.SessionsTotal.Inc()
	a.metrics.SessionsActive.Inc()

	// The ack rides the session's datagram channel so it carries the
	// session's first sequence number.
	if err := s.Datagram().Send([]byte(wire.VerbHandshakeAck)); err != nil {
		s.Log().WithError(err).Debug("Handshake ack send failed")
	}

	if err := a.auth.Authenticate(s); err != nil {
		s.Log().WithError(err).Info("Authentication failed")
		s.Disconnect()
		return
	}
	s.Log().Info("Session authenticated")

	if err := s.Stream().WriteLine(a.cfg.Welcome); err != nil {
		s.Disconnect()
		return
	}

	a.readLoop(ctx, s)
}

// readLoop consumes control lines from an authenticated session's stream
// until the peer disconnects or shutdown begins. Reads poll with a short
// deadline so the loop observes cancellation promptly.
func (a *Acceptor) readLoop(ctx context.Context, s *session.Session) {
	idleReported := false
	for {
		if ctx.Err() != nil || s.Disconnecting() {
			s.Disconnect()
			return
		}

		line, err := s.Stream().ReadLineDeadline(time.Now().Add(readLoopPollInterval))
		if err != nil {
			if util.IsTimeout(err) {
				// Datagram silence is diagnostic only; the stream decides
				// the session's fate.
				if !idleReported && s.Stats().DatagramIdle() > session.DatagramIdleThreshold {
					idleReported = true
					s.Log().WithField("idle", s.Stats().DatagramIdle()).
						Debug("Datagram channel timed out")
				}
				continue
			}
			if util.IsNetworkClose(err) {
				s.Log().WithError(err).Debug("Stream closed")
			} else {
				s.Log().WithError(err).Error("Stream read failed")
			}
			s.Disconnect()
			return
		}

		// Control messages beyond the handshake are not defined yet.
		s.Log().WithField("line", line).Debug("Control line ignored")
	}
}

// writeLine writes one newline-terminated line on a raw, pre-session
// connection.
func writeLine(conn net.Conn, line string) error {
	_, err := conn.Write([]byte(line + "\n"))
	return err
}
