package acceptor

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/go-mythos/go-game-server/lib/util"
	"github.com/go-mythos/go-game-server/lib/wire"
)

// maxInboundDatagram is the receive buffer for the shared datagram socket.
const maxInboundDatagram = 64 * 1024

// datagramLoop receives every datagram on the shared socket and routes it:
// handshake echoes resolve their pending entry; everything else is handed
// to the session bound to the sender endpoint. Unroutable or malformed
// datagrams are dropped with a debug log.
func (a *Acceptor) datagramLoop(ctx context.Context) error {
	buf := make([]byte, maxInboundDatagram)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, from, err := a.udp.ReadFrom(buf)
		if err != nil {
			if a.closed.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if util.IsTimeout(err) {
				continue
			}
			return util.NewConnectionError(a.cfg.DatagramAddr, "datagram receive", err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if wire.IsHandshakeDatagram(data) {
			a.handleHandshakeDatagram(data, from)
			continue
		}

		a.routeDatagram(data, from)
	}
}

// handleHandshakeDatagram resolves the pending entry matching the echoed
// nonce. Retransmissions that arrive after resolution are dropped silently;
// unknown nonces are logged and dropped.
func (a *Acceptor) handleHandshakeDatagram(data []byte, from net.Addr) {
	nonce, ok := wire.ParseHandshakeDatagram(data)
	if !ok {
		a.metrics.DatagramsDropped.Inc()
		a.log.WithField("from", from.String()).Debug("Malformed handshake datagram")
		return
	}

	if a.resolved.Contains(nonce) {
		// Duplicate of an already-bound handshake.
		return
	}

	if !a.pending.resolve(nonce, from) {
		a.metrics.DatagramsDropped.Inc()
		a.log.WithFields(logrus.Fields{
			"from":  from.String(),
			"nonce": nonce.String(),
		}).Debug("Handshake datagram with unknown nonce")
		return
	}
	a.resolved.Add(nonce, struct{}{})
}

// routeDatagram delivers a non-handshake datagram to the session bound to
// the sender endpoint.
func (a *Acceptor) routeDatagram(data []byte, from net.Addr) {
	s := a.registry.LookupByEndpoint(from)
	if s == nil {
		a.metrics.DatagramsDropped.Inc()
		a.log.WithField("from", from.String()).Debug("Datagram from unknown endpoint")
		return
	}

	if err := s.Datagram().Receive(data); err != nil {
		a.metrics.DatagramsDropped.Inc()
		if !errors.Is(err, util.ErrDatagramStale) {
			s.Log().WithError(err).Debug("Inbound datagram rejected")
		}
	}
}
