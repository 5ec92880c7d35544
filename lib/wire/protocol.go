package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Control-line verbs exchanged on the stream and in handshake datagrams.
// Lines are UTF-8, '|'-separated fields, terminated by a single '\n'.
const (
	// VerbHandshake opens both the stream handshake line
	// (HANDSHAKE|<uuid>|<stream-address>|<datagram-port>) and the client's
	// echo datagram (HANDSHAKE|<uuid>).
	VerbHandshake = "HANDSHAKE"

	// VerbHandshakeAck is the datagram payload acknowledging a bound endpoint.
	VerbHandshakeAck = "HANDSHAKE_ACK"

	// VerbAuthChallenge carries the server's challenge string.
	VerbAuthChallenge = "AUTH_CHALLENGE"

	// VerbAuthResponse carries the client's base64 HMAC.
	VerbAuthResponse = "AUTH_RESPONSE"

	// VerbAuthSuccess and VerbAuthFailed terminate the auth exchange.
	VerbAuthSuccess = "AUTH_SUCCESS"
	VerbAuthFailed  = "AUTH_FAILED"
)

// FieldSep separates fields within a control line.
const FieldSep = "|"

// SeqPrefixLen is the size of the little-endian sequence prefix carried by
// every datagram.
const SeqPrefixLen = 4

// MaxDatagramPayload is the largest payload accepted for an outbound
// datagram, excluding the sequence prefix. Oversized payloads are rejected,
// never truncated.
const MaxDatagramPayload = 1024

// HandshakeLine formats the server's opening stream line.
func HandshakeLine(nonce uuid.UUID, streamAddr string, datagramPort int) string {
	return VerbHandshake + FieldSep + nonce.String() + FieldSep + streamAddr + FieldSep + strconv.Itoa(datagramPort)
}

// HandshakeDatagram formats the client's echo payload.
func HandshakeDatagram(nonce uuid.UUID) []byte {
	return []byte(VerbHandshake + FieldSep + nonce.String())
}

// ParseHandshakeDatagram extracts the nonce from a HANDSHAKE|<uuid> payload.
// Returns false for anything that is not a well-formed handshake echo.
func ParseHandshakeDatagram(payload []byte) (uuid.UUID, bool) {
	text := string(payload)
	if !strings.HasPrefix(text, VerbHandshake+FieldSep) {
		return uuid.UUID{}, false
	}
	nonce, err := uuid.Parse(strings.TrimPrefix(text, VerbHandshake+FieldSep))
	if err != nil {
		return uuid.UUID{}, false
	}
	return nonce, true
}

// IsHandshakeDatagram reports whether a datagram payload begins with the
// handshake verb, without validating the nonce.
func IsHandshakeDatagram(payload []byte) bool {
	return strings.HasPrefix(string(payload), VerbHandshake+FieldSep)
}

// AuthChallengeLine formats the server's challenge line.
func AuthChallengeLine(challenge string) string {
	return VerbAuthChallenge + FieldSep + challenge
}

// ParseAuthResponse extracts the base64 HMAC from AUTH_RESPONSE|<mac>.
func ParseAuthResponse(line string) (string, error) {
	if !strings.HasPrefix(line, VerbAuthResponse+FieldSep) {
		return "", fmt.Errorf("expected %s line, got %q", VerbAuthResponse, truncateForLog(line))
	}
	return strings.TrimPrefix(line, VerbAuthResponse+FieldSep), nil
}

// truncateForLog bounds untrusted text quoted into error messages.
func truncateForLog(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
