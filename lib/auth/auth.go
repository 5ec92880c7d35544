// Package auth implements the challenge-response authenticator run over a
// session's text-framed stream. The server issues a timestamped random
// challenge; the client proves knowledge of the shared secret by returning
// a keyed MAC of it.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-mythos/go-game-server/lib/metrics"
	"github.com/go-mythos/go-game-server/lib/session"
	"github.com/go-mythos/go-game-server/lib/util"
	"github.com/go-mythos/go-game-server/lib/wire"
)

// challengeRandLen is the number of random bytes in each challenge.
// 16 bytes makes challenge reuse within a process run vanishingly unlikely.
const challengeRandLen = 16

// Authenticator gates sessions with an HMAC-SHA256 challenge-response.
type Authenticator struct {
	secret  []byte
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logrus.Logger
}

// New creates an authenticator keyed with the shared secret.
func New(secret []byte, timeout time.Duration, m *metrics.Metrics, log *logrus.Logger) *Authenticator {
	if m == nil {
		m = metrics.Nop()
	}
	return &Authenticator{
		secret:  secret,
		timeout: timeout,
		metrics: m,
		log:     log,
	}
}

// Challenge generates a fresh challenge string of the form
// "<unix-seconds>:<base64 of 16 random bytes>".
func (a *Authenticator) Challenge() (string, error) {
	buf := make([]byte, challengeRandLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenge entropy: %w", err)
	}
	return fmt.Sprintf("%d:%s", time.Now().Unix(), base64.StdEncoding.EncodeToString(buf)), nil
}

// Expected computes the response a client holding the shared secret must
// return for the given challenge: Base64(HMAC-SHA256(secret, challenge)).
func (a *Authenticator) Expected(challenge string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(challenge))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify compares an expected response with the client's answer in
// constant time.
func (a *Authenticator) Verify(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// Authenticate runs the full exchange over the session's stream. On success
// the session's authenticated flag is set and AUTH_SUCCESS is sent. On any
// failure (timeout, malformed response, MAC mismatch, stream error) a best
// effort AUTH_FAILED is written and an error returned; the caller drops the
// session.
func (a *Authenticator) Authenticate(s *session.Session) error {
	challenge, err := a.Challenge()
	if err != nil {
		return a.fail(s, err)
	}
	expected := a.Expected(challenge)

	if err := s.Stream().WriteLine(wire.AuthChallengeLine(challenge)); err != nil {
		return a.fail(s, util.NewSessionError(s.ID(), "send challenge", err))
	}

	line, err := s.Stream().ReadLineDeadline(time.Now().Add(a.timeout))
	if err != nil {
		if util.IsTimeout(err) {
			return a.fail(s, util.ErrAuthTimeout)
		}
		return a.fail(s, util.NewSessionError(s.ID(), "read response", err))
	}

	response, err := wire.ParseAuthResponse(line)
	if err != nil {
		return a.fail(s, fmt.Errorf("%w: %v", util.ErrAuthFailed, err))
	}

	if !a.Verify(expected, response) {
		return a.fail(s, util.ErrAuthFailed)
	}

	s.SetAuthenticated()
	a.metrics.AuthResults.WithLabelValues("success").Inc()
	return s.Stream().WriteLine(wire.VerbAuthSuccess)
}

// fail sends AUTH_FAILED if the stream is still writable and returns err.
func (a *Authenticator) fail(s *session.Session, err error) error {
	a.metrics.AuthResults.WithLabelValues("failure").Inc()
	if werr := s.Stream().WriteLine(wire.VerbAuthFailed); werr != nil && !util.IsNetworkClose(werr) {
		s.Log().WithError(werr).Debug("Auth failure notice not delivered")
	}
	return err
}
