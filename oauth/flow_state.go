package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"
)

// ChallengeMethodS256 is the only supported PKCE challenge method.  The
// plain method defeats the point of PKCE and is deliberately unsupported.
const ChallengeMethodS256 = "S256"

// randEntropyBytes yields 43 base64url characters, which satisfies both the
// 128-bit minimum for state/nonce values and the PKCE verifier's 43..128
// character range.
const randEntropyBytes = 32

// FlowState is the per-session, short-lived security state for exactly one
// login+callback pair.  It is created at login start, persisted to the
// session store, and consumed (read once and erased) when the callback
// arrives — never reused across two callbacks.
type FlowState struct {
	// State is the opaque anti-CSRF value round-tripped through the
	// provider.
	State string `json:"state"`

	// Nonce is embedded in and verified against the id_token.  Present iff
	// the provider is OIDC.
	Nonce string `json:"nonce,omitempty"`

	// CodeVerifier is the PKCE verifier.  Present iff PKCE is enabled.
	CodeVerifier string `json:"code_verifier,omitempty"`

	// CreatedAt records when the flow started.
	CreatedAt time.Time `json:"created_at"`
}

// NewFlowState generates the state, and conditionally the nonce and PKCE
// verifier, for one login attempt.  All values come from a cryptographically
// secure source; tests may swap the source with WithRandReader.
// Supported options: WithRandReader, WithNow
func NewFlowState(oidc bool, usePKCE bool, opt ...Option) (*FlowState, error) {
	const op = "oauth.NewFlowState"
	opts := getFlowStateOpts(opt...)
	reader := opts.withRandReader
	if reader == nil {
		reader = rand.Reader
	}
	now := time.Now
	if opts.withNowFunc != nil {
		now = opts.withNowFunc
	}

	state, err := randomURLSafe(reader)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	s := &FlowState{
		State:     state,
		CreatedAt: now(),
	}
	if oidc {
		if s.Nonce, err = randomURLSafe(reader); err != nil {
			return nil, fmt.Errorf("%s: unable to generate nonce: %w", op, err)
		}
	}
	if usePKCE {
		if s.CodeVerifier, err = randomURLSafe(reader); err != nil {
			return nil, fmt.Errorf("%s: unable to generate code verifier: %w", op, err)
		}
	}
	return s, nil
}

// CodeChallenge derives the S256 code challenge from the verifier:
// base64url, no padding, of the verifier's SHA-256.  Empty when PKCE is not
// in use.
func (s *FlowState) CodeChallenge() string {
	if s.CodeVerifier == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s.CodeVerifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomURLSafe reads randEntropyBytes from r and encodes them base64url
// without padding.
func randomURLSafe(r io.Reader) (string, error) {
	buf := make([]byte, randEntropyBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrGeneratorFailed)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
