package oauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tokenlab/flowprobe/jwks"
)

var (
	// ErrInvalidParameter is an invalid parameter error
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNilParameter is a nil parameter error
	ErrNilParameter = errors.New("nil parameter")

	// ErrInvalidCACert is an invalid CA certificate error
	ErrInvalidCACert = errors.New("invalid CA certificate")

	// ErrGeneratorFailed means the cryptographic randomness source failed.
	ErrGeneratorFailed = errors.New("random value generation failed")

	// ErrDiscoveryUnavailable means neither the discovery document nor the
	// minimum manual endpoints (authorize + token URL) could be resolved.
	ErrDiscoveryUnavailable = errors.New("provider discovery unavailable")

	// ErrSessionExpired means no live flow state existed for the session
	// when the callback arrived (expired, replayed, or never started).
	ErrSessionExpired = errors.New("session has no live login flow")

	// ErrStateMismatch means the state parameter returned by the provider
	// did not match the stored flow state.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrTokenExchangeFailed means the authorization-code exchange failed;
	// the FlowError carries the upstream status and body for display.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrInvalidIDToken means id_token verification failed; the wrapped
	// jwks error carries the specific reason.
	ErrInvalidIDToken = errors.New("invalid id_token")

	// ErrUserInfoFailed is the non-fatal userinfo retrieval failure.
	ErrUserInfoFailed = errors.New("userinfo request failed")

	// ErrLongLivedExchangeFailed is the non-fatal long-lived token exchange
	// failure.
	ErrLongLivedExchangeFailed = errors.New("long-lived token exchange failed")

	// ErrProviderError means the provider redirected back with an OAuth
	// error instead of an authorization code.
	ErrProviderError = errors.New("provider returned an error")
)

// fatalKinds are the kinds that abort a callback.  Everything else degrades
// the result without changing the terminal state.
var fatalKinds = map[error]bool{
	ErrDiscoveryUnavailable: true,
	ErrSessionExpired:       true,
	ErrStateMismatch:        true,
	ErrTokenExchangeFailed:  true,
	ErrInvalidIDToken:       true,
	ErrProviderError:        true,
}

// FlowError is the tagged outcome of a failed flow operation.  It is always
// returned as a value, never panicked, and its display form is what gets
// persisted to the session store.
type FlowError struct {
	// Kind is one of the sentinel error kinds above.
	Kind error

	// Op is the operation that produced the error.
	Op string

	// Msg is the human readable detail.
	Msg string

	// Status is the upstream HTTP status, when the error came from a
	// provider response.
	Status int

	// Body is the upstream response body, kept for display.
	Body string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// newFlowError creates a FlowError for the given kind.
// Supported options: WithOp, WithMsg, WithWrap, WithStatus, WithBody
func newFlowError(kind error, opt ...Option) *FlowError {
	opts := getErrorOpts(opt...)
	return &FlowError{
		Kind:    kind,
		Op:      opts.withOp,
		Msg:     opts.withMsg,
		Status:  opts.withStatus,
		Body:    opts.withBody,
		Wrapped: opts.withWrap,
	}
}

// Fatal reports whether the error's kind aborts a callback.
func (e *FlowError) Fatal() bool {
	return fatalKinds[e.Kind]
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error, if any.
func (e *FlowError) Unwrap() error { return e.Wrapped }

// Is matches against both the error's kind and anything it wraps, so
// errors.Is(err, ErrStateMismatch) and errors.Is(err, jwks.ErrInvalidNonce)
// both work.
func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// ErrorDisplay is the serializable display form of a FlowError, persisted to
// the session store under the error key.
type ErrorDisplay struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Status  int    `json:"status,omitempty"`
	Body    string `json:"body,omitempty"`
	Fatal   bool   `json:"fatal"`
}

// Display converts the error to its serializable form.
func (e *FlowError) Display() ErrorDisplay {
	return ErrorDisplay{
		Kind:    kindName(e.Kind),
		Message: e.Msg,
		Reason:  reasonName(e.Wrapped),
		Status:  e.Status,
		Body:    e.Body,
		Fatal:   e.Fatal(),
	}
}

func kindName(kind error) string {
	switch {
	case errors.Is(kind, ErrDiscoveryUnavailable):
		return "discovery_unavailable"
	case errors.Is(kind, ErrSessionExpired):
		return "session_expired"
	case errors.Is(kind, ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(kind, ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(kind, ErrInvalidIDToken):
		return "invalid_id_token"
	case errors.Is(kind, ErrUserInfoFailed):
		return "userinfo_failed"
	case errors.Is(kind, ErrLongLivedExchangeFailed):
		return "long_lived_exchange_failed"
	case errors.Is(kind, ErrProviderError):
		return "provider_error"
	default:
		return "error"
	}
}

// reasonName names the id_token verification sub-reason, when there is one.
func reasonName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jwks.ErrUnsupportedAlg), errors.Is(err, jwks.ErrInvalidSignature), errors.Is(err, jwks.ErrMalformedToken):
		return "signature"
	case errors.Is(err, jwks.ErrExpiredToken):
		return "expiry"
	case errors.Is(err, jwks.ErrInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwks.ErrInvalidAudience):
		return "audience"
	case errors.Is(err, jwks.ErrInvalidNonce):
		return "nonce"
	case errors.Is(err, jwks.ErrNoVerificationKeys), errors.Is(err, jwks.ErrKeyNotFound), errors.Is(err, jwks.ErrFetchFailed):
		return "keys"
	default:
		return ""
	}
}
