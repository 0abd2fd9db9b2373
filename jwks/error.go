package jwks

import "errors"

var (
	// ErrInvalidParameter is an invalid parameter error
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrMalformedToken means the compact serialization could not be parsed
	// into header/payload/signature parts.
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnsupportedAlg means the token header declared an algorithm outside
	// the verifier's allow-list (including "none" and symmetric algorithms).
	ErrUnsupportedAlg = errors.New("unsupported signing algorithm")

	// ErrNoVerificationKeys means no JWKS URL was available to fetch keys
	// from, so the token could not be verified at all.
	ErrNoVerificationKeys = errors.New("no verification keys available")

	// ErrKeyNotFound means the key id from the token header was not present
	// in the key set, even after a forced refresh.
	ErrKeyNotFound = errors.New("key id not found in key set")

	// ErrFetchFailed means the key set could not be retrieved from its URL.
	ErrFetchFailed = errors.New("unable to fetch key set")

	// ErrInvalidSignature means the signature did not verify with the
	// located key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrExpiredToken means the token's exp claim has passed.
	ErrExpiredToken = errors.New("token is expired")

	// ErrInvalidIssuer means the iss claim did not match the expected issuer.
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience means the aud claim did not contain the expected
	// audience.
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrInvalidNonce means the nonce claim did not match the expected nonce.
	ErrInvalidNonce = errors.New("invalid nonce")
)
