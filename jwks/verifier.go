package jwks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2/jwt"
)

// Expected holds the claim values a token must carry to pass verification.
// Zero-valued fields are not checked.
type Expected struct {
	// Issuer is compared against the iss claim when known.
	Issuer string

	// Audience must be contained in the aud claim.
	Audience string

	// Nonce is compared against the nonce claim, mitigating replay of a
	// stolen token.
	Nonce string
}

// Claims is the verified identity asserted by an id_token.  It is only
// constructed after the signature and all claim checks pass.
type Claims struct {
	Issuer   string    `json:"iss"`
	Subject  string    `json:"sub"`
	Audience []string  `json:"aud"`
	Expiry   time.Time `json:"exp"`
	IssuedAt time.Time `json:"iat"`
	Nonce    string    `json:"nonce,omitempty"`

	// Custom holds the remaining claims, keyed by claim name.
	Custom map[string]interface{} `json:"claims,omitempty"`
}

// Verifier verifies id_token compact serializations using keys from a Cache.
type Verifier struct {
	cache   *Cache
	algs    map[Alg]bool
	nowFunc func() time.Time
}

// NewVerifier creates a Verifier backed by the given key cache.
// Supported options: WithSigningAlgs, WithNow
func NewVerifier(cache *Cache, opt ...Option) (*Verifier, error) {
	const op = "jwks.NewVerifier"
	if cache == nil {
		return nil, fmt.Errorf("%s: key cache is nil: %w", op, ErrInvalidParameter)
	}
	opts := getVerifierOpts(opt...)
	if len(opts.withSigningAlgs) == 0 {
		return nil, fmt.Errorf("%s: signing algorithm allow-list is empty: %w", op, ErrInvalidParameter)
	}
	if err := SupportedSigningAlgorithm(opts.withSigningAlgs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	algs := make(map[Alg]bool, len(opts.withSigningAlgs))
	for _, a := range opts.withSigningAlgs {
		algs[a] = true
	}
	return &Verifier{
		cache:   cache,
		algs:    algs,
		nowFunc: opts.withNowFunc,
	}, nil
}

func (v *Verifier) now() time.Time {
	if v.nowFunc != nil {
		return v.nowFunc()
	}
	return time.Now()
}

// Verify parses rawIDToken, verifies its signature with a key from the set
// published at jwksURL, and validates the expiry, issuer, audience and nonce
// claims against expected.  No header field is trusted before the signature
// verifies, except the kid/alg needed to locate and allow-list the key.
func (v *Verifier) Verify(ctx context.Context, rawIDToken, jwksURL string, expected Expected) (*Claims, error) {
	const op = "jwks.Verifier.Verify"
	if rawIDToken == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}

	parsed, err := jwt.ParseSigned(rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse id_token: %v: %w", op, err, ErrMalformedToken)
	}
	if len(parsed.Headers) != 1 {
		return nil, fmt.Errorf("%s: id_token must have exactly one signature header: %w", op, ErrMalformedToken)
	}
	header := parsed.Headers[0]

	if !v.algs[Alg(header.Algorithm)] {
		return nil, fmt.Errorf("%s: header algorithm %q is not allowed: %w", op, header.Algorithm, ErrUnsupportedAlg)
	}

	key, err := v.cache.Key(ctx, jwksURL, header.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var std jwt.Claims
	all := map[string]interface{}{}
	if err := parsed.Claims(key.Key, &std, &all); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrInvalidSignature)
	}

	if err := std.Validate(jwt.Expected{Time: v.now()}); err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpired):
			return nil, fmt.Errorf("%s: %w", op, ErrExpiredToken)
		case errors.Is(err, jwt.ErrNotValidYet):
			return nil, fmt.Errorf("%s: token not valid yet: %w", op, ErrExpiredToken)
		default:
			return nil, fmt.Errorf("%s: claim validation: %v: %w", op, err, ErrInvalidParameter)
		}
	}
	if expected.Issuer != "" && std.Issuer != expected.Issuer {
		return nil, fmt.Errorf("%s: got issuer %q: %w", op, std.Issuer, ErrInvalidIssuer)
	}
	if expected.Audience != "" && !audienceContains(std.Audience, expected.Audience) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidAudience)
	}

	nonce, _ := all["nonce"].(string)
	if expected.Nonce != "" && nonce != expected.Nonce {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}

	claims := &Claims{
		Issuer:   std.Issuer,
		Subject:  std.Subject,
		Audience: []string(std.Audience),
		Nonce:    nonce,
		Custom:   map[string]interface{}{},
	}
	if std.Expiry != nil {
		claims.Expiry = std.Expiry.Time()
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	for k, v := range all {
		switch k {
		case "iss", "sub", "aud", "exp", "iat", "nbf", "nonce":
		default:
			claims.Custom[k] = v
		}
	}
	return claims, nil
}

func audienceContains(aud jwt.Audience, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
