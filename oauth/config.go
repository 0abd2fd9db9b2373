package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	sdkhttp "github.com/tokenlab/flowprobe/sdk/http"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Profile is the provider family variant selected at configuration
// resolution time.  It decides which optional flow steps a provider
// participates in, instead of scattering conditionals through the
// orchestrator.
type Profile string

const (
	// ProfileOIDC providers publish discovery and/or JWKS metadata: the flow
	// generates a nonce and verifies any id_token it receives.
	ProfileOIDC Profile = "oidc"

	// ProfileOpaque providers return bare access tokens: no nonce is
	// generated and identity comes from the userinfo endpoint, when
	// configured.
	ProfileOpaque Profile = "opaque"
)

// LongLivedConfig configures the provider-specific exchange of a short-lived
// access token for a long-lived one (e.g. the Threads/Meta graph API).  The
// exchange is a GET to a provider-defined endpoint, invoked only after a
// primary code exchange succeeded; its failure never fails the flow.
type LongLivedConfig struct {
	// ExchangeURL is the endpoint for the short-for-long exchange.
	ExchangeURL string

	// RefreshURL optionally extends an existing long-lived token's validity.
	RefreshURL string

	// ExchangeGrantType defaults to DefaultLongLivedExchangeGrant.
	ExchangeGrantType string

	// RefreshGrantType defaults to DefaultLongLivedRefreshGrant.
	RefreshGrantType string
}

// Grant types used by the Threads/Meta long-lived token endpoints.
const (
	DefaultLongLivedExchangeGrant = "th_exchange_token"
	DefaultLongLivedRefreshGrant  = "th_refresh_token"
)

// Config represents the provider configuration for a 3-legged authorization
// code flow.  A partial Config plus a discovery URL is resolved into a
// complete one by a Resolver; manual fields always win over discovered ones.
// Once resolved it is read-only and shared by every component of the flow.
type Config struct {
	// ClientId is the relying party id
	ClientId string

	// ClientSecret is the relying party secret.  Optional for public
	// clients using PKCE.
	ClientSecret ClientSecret

	// Scopes is the ordered list of scopes to request from the provider.
	Scopes []string

	// Issuer is the provider's issuer identifier, used to validate the
	// id_token iss claim when known.
	Issuer string

	// AuthorizeURL is the provider's authorization endpoint.
	AuthorizeURL string

	// TokenURL is the provider's token endpoint.
	TokenURL string

	// JWKSURL is the provider's key set endpoint.  Optional; without it an
	// id_token can never be verified, and therefore never trusted.
	JWKSURL string

	// UserInfoURL is the provider's profile endpoint.  Optional.
	UserInfoURL string

	// UserInfoFields is an optional provider-specific fields selector
	// appended to userinfo requests (e.g. "id,username").
	UserInfoFields string

	// SendAppSecretProof appends an appsecret_proof parameter (hex-encoded
	// HMAC-SHA256 of the access token keyed by the client secret) to
	// userinfo requests, for provider families that require it.
	SendAppSecretProof bool

	// RedirectURL is the relying party's callback URL registered with the
	// provider.
	RedirectURL string

	// UsePKCE sends a S256 code challenge with the authorization request
	// and the matching verifier with the exchange.
	UsePKCE bool

	// LongLived enables the provider-specific long-lived token exchange
	// after a successful primary exchange.
	LongLived *LongLivedConfig

	// Profile is the provider family variant.  Set during resolution; a
	// manually set value is kept.
	Profile Profile

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string
}

// Validate verifies a resolved configuration has everything the flow needs.
// The minimum endpoint set is the authorize and token URLs; everything else
// is optional.
func (c *Config) Validate() error {
	const op = "oauth.Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientId == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if c.AuthorizeURL == "" || c.TokenURL == "" {
		return fmt.Errorf("%s: authorize and token URLs are required: %w", op, ErrDiscoveryUnavailable)
	}
	for _, pair := range []struct{ name, value string }{
		{"authorize URL", c.AuthorizeURL},
		{"token URL", c.TokenURL},
		{"redirect URL", c.RedirectURL},
	} {
		u, err := url.Parse(pair.value)
		if err != nil {
			return fmt.Errorf("%s: %s %q is invalid: %w", op, pair.name, pair.value, err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("%s: %s %q scheme is not http or https: %w", op, pair.name, pair.value, ErrInvalidParameter)
		}
	}
	if c.SendAppSecretProof && c.ClientSecret == "" {
		return fmt.Errorf("%s: appsecret proof requires a client secret: %w", op, ErrInvalidParameter)
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "oauth.Config.HTTPClient"
	client, err := sdkhttp.NewClient(c.ProviderCA, 0)
	if err != nil {
		if errors.Is(err, sdkhttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}
