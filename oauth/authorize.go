package oauth

import (
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// AuthURL composes the provider authorize URL for the given config and flow
// state.  It is a pure function: no I/O, deterministic for identical inputs
// (modulo query parameter ordering), which is what makes it unit-testable
// without any network.
//
// The URL always carries response_type=code, client_id, redirect_uri, the
// space-joined scopes and the state; the nonce and the S256 code challenge
// pair are added only when present in the flow state.  The client secret is
// never embedded.
func AuthURL(c *Config, s *FlowState) (string, error) {
	const op = "oauth.AuthURL"
	if c == nil {
		return "", fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if s == nil {
		return "", fmt.Errorf("%s: flow state is nil: %w", op, ErrNilParameter)
	}
	if s.State == "" {
		return "", fmt.Errorf("%s: flow state has no state value: %w", op, ErrInvalidParameter)
	}
	if c.AuthorizeURL == "" {
		return "", fmt.Errorf("%s: authorize URL is empty: %w", op, ErrInvalidParameter)
	}

	oauth2Config := oauth2.Config{
		ClientID:    c.ClientId,
		RedirectURL: c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL: c.AuthorizeURL,
		},
		Scopes: c.Scopes,
	}

	var authCodeOpts []oauth2.AuthCodeOption
	if s.Nonce != "" {
		authCodeOpts = append(authCodeOpts, oidc.Nonce(s.Nonce))
	}
	if s.CodeVerifier != "" {
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", s.CodeChallenge()),
			oauth2.SetAuthURLParam("code_challenge_method", ChallengeMethodS256),
		)
	}
	return oauth2Config.AuthCodeURL(s.State, authCodeOpts...), nil
}
