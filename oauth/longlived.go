package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ExchangeLongLived trades a short-lived access token for a long-lived one
// via the provider-specific GET exchange endpoint.  Failures are reported
// with ErrLongLivedExchangeFailed, which the flow treats as non-fatal: the
// short-lived token from the code exchange remains usable.
func (tc *TokenClient) ExchangeLongLived(ctx context.Context, c *Config, shortLived string) (*Token, error) {
	const op = "oauth.TokenClient.ExchangeLongLived"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.LongLived == nil || c.LongLived.ExchangeURL == "" {
		return nil, fmt.Errorf("%s: long-lived exchange is not configured: %w", op, ErrInvalidParameter)
	}
	if shortLived == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}

	grant := c.LongLived.ExchangeGrantType
	if grant == "" {
		grant = DefaultLongLivedExchangeGrant
	}
	q := url.Values{}
	q.Set("grant_type", grant)
	q.Set("client_secret", string(c.ClientSecret))
	q.Set("access_token", shortLived)

	return tc.getToken(ctx, op, c.LongLived.ExchangeURL, q)
}

// RefreshLongLived extends the lifetime of an existing long-lived token.
// Some providers only allow this once the token is past a minimum age; the
// provider's error body is surfaced unmodified when that is the case.
func (tc *TokenClient) RefreshLongLived(ctx context.Context, c *Config, longLived string) (*Token, error) {
	const op = "oauth.TokenClient.RefreshLongLived"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.LongLived == nil || c.LongLived.RefreshURL == "" {
		return nil, fmt.Errorf("%s: long-lived refresh is not configured: %w", op, ErrInvalidParameter)
	}
	if longLived == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}

	grant := c.LongLived.RefreshGrantType
	if grant == "" {
		grant = DefaultLongLivedRefreshGrant
	}
	q := url.Values{}
	q.Set("grant_type", grant)
	q.Set("access_token", longLived)

	return tc.getToken(ctx, op, c.LongLived.RefreshURL, q)
}

func (tc *TokenClient) getToken(ctx context.Context, op, endpoint string, q url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	raw, ferr := tc.do(req, op, ErrLongLivedExchangeFailed)
	if ferr != nil {
		return nil, ferr
	}
	t, err := newTokenFromRaw(raw)
	if err != nil {
		return nil, newFlowError(ErrLongLivedExchangeFailed, WithOp(op),
			WithMsg("exchange endpoint returned an unusable response"), WithWrap(err))
	}
	return t, nil
}
