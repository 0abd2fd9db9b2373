package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseSize bounds a provider response body.
const maxResponseSize = 1024 * 1024 // 1MB

// TokenClient performs the authorization-code-for-tokens exchange, plus the
// optional provider-specific long-lived token exchange.  It never retries: a
// retried POST could double-consume a single-use authorization code.
type TokenClient struct {
	client *http.Client
}

// NewTokenClient creates a token exchange client.
// Supported options: WithHTTPClient
func NewTokenClient(opt ...Option) *TokenClient {
	opts := getClientOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenClient{client: client}
}

// ExchangeCode POSTs the authorization code to the provider's token endpoint
// and returns the resulting Token.  The client secret is included when
// configured, and the PKCE verifier when the flow used one.  Any non-2xx
// status or malformed body fails with ErrTokenExchangeFailed, carrying the
// upstream status and body for display.
func (tc *TokenClient) ExchangeCode(ctx context.Context, c *Config, code string, s *FlowState) (*Token, error) {
	const op = "oauth.TokenClient.ExchangeCode"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.RedirectURL)
	form.Set("client_id", c.ClientId)
	if c.ClientSecret != "" {
		form.Set("client_secret", string(c.ClientSecret))
	}
	if s != nil && s.CodeVerifier != "" {
		form.Set("code_verifier", s.CodeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	raw, ferr := tc.do(req, op, ErrTokenExchangeFailed)
	if ferr != nil {
		return nil, ferr
	}
	t, err := newTokenFromRaw(raw)
	if err != nil {
		return nil, newFlowError(ErrTokenExchangeFailed, WithOp(op),
			WithMsg("token endpoint returned an unusable response"), WithWrap(err))
	}
	return t, nil
}

// do sends req and decodes a JSON object response, converting transport
// failures (timeouts included), non-2xx statuses and undecodable bodies into
// a FlowError of the given kind.
func (tc *TokenClient) do(req *http.Request, op string, kind error) (map[string]interface{}, *FlowError) {
	resp, err := tc.client.Do(req)
	if err != nil {
		return nil, newFlowError(kind, WithOp(op),
			WithMsg(fmt.Sprintf("request to %s failed", req.URL.Host)), WithWrap(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, newFlowError(kind, WithOp(op),
			WithMsg("unable to read provider response"), WithStatus(resp.StatusCode), WithWrap(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newFlowError(kind, WithOp(op),
			WithMsg(fmt.Sprintf("provider returned status %d", resp.StatusCode)),
			WithStatus(resp.StatusCode), WithBody(string(body)))
	}

	raw := map[string]interface{}{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, newFlowError(kind, WithOp(op),
			WithMsg("provider returned a malformed JSON body"),
			WithStatus(resp.StatusCode), WithBody(string(body)), WithWrap(err))
	}
	return raw, nil
}
