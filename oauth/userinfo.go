package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// UserInfoClient fetches the provider's profile endpoint with a bearer
// access token.  Providers that authenticate graph-style requests can have
// an appsecret_proof appended (see Config.SendAppSecretProof).
type UserInfoClient struct {
	client *http.Client
}

// NewUserInfoClient creates a userinfo client.
// Supported options: WithHTTPClient
func NewUserInfoClient(opt ...Option) *UserInfoClient {
	opts := getClientOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &UserInfoClient{client: client}
}

// Fetch retrieves the profile for accessToken from c.UserInfoURL.  The raw
// JSON object is returned without interpretation so provider-specific fields
// survive.  Failures are reported with ErrUserInfoFailed.
func (uc *UserInfoClient) Fetch(ctx context.Context, c *Config, accessToken string) (map[string]interface{}, error) {
	const op = "oauth.UserInfoClient.Fetch"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.UserInfoURL == "" {
		return nil, fmt.Errorf("%s: userinfo URL is empty: %w", op, ErrInvalidParameter)
	}
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}

	endpoint := c.UserInfoURL
	q := url.Values{}
	if c.UserInfoFields != "" {
		q.Set("fields", c.UserInfoFields)
	}
	if c.SendAppSecretProof && c.ClientSecret != "" {
		q.Set("appsecret_proof", AppSecretProof(accessToken, string(c.ClientSecret)))
	}
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := uc.client.Do(req)
	if err != nil {
		return nil, newFlowError(ErrUserInfoFailed, WithOp(op),
			WithMsg("userinfo request failed"), WithWrap(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, newFlowError(ErrUserInfoFailed, WithOp(op),
			WithMsg("unable to read userinfo response"), WithStatus(resp.StatusCode), WithWrap(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newFlowError(ErrUserInfoFailed, WithOp(op),
			WithMsg(fmt.Sprintf("userinfo endpoint returned status %d", resp.StatusCode)),
			WithStatus(resp.StatusCode), WithBody(string(body)))
	}

	profile := map[string]interface{}{}
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, newFlowError(ErrUserInfoFailed, WithOp(op),
			WithMsg("userinfo endpoint returned a malformed JSON body"),
			WithStatus(resp.StatusCode), WithBody(string(body)), WithWrap(err))
	}
	return profile, nil
}

// AppSecretProof computes the hex encoded HMAC-SHA256 of accessToken keyed
// by the client secret, as required by graph-style userinfo endpoints.
func AppSecretProof(accessToken, clientSecret string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(accessToken))
	return hex.EncodeToString(mac.Sum(nil))
}
