package oauth

import (
	"fmt"
	"strconv"
)

// Token is the set of credentials returned by a successful exchange.  Raw
// preserves the full provider response so provider-specific passthrough
// fields survive unchanged.  A Token is immutable once constructed.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the raw compact serialization; it is never trusted before
	// verification.
	IDToken string `json:"id_token,omitempty"`

	Raw map[string]interface{} `json:"raw,omitempty"`
}

// RedactedToken is the redacted string for a Token's credential fields.
const RedactedToken = "[REDACTED: token]"

// String will redact the token's credentials.
func (t *Token) String() string {
	return fmt.Sprintf("Token{TokenType: %q, ExpiresIn: %d, AccessToken: %s, RefreshToken: %s, IDToken: %s}",
		t.TokenType, t.ExpiresIn, RedactedToken, RedactedToken, RedactedToken)
}

// newTokenFromRaw builds a Token from a decoded token-endpoint response.
func newTokenFromRaw(raw map[string]interface{}) (*Token, error) {
	const op = "oauth.newTokenFromRaw"
	access, _ := raw["access_token"].(string)
	if access == "" {
		return nil, fmt.Errorf("%s: response has no access_token: %w", op, ErrInvalidParameter)
	}
	t := &Token{
		AccessToken: access,
		Raw:         raw,
	}
	t.TokenType, _ = raw["token_type"].(string)
	t.RefreshToken, _ = raw["refresh_token"].(string)
	t.IDToken, _ = raw["id_token"].(string)
	t.ExpiresIn = rawExpiresIn(raw["expires_in"])
	return t, nil
}

// rawExpiresIn tolerates the numeric and string encodings seen from real
// providers.
func rawExpiresIn(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
