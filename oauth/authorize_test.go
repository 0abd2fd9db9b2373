package oauth

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthURL(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		ClientId:     "test-rp",
		ClientSecret: "fido",
		Scopes:       []string{"openid", "profile"},
		AuthorizeURL: "https://provider.example.com/auth",
		TokenURL:     "https://provider.example.com/token",
		RedirectURL:  "https://rp.example.com/callback",
	}

	t.Run("all-parameters", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewFlowState(true, true)
		require.NoError(err)

		got, err := AuthURL(cfg, s)
		require.NoError(err)

		u, err := url.Parse(got)
		require.NoError(err)
		q := u.Query()
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("test-rp", q.Get("client_id"))
		assert.Equal("https://rp.example.com/callback", q.Get("redirect_uri"))
		assert.Equal("openid profile", q.Get("scope"))
		assert.Equal(s.State, q.Get("state"))
		assert.Equal(s.Nonce, q.Get("nonce"))
		assert.Equal(s.CodeChallenge(), q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.NotContains(got, "fido")
	})

	t.Run("no-nonce-no-pkce", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewFlowState(false, false)
		require.NoError(err)

		got, err := AuthURL(cfg, s)
		require.NoError(err)

		u, err := url.Parse(got)
		require.NoError(err)
		q := u.Query()
		assert.Empty(q.Get("nonce"))
		assert.Empty(q.Get("code_challenge"))
		assert.Empty(q.Get("code_challenge_method"))
	})

	t.Run("idempotent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewFlowState(true, true)
		require.NoError(err)

		first, err := AuthURL(cfg, s)
		require.NoError(err)
		second, err := AuthURL(cfg, s)
		require.NoError(err)
		assert.Equal(first, second)
	})

	tests := []struct {
		name      string
		cfg       *Config
		state     *FlowState
		wantIsErr error
	}{
		{name: "nil-config", state: &FlowState{State: "s"}, wantIsErr: ErrNilParameter},
		{name: "nil-state", cfg: cfg, wantIsErr: ErrNilParameter},
		{name: "empty-state", cfg: cfg, state: &FlowState{}, wantIsErr: ErrInvalidParameter},
		{
			name:      "no-authorize-url",
			cfg:       &Config{ClientId: "test-rp"},
			state:     &FlowState{State: "s"},
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			_, err := AuthURL(tt.cfg, tt.state)
			require.Error(err)
			assert.Truef(errors.Is(err, tt.wantIsErr), "wanted %q but got %q", tt.wantIsErr, err)
		})
	}
}
