package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		oidc        bool
		usePKCE     bool
		wantNonce   bool
		wantVerifer bool
	}{
		{name: "oidc-with-pkce", oidc: true, usePKCE: true, wantNonce: true, wantVerifer: true},
		{name: "oidc-no-pkce", oidc: true, wantNonce: true},
		{name: "opaque-with-pkce", usePKCE: true, wantVerifer: true},
		{name: "opaque-no-pkce"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewFlowState(tt.oidc, tt.usePKCE)
			require.NoError(err)
			assert.NotEmpty(got.State)
			assert.False(got.CreatedAt.IsZero())
			if tt.wantNonce {
				assert.NotEmpty(got.Nonce)
				assert.NotEqual(got.State, got.Nonce)
			} else {
				assert.Empty(got.Nonce)
			}
			if tt.wantVerifer {
				assert.NotEmpty(got.CodeVerifier)
				assert.NotEqual(got.State, got.CodeVerifier)
				assert.GreaterOrEqual(len(got.CodeVerifier), 43)
				assert.LessOrEqual(len(got.CodeVerifier), 128)
			} else {
				assert.Empty(got.CodeVerifier)
			}
		})
	}

	t.Run("distinct-across-logins", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		first, err := NewFlowState(true, true)
		require.NoError(err)
		second, err := NewFlowState(true, true)
		require.NoError(err)
		assert.NotEqual(first.State, second.State)
		assert.NotEqual(first.Nonce, second.Nonce)
		assert.NotEqual(first.CodeVerifier, second.CodeVerifier)
	})

	t.Run("generator-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewFlowState(true, true, WithRandReader(iotest{}))
		require.Error(err)
		assert.True(errors.Is(err, ErrGeneratorFailed))
	})

	t.Run("with-now", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		frozen := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
		got, err := NewFlowState(false, false, WithNow(func() time.Time { return frozen }))
		require.NoError(err)
		assert.Equal(frozen, got.CreatedAt)
	})
}

func TestFlowState_CodeChallenge(t *testing.T) {
	t.Parallel()
	t.Run("s256-transform", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewFlowState(false, true, WithRandReader(strings.NewReader(strings.Repeat("a", 64))))
		require.NoError(err)

		sum := sha256.Sum256([]byte(s.CodeVerifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		assert.Equal(want, s.CodeChallenge())
		assert.NotContains(s.CodeChallenge(), "=")
	})
	t.Run("no-verifier", func(t *testing.T) {
		assert := assert.New(t)
		s := &FlowState{State: "s"}
		assert.Empty(s.CodeChallenge())
	})
}

// iotest always fails, standing in for a broken entropy source.
type iotest struct{}

func (iotest) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
