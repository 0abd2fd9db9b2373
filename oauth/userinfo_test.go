package oauth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserInfoClient_Fetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("bearer-token-and-fields", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetUserinfoReply(map[string]interface{}{
			"id":       "100001",
			"username": "threadicorn",
		})

		cfg := &Config{
			ClientId:       "test-rp",
			UserInfoURL:    tp.Addr() + "/userinfo",
			UserInfoFields: "id,username",
		}
		uc := NewUserInfoClient(WithHTTPClient(tp.HTTPClient(t)))
		got, err := uc.Fetch(ctx, cfg, "at-12345")
		require.NoError(err)
		assert.Equal("100001", got["id"])
		assert.Equal("threadicorn", got["username"])

		q, auth := tp.LastUserinfoQuery()
		assert.Equal("Bearer at-12345", auth)
		assert.Equal("id,username", q.Get("fields"))
		assert.Empty(q.Get("appsecret_proof"))
	})

	t.Run("appsecret-proof", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)

		cfg := &Config{
			ClientId:           "test-rp",
			ClientSecret:       "fido",
			UserInfoURL:        tp.Addr() + "/userinfo",
			SendAppSecretProof: true,
		}
		uc := NewUserInfoClient(WithHTTPClient(tp.HTTPClient(t)))
		_, err := uc.Fetch(ctx, cfg, "at-12345")
		require.NoError(err)

		q, _ := tp.LastUserinfoQuery()
		assert.Equal(AppSecretProof("at-12345", "fido"), q.Get("appsecret_proof"))
	})

	t.Run("endpoint-disabled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.DisableUserInfo()

		cfg := &Config{
			ClientId:    "test-rp",
			UserInfoURL: tp.Addr() + "/userinfo",
		}
		uc := NewUserInfoClient(WithHTTPClient(tp.HTTPClient(t)))
		_, err := uc.Fetch(ctx, cfg, "at-12345")
		require.Error(err)
		assert.True(errors.Is(err, ErrUserInfoFailed))

		var ferr *FlowError
		require.True(errors.As(err, &ferr))
		assert.Equal(404, ferr.Status)
		assert.False(ferr.Fatal())
	})

	t.Run("missing-access-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		uc := NewUserInfoClient()
		_, err := uc.Fetch(ctx, &Config{UserInfoURL: "https://p.example.com/userinfo"}, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestAppSecretProof(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	got := AppSecretProof("at-12345", "fido")
	assert.Len(got, 64)
	assert.Regexp("^[0-9a-f]+$", got)
	assert.Equal(got, AppSecretProof("at-12345", "fido"), "proof must be deterministic")
	assert.NotEqual(got, AppSecretProof("at-12345", "other-secret"))
	assert.NotEqual(got, AppSecretProof("at-67890", "fido"))
}
