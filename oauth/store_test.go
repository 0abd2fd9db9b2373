package oauth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("absent-key-is-nil-nil", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := NewMemStore()
		got, err := s.Get(ctx, "sess-1", SessionKeyTokens)
		require.NoError(err)
		assert.Nil(got)
	})

	t.Run("set-get-delete", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := NewMemStore()
		require.NoError(s.Set(ctx, "sess-1", SessionKeyFlowState, []byte(`{"state":"abc"}`)))

		got, err := s.Get(ctx, "sess-1", SessionKeyFlowState)
		require.NoError(err)
		assert.Equal([]byte(`{"state":"abc"}`), got)

		require.NoError(s.Delete(ctx, "sess-1", SessionKeyFlowState))
		got, err = s.Get(ctx, "sess-1", SessionKeyFlowState)
		require.NoError(err)
		assert.Nil(got)
	})

	t.Run("delete-absent-is-fine", func(t *testing.T) {
		require := require.New(t)
		s := NewMemStore()
		require.NoError(s.Delete(ctx, "sess-1", SessionKeyError))
	})

	t.Run("sessions-are-isolated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := NewMemStore()
		require.NoError(s.Set(ctx, "sess-1", SessionKeyTokens, []byte("one")))
		require.NoError(s.Set(ctx, "sess-2", SessionKeyTokens, []byte("two")))

		got, err := s.Get(ctx, "sess-1", SessionKeyTokens)
		require.NoError(err)
		assert.Equal([]byte("one"), got)
	})

	t.Run("returned-value-is-a-copy", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := NewMemStore()
		require.NoError(s.Set(ctx, "sess-1", SessionKeyTokens, []byte("value")))

		got, err := s.Get(ctx, "sess-1", SessionKeyTokens)
		require.NoError(err)
		got[0] = 'X'

		again, err := s.Get(ctx, "sess-1", SessionKeyTokens)
		require.NoError(err)
		assert.Equal([]byte("value"), again)
	})

	t.Run("concurrent-use", func(t *testing.T) {
		require := require.New(t)
		s := NewMemStore()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					_ = s.Set(ctx, "sess-1", SessionKeyTokens, []byte("value"))
					_, _ = s.Get(ctx, "sess-1", SessionKeyTokens)
					_ = s.Delete(ctx, "sess-1", SessionKeyTokens)
				}
			}()
		}
		wg.Wait()
		require.NoError(s.Set(ctx, "sess-1", SessionKeyTokens, []byte("value")))
	})
}
