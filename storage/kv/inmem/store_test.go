package inmemkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kymaka/elimu/storage/kv"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Get(ctx, "missing")
	assert.Equal(t, kv.ErrKeyNotFound, err)

	require.NoError(t, s.Set(ctx, "k", "v1"))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)

	// last write wins
	require.NoError(t, s.Set(ctx, "k", "v2"))
	val, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.Equal(t, kv.ErrKeyNotFound, err)

	// deleting an absent key is not an error
	require.NoError(t, s.Delete(ctx, "k"))
}
