package silo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSiloImpl(t *testing.T, s Silo) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrMissingKey)
	require.Equal(t, StatusMissing, s.Status(ctx, "missing"))

	delta, err := s.Set(ctx, "k1", []byte("hello"), true, false)
	require.NoError(t, err)
	require.Equal(t, int64(5), delta)
	require.Equal(t, StatusExists, s.Status(ctx, "k1"))

	_, err = s.Set(ctx, "k1", []byte("again"), true, false)
	require.ErrorIs(t, err, ErrCollision)

	_, err = s.Set(ctx, "unknown", []byte("x"), false, true)
	require.ErrorIs(t, err, ErrMissingKey)

	delta, err = s.Set(ctx, "k1", []byte("hello world"), false, true)
	require.NoError(t, err)
	require.Equal(t, int64(6), delta)

	data, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), data)

	keys, err := s.List(ctx)
	require.NoError(t, err)
	require.Contains(t, keys, "k1")

	delta, err = s.Erase(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, int64(-11), delta)

	_, err = s.Erase(ctx, "k1")
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestMemSilo(t *testing.T) {
	testSiloImpl(t, NewMemSilo())
}

func TestFileSilo(t *testing.T) {
	s, err := NewFileSilo(filepath.Join(t.TempDir(), "blocks"))
	require.NoError(t, err)
	testSiloImpl(t, s)
}
