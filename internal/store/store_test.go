package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "metadata.db")
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAudioIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	name := "Track A"
	first := AudioMetadata{UID: "uid1", Name: &name}
	require.NoError(t, s.InsertAudio(ctx, first))

	other := "Different Name"
	require.NoError(t, s.InsertAudio(ctx, AudioMetadata{UID: "uid1", Name: &other}))

	got, err := s.GetAudio(ctx, "uid1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Track A", *got.Name) // first write wins, second is a no-op
}

func TestGetAudioMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetAudio(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestLinkIdempotentAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertPlaylist(ctx, PlaylistMetadata{UID: "pl1"}))
	require.NoError(t, s.InsertAudio(ctx, AudioMetadata{UID: "a"}))
	require.NoError(t, s.InsertAudio(ctx, AudioMetadata{UID: "b"}))

	require.NoError(t, s.Link(ctx, "pl1", "a"))
	require.NoError(t, s.Link(ctx, "pl1", "b"))
	require.NoError(t, s.Link(ctx, "pl1", "a")) // idempotent re-link

	items, err := s.ListItemsOf(ctx, "pl1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, items)
}

func TestListAudioPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, uid := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertAudio(ctx, AudioMetadata{UID: uid}))
	}

	page, err := s.ListAudio(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "b", page[0].UID)
	require.Equal(t, "c", page[1].UID)
}
