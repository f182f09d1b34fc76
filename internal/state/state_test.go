package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonecast/internal/downloader"
	"zonecast/internal/node"
	"zonecast/internal/store"
)

type fakeResolver struct {
	byUID map[string]store.AudioMetadata
}

func (f *fakeResolver) GetAudio(ctx context.Context, uid string) (*store.AudioMetadata, error) {
	if m, ok := f.byUID[uid]; ok {
		return &m, nil
	}
	return nil, nil
}

func TestLoadOrDefaultWithMissingFileStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recovery.bin")
	resolver := &fakeResolver{byUID: map[string]store.AudioMetadata{}}

	p := LoadOrDefault(ctx, path, "/tmp/audio", resolver)
	_, ok := p.RestoredState("living_room")
	assert.False(t, ok)
	assert.Empty(t, p.RestoredDownloadQueue())
}

func TestPersisterWritesAndReloadsRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recovery.bin")
	resolver := &fakeResolver{byUID: map[string]store.AudioMetadata{
		"uid-a": {UID: "uid-a"},
	}}

	p := LoadOrDefault(ctx, path, "/tmp/audio", resolver)
	p.Start(ctx)

	p.AudioInfoStateUpdate("living_room", node.AudioStateSnapshot{
		CurrentQueueIndex: 0,
		AudioVolume:       0.8,
		QueueUIDs:         []string{"uid-a", "uid-missing"},
	})
	p.DownloadQueueStateUpdate([]downloader.DownloadInfo{{Kind: downloader.KindYoutubeVideo, URL: "https://x/y"}})

	// force a tick rather than waiting the full 3s interval
	p.mb.TrySend(storeTickMsg{})
	time.Sleep(20 * time.Millisecond)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	reloaded := LoadOrDefault(ctx, path, "/tmp/audio", resolver)
	rs, ok := reloaded.RestoredState("living_room")
	require.True(t, ok)
	assert.Equal(t, 0.8, rs.AudioVolume)
	require.Len(t, rs.Queue, 1, "uid-missing must be dropped since the resolver no longer has it")
	assert.Equal(t, "uid-a", rs.Queue[0].UID)

	assert.Len(t, reloaded.RestoredDownloadQueue(), 1)
}

func TestPersisterSkipsWriteWhenNothingChanged(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recovery.bin")
	resolver := &fakeResolver{byUID: map[string]store.AudioMetadata{}}

	p := LoadOrDefault(ctx, path, "/tmp/audio", resolver)
	p.Start(ctx)

	p.mb.TrySend(storeTickMsg{})
	time.Sleep(10 * time.Millisecond)

	_, err := os.ReadFile(path)
	assert.Error(t, err, "no update was ever sent, so the file must not have been created")
}
