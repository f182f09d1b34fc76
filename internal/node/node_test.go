package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonecast/internal/audio/output"
	"zonecast/internal/audio/player"
	"zonecast/internal/audio/processor"
	"zonecast/internal/downloader"
	"zonecast/internal/identifier"
	"zonecast/internal/store"
)

type noopStream struct{}

func (noopStream) Ready() bool                        { return true }
func (noopStream) Channels() int                      { return 2 }
func (noopStream) NumFrames() uint64                  { return 1000 }
func (noopStream) Playhead() uint64                   { return 0 }
func (noopStream) Read(chBufs [][]float32) (int, error) { return 0, nil }
func (noopStream) Seek(frame uint64) (bool, error)    { return false, nil }
func (noopStream) Close() error                       { return nil }

type fakeDownloadQueue struct {
	mu       sync.Mutex
	requests []downloader.DownloadInfo
}

func (f *fakeDownloadQueue) Enqueue(info downloader.DownloadInfo, sub downloader.Subscriber) {
	f.mu.Lock()
	f.requests = append(f.requests, info)
	f.mu.Unlock()
	sub(downloader.Event{Kind: downloader.EventQueued, Info: info})
}

func (f *fakeDownloadQueue) snapshot() []downloader.DownloadInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]downloader.DownloadInfo(nil), f.requests...)
}

type fakeLocalStore struct {
	byUID map[string]store.AudioMetadata
}

func (f *fakeLocalStore) GetAudio(ctx context.Context, uid string) (*store.AudioMetadata, error) {
	if m, ok := f.byUID[uid]; ok {
		return &m, nil
	}
	return nil, nil
}

type fakeHealthSink struct {
	mu      sync.Mutex
	updates []Health
}

func (f *fakeHealthSink) NodeHealthUpdate(sourceName string, health Health) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, health)
}

func (f *fakeHealthSink) snapshot() []Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Health(nil), f.updates...)
}

type fakeSessionSink struct {
	mu         sync.Mutex
	broadcasts []Broadcast
}

func (f *fakeSessionSink) Deliver(b Broadcast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, b)
}

func newTestNode(t *testing.T, dq DownloadQueue, ls LocalMetadataStore, coord HealthSink) (*Node, context.Context) {
	ctx := context.Background()
	n := New("living_room", "/tmp/audio", dq, ls, nil, coord)

	openStream := func(ctx context.Context, item player.QueueItem, startFrame uint64) (processor.DecodedStream, error) {
		return noopStream{}, nil
	}
	openDevice := func(ctx context.Context, pull func([]float32) processor.StreamState, onErr func(error)) (*output.Stream, error) {
		return nil, nil
	}
	p := player.New(output.DefaultConfig(), openStream, openDevice, n, n, n)
	n.BindPlayer(p)
	n.Start(ctx)
	return n, ctx
}

func TestAddQueueItemResolvesLocalMetadataWithoutDownload(t *testing.T) {
	title := "Song"
	ls := &fakeLocalStore{byUID: map[string]store.AudioMetadata{}}
	dq := &fakeDownloadQueue{}
	n, ctx := newTestNode(t, dq, ls, nil)

	uid := identifier.UID("https://www.youtube.com/watch?v=AAA", identifier.KindVideo)
	ls.byUID[uid] = store.AudioMetadata{UID: uid, Name: &title}

	err := n.AddQueueItem(ctx, "https://www.youtube.com/watch?v=AAA")
	require.NoError(t, err)
	assert.Empty(t, dq.snapshot(), "locally-resolved metadata must not trigger a download")
	assert.Equal(t, 1, len(n.player.Queue()))
}

func TestAddQueueItemEnqueuesDownloadWhenUncatalogued(t *testing.T) {
	ls := &fakeLocalStore{byUID: map[string]store.AudioMetadata{}}
	dq := &fakeDownloadQueue{}
	n, ctx := newTestNode(t, dq, ls, nil)

	err := n.AddQueueItem(ctx, "https://www.youtube.com/watch?v=BBB")
	require.NoError(t, err)
	reqs := dq.snapshot()
	require.Len(t, reqs, 1)
	assert.Equal(t, downloader.KindYoutubeVideo, reqs[0].Kind)
}

func TestDownloadEventSingleFinishedPushesQueueAndClearsActive(t *testing.T) {
	ls := &fakeLocalStore{byUID: map[string]store.AudioMetadata{}}
	dq := &fakeDownloadQueue{}
	n, ctx := newTestNode(t, dq, ls, nil)

	info := downloader.DownloadInfo{Kind: downloader.KindYoutubeVideo, URL: "https://x/BBB"}
	meta := store.AudioMetadata{UID: "youtube_audio_xyz"}

	n.mb.Send(ctx, downloadEventMsg{Event: downloader.Event{Kind: downloader.EventQueued, Info: info}})
	n.mb.Send(ctx, downloadEventMsg{Event: downloader.Event{
		Kind: downloader.EventSingleFinished, Info: info, UID: meta.UID, Metadata: &meta,
	}})

	time.Sleep(10 * time.Millisecond)
	require.Len(t, n.player.Queue(), 1)
	assert.Equal(t, meta.UID, n.player.Queue()[0].UID)
	assert.Empty(t, n.active)
}

func TestBatchPlaylistReenqueueDedupesByPlaylistURL(t *testing.T) {
	// Scenario 6: enqueue the same playlist URL twice before the first
	// batch starts — active must contain exactly one entry.
	ls := &fakeLocalStore{byUID: map[string]store.AudioMetadata{}}
	dq := &fakeDownloadQueue{}
	n, ctx := newTestNode(t, dq, ls, nil)

	info := downloader.DownloadInfo{Kind: downloader.KindYoutubePlaylist, PlaylistURL: "https://x/list?list=P", VideoURLs: []string{"a", "b"}}
	other := downloader.DownloadInfo{Kind: downloader.KindYoutubePlaylist, PlaylistURL: "https://x/list?list=P", VideoURLs: []string{"a", "b", "c"}}

	n.mb.Send(ctx, downloadEventMsg{Event: downloader.Event{Kind: downloader.EventQueued, Info: info}})
	n.mb.Send(ctx, downloadEventMsg{Event: downloader.Event{Kind: downloader.EventQueued, Info: other}})

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, len(n.active))
}

func TestDeviceLossTransitionsHealthAndSchedulesRecovery(t *testing.T) {
	coord := &fakeHealthSink{}
	ls := &fakeLocalStore{byUID: map[string]store.AudioMetadata{}}
	dq := &fakeDownloadQueue{}
	n, ctx := newTestNode(t, dq, ls, coord)

	n.mb.Send(ctx, streamErrorMsg{Err: errors.New("open output pipe: no such device")})
	time.Sleep(20 * time.Millisecond)

	// The queue is empty, so the scheduled recovery attempt succeeds at once
	// and the coordinator sees Poor followed by Good.
	updates := coord.snapshot()
	require.Len(t, updates, 2)
	assert.Equal(t, HealthPoor, updates[0].Kind)
	assert.Equal(t, PoorDeviceNotAvailable, updates[0].Poor)
	assert.Equal(t, HealthGood, updates[1].Kind)
	assert.Equal(t, HealthGood, n.health.Kind)
}

func TestAudioStateFinishedAutoAdvances(t *testing.T) {
	ls := &fakeLocalStore{byUID: map[string]store.AudioMetadata{}}
	dq := &fakeDownloadQueue{}
	n, ctx := newTestNode(t, dq, ls, nil)

	n.player.Push(ctx, player.QueueItem{UID: "a"})
	n.player.Push(ctx, player.QueueItem{UID: "b"})
	require.Equal(t, 0, n.player.Head())

	n.mb.Send(ctx, audioStateMsg{State: processor.StateFinished, Progress: 1})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, n.player.Head())
}

func TestConnectSnapshotOnlyIncludesWantedTags(t *testing.T) {
	ls := &fakeLocalStore{byUID: map[string]store.AudioMetadata{}}
	dq := &fakeDownloadQueue{}
	n, ctx := newTestNode(t, dq, ls, nil)
	n.player.Push(ctx, player.QueueItem{UID: "a"})

	sink := &fakeSessionSink{}
	res, err := n.Connect(ctx, sink, []InfoTag{TagQueue})
	require.NoError(t, err)

	require.NotNil(t, res.Snapshot.Queue)
	assert.Len(t, res.Snapshot.Queue.Items, 1)
	assert.Nil(t, res.Snapshot.Health)
	assert.Nil(t, res.Snapshot.Downloads)
	assert.Nil(t, res.Snapshot.AudioState)
}

func TestConnectedSessionReceivesDownloadBroadcastOnAdd(t *testing.T) {
	ls := &fakeLocalStore{byUID: map[string]store.AudioMetadata{}}
	dq := &fakeDownloadQueue{}
	n, ctx := newTestNode(t, dq, ls, nil)

	sink := &fakeSessionSink{}
	_, err := n.Connect(ctx, sink, []InfoTag{TagQueue})
	require.NoError(t, err)

	require.NoError(t, n.AddQueueItem(ctx, "https://www.youtube.com/watch?v=CCC"))
	time.Sleep(10 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.broadcasts)
	assert.Equal(t, TagDownload, sink.broadcasts[len(sink.broadcasts)-1].Tag)
}
