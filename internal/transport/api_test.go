package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonecast/internal/audio/output"
	"zonecast/internal/audio/player"
	"zonecast/internal/audio/processor"
	"zonecast/internal/coordinator"
	"zonecast/internal/downloader"
	"zonecast/internal/node"
	"zonecast/internal/store"
)

type noopStream struct{}

func (noopStream) Ready() bool                          { return true }
func (noopStream) Channels() int                        { return 2 }
func (noopStream) NumFrames() uint64                     { return 1000 }
func (noopStream) Playhead() uint64                      { return 0 }
func (noopStream) Read(chBufs [][]float32) (int, error)  { return 0, nil }
func (noopStream) Seek(frame uint64) (bool, error)       { return false, nil }
func (noopStream) Close() error                          { return nil }

type noopDownloadQueue struct{}

func (noopDownloadQueue) Enqueue(info downloader.DownloadInfo, sub downloader.Subscriber) {}

type fakeLibrary struct{}

func (fakeLibrary) ListAudio(ctx context.Context, limit, offset int) ([]store.AudioMetadata, error) {
	return nil, nil
}

func (fakeLibrary) ListPlaylists(ctx context.Context, limit, offset int) ([]store.PlaylistMetadata, error) {
	return nil, nil
}

func (fakeLibrary) ListItemsOf(ctx context.Context, playlistUID string, limit, offset int) ([]string, error) {
	return nil, nil
}

func buildTestNode(sourceName string) *node.Node {
	n := node.New(sourceName, "/tmp/audio", noopDownloadQueue{}, nil, nil, nil)
	openStream := func(ctx context.Context, item player.QueueItem, startFrame uint64) (processor.DecodedStream, error) {
		return noopStream{}, nil
	}
	openDevice := func(ctx context.Context, pull func([]float32) processor.StreamState, onErr func(error)) (*output.Stream, error) {
		return nil, nil
	}
	p := player.New(output.DefaultConfig(), openStream, openDevice, n, n, n)
	n.BindPlayer(p)
	n.Start(context.Background())
	return n
}

func setupTestAPI(t *testing.T, sources ...string) *httptest.Server {
	t.Helper()
	cfgSources := make([]coordinator.SourceConfig, len(sources))
	for i, s := range sources {
		cfgSources[i] = coordinator.SourceConfig{Name: s, HumanReadableName: s}
	}

	var mu sync.Mutex
	coord := coordinator.New(cfgSources, func(ctx context.Context, src coordinator.SourceConfig, restored coordinator.RestoredNodeState, coord node.HealthSink) (*node.Node, error) {
		mu.Lock()
		defer mu.Unlock()
		return buildTestNode(src.Name), nil
	}, nil)
	require.NoError(t, coord.Start(context.Background()))

	api := NewAPI(coord, fakeLibrary{})
	ws := NewWSHandler(coord)
	router := SetupRouter(api, ws)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpointReportsOK(t *testing.T) {
	srv := setupTestAPI(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAddQueueItemOnUnknownNodeReturns404(t *testing.T) {
	srv := setupTestAPI(t, "living_room")

	resp, err := http.Post(srv.URL+"/nodes/garage/queue", "application/json",
		strings.NewReader(`{"url":"https://www.youtube.com/watch?v=AAA"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddQueueItemRequiresURL(t *testing.T) {
	srv := setupTestAPI(t, "living_room")

	resp, err := http.Post(srv.URL+"/nodes/living_room/queue", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPauseUnknownNodeReturns404(t *testing.T) {
	srv := setupTestAPI(t, "living_room")

	resp, err := http.Post(srv.URL+"/nodes/garage/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPauseOnKnownNodeReturnsOK(t *testing.T) {
	srv := setupTestAPI(t, "living_room")

	resp, err := http.Post(srv.URL+"/nodes/living_room/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListAudioReturnsOK(t *testing.T) {
	srv := setupTestAPI(t)

	resp, err := http.Get(srv.URL + "/library/audio?limit=10&offset=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSetVolumeOnKnownNodeReturnsOK(t *testing.T) {
	srv := setupTestAPI(t, "living_room")

	resp, err := http.Post(srv.URL+"/nodes/living_room/volume", "application/json", strings.NewReader(`{"volume":0.5}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
