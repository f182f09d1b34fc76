package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonecast/internal/coordinator"
	"zonecast/internal/node"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []any
	pings int
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeSender) snapshot() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

type fakeNodeTarget struct {
	connectResult node.ConnectResult
	connectErr    error
	sink          node.SessionSink
	disconnected  []int
}

func (f *fakeNodeTarget) Connect(ctx context.Context, sink node.SessionSink, wanted []node.InfoTag) (node.ConnectResult, error) {
	f.sink = sink
	return f.connectResult, f.connectErr
}

func (f *fakeNodeTarget) Disconnect(ctx context.Context, id int) {
	f.disconnected = append(f.disconnected, id)
}

func TestNodeSessionDeliversSnapshotOnConnect(t *testing.T) {
	ctx := context.Background()
	target := &fakeNodeTarget{connectResult: node.ConnectResult{ID: 7}}
	sender := &fakeSender{}

	s := NewNodeSession(target, sender, []node.InfoTag{node.TagQueue})
	require.NoError(t, s.Start(ctx))

	sent := sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, target.connectResult.Snapshot, sent[0])
}

func TestNodeSessionFiltersUnwantedBroadcastTags(t *testing.T) {
	ctx := context.Background()
	target := &fakeNodeTarget{connectResult: node.ConnectResult{ID: 1}}
	sender := &fakeSender{}

	s := NewNodeSession(target, sender, []node.InfoTag{node.TagQueue})
	require.NoError(t, s.Start(ctx))

	target.sink.Deliver(node.Broadcast{Tag: node.TagHealth, Health: node.Health{Kind: node.HealthPoor}})
	target.sink.Deliver(node.Broadcast{Tag: node.TagQueue, Queue: node.QueueSnapshot{Head: 2}})
	time.Sleep(10 * time.Millisecond)

	sent := sender.snapshot()
	require.Len(t, sent, 2) // connect snapshot + the one wanted broadcast
	b, ok := sent[1].(node.Broadcast)
	require.True(t, ok)
	assert.Equal(t, node.TagQueue, b.Tag)
}

func TestNodeSessionStopDisconnects(t *testing.T) {
	ctx := context.Background()
	target := &fakeNodeTarget{connectResult: node.ConnectResult{ID: 42}}
	sender := &fakeSender{}

	s := NewNodeSession(target, sender, nil)
	require.NoError(t, s.Start(ctx))

	s.Stop(ctx)
	require.Len(t, target.disconnected, 1)
	assert.Equal(t, 42, target.disconnected[0])
}

type fakeCoordTarget struct {
	connectResult coordinator.ConnectResult
	sink          coordinator.CoordinatorSessionSink
}

func (f *fakeCoordTarget) Connect(ctx context.Context, sink coordinator.CoordinatorSessionSink, wantsNodeInfo bool) (coordinator.ConnectResult, error) {
	f.sink = sink
	return f.connectResult, nil
}

func (f *fakeCoordTarget) Disconnect(ctx context.Context, id int) {}

func TestCoordinatorSessionIgnoresBroadcastsWhenNotSubscribed(t *testing.T) {
	ctx := context.Background()
	target := &fakeCoordTarget{connectResult: coordinator.ConnectResult{ID: 3}}
	sender := &fakeSender{}

	s := NewCoordinatorSession(target, sender, false)
	require.NoError(t, s.Start(ctx))

	target.sink.Deliver(coordinator.CoordinatorBroadcast{NodeInfos: []coordinator.NodeInfo{{SourceName: "kitchen"}}})
	time.Sleep(10 * time.Millisecond)

	sent := sender.snapshot()
	assert.Len(t, sent, 1, "only the connect reply should have been sent")
}
