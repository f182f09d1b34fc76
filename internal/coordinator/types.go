package coordinator

import (
	"context"

	"zonecast/internal/audio/player"
	"zonecast/internal/audio/processor"
	"zonecast/internal/node"
)

// SourceConfig is one entry of the declarative source-name table the
// coordinator enumerates at startup (spec §4.8, §6 "Config").
type SourceConfig struct {
	Name             string
	HumanReadableName string
}

// RestoredNodeState is the hydrated recovery data a source's node should
// start from, already resolved to playable queue items (spec §4.9's
// hydration happens in the state persister, before this struct is built).
type RestoredNodeState struct {
	PlaybackState     processor.PlaybackState
	CurrentQueueIndex int
	AudioProgress     float64
	AudioVolume       float64
	Queue             []player.QueueItem
}

// StateProvider supplies restored state for a source name. Implemented by
// internal/state's persister; a coordinator with none configured starts
// every node with an empty queue.
type StateProvider interface {
	RestoredState(sourceName string) (RestoredNodeState, bool)
}

// NodeFactory builds and starts the node for one source, applying
// restored state before any command reaches it — the coordinator itself
// has no knowledge of how a player/downloader/store are wired together
// (spec §4.8 "restores each node's queue and playback state ... before
// push_to_queue is used").
type NodeFactory func(ctx context.Context, src SourceConfig, restored RestoredNodeState, coord node.HealthSink) (*node.Node, error)

// NodeInfo is the coordinator's public view of one node (spec §3
// "Coordinator state").
type NodeInfo struct {
	SourceName        string
	HumanReadableName string
	Health            node.Health
}

// CoordinatorBroadcast is the single update frame tag coordinator
// sessions receive (spec §6 "NodeInfo (coordinator)").
type CoordinatorBroadcast struct {
	NodeInfos []NodeInfo
}

// CoordinatorSessionSink receives coordinator broadcasts; must not block
// (same contract as node.SessionSink).
type CoordinatorSessionSink interface {
	Deliver(CoordinatorBroadcast)
}

type getNodeCmd struct {
	SourceName string
	Reply      chan getNodeResult
}

type getNodeResult struct {
	Node *node.Node
	Ok   bool
}

type healthUpdateMsg struct {
	SourceName string
	Health     node.Health
}

type connectCmd struct {
	Sink          CoordinatorSessionSink
	WantsNodeInfo bool
	Reply         chan ConnectResult
}

// ConnectResult is the synchronous connect-time reply (spec §4.7);
// NodeInfos is nil unless the session asked for it.
type ConnectResult struct {
	ID        int
	NodeInfos []NodeInfo
}

type disconnectCmd struct {
	ID int
}
