// Package coordinator implements the node registry from spec §4.8: it
// owns the map of source name to node, publishes aggregated node health to
// its own subscribed sessions, and resolves lookups by source name while
// hiding nodes in Poor health from routing.
package coordinator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"zonecast/internal/logx"
	"zonecast/internal/mailbox"
	"zonecast/internal/node"
)

type registeredNode struct {
	node *node.Node
	info NodeInfo
}

// Coordinator is the single actor described in spec §3 "Coordinator
// state" / §4.8.
type Coordinator struct {
	sources       []SourceConfig
	factory       NodeFactory
	stateProvider StateProvider

	mb    *mailbox.Mailbox[any]
	ctx   context.Context
	nodes map[string]*registeredNode

	sessions      map[int]CoordinatorSessionSink
	nextSessionID int

	log *logx.Logger
}

// New builds a Coordinator. stateProvider may be nil, in which case every
// node starts with an empty queue.
func New(sources []SourceConfig, factory NodeFactory, stateProvider StateProvider) *Coordinator {
	return &Coordinator{
		sources:       sources,
		factory:       factory,
		stateProvider: stateProvider,
		nodes:         make(map[string]*registeredNode),
		sessions:      make(map[int]CoordinatorSessionSink),
		log:           logx.New("Coordinator"),
	}
}

// Start enumerates configured sources, building a node per source
// concurrently (spec §4.8's one-time startup sweep; fanned out with
// errgroup since each factory call may open an output device). A source
// whose factory fails is logged and simply has no node — the coordinator
// does not fail as a whole (spec §4.8 "tries to construct a player for
// each, and spawns a node if successful").
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx = ctx
	c.mb = mailbox.Start[any](ctx, 64, c.handle)

	// Factories get ctx, not the group's derived context: errgroup cancels
	// that one as soon as Wait returns, and every node keeps running on the
	// context it was started with.
	g, _ := errgroup.WithContext(ctx)
	built := make([]*registeredNode, len(c.sources))

	for i, src := range c.sources {
		i, src := i, src
		g.Go(func() error {
			restored, _ := c.lookupRestoredState(src.Name)
			n, err := c.factory(ctx, src, restored, c)
			if err != nil {
				c.log.Warn("failed to start node for source %s: %v", src.Name, err)
				return nil
			}
			built[i] = &registeredNode{
				node: n,
				info: NodeInfo{SourceName: src.Name, HumanReadableName: src.HumanReadableName, Health: node.GoodHealth()},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rn := range built {
		if rn != nil {
			c.nodes[rn.info.SourceName] = rn
		}
	}
	return nil
}

func (c *Coordinator) lookupRestoredState(sourceName string) (RestoredNodeState, bool) {
	if c.stateProvider == nil {
		return RestoredNodeState{}, false
	}
	return c.stateProvider.RestoredState(sourceName)
}

// NodeHealthUpdate implements node.HealthSink. Nodes run their own
// mailbox goroutines, so this posts into the coordinator's mailbox rather
// than mutating the registry directly.
func (c *Coordinator) NodeHealthUpdate(sourceName string, health node.Health) {
	c.mb.TrySend(healthUpdateMsg{SourceName: sourceName, Health: health})
}

// GetNode resolves a node by source name, returning ok=false if the node
// is unknown or currently in Poor health (spec §4.8 "only if its health
// is not Poor(_)").
func (c *Coordinator) GetNode(ctx context.Context, sourceName string) (*node.Node, bool) {
	reply := make(chan getNodeResult, 1)
	if !c.mb.Send(ctx, getNodeCmd{SourceName: sourceName, Reply: reply}) {
		return nil, false
	}
	select {
	case res := <-reply:
		return res.Node, res.Ok
	case <-ctx.Done():
		return nil, false
	}
}

// Connect registers a coordinator session (spec §4.7, coordinator
// variant): the reply carries NodeInfos only if wantsNodeInfo is set.
func (c *Coordinator) Connect(ctx context.Context, sink CoordinatorSessionSink, wantsNodeInfo bool) (ConnectResult, error) {
	reply := make(chan ConnectResult, 1)
	if !c.mb.Send(ctx, connectCmd{Sink: sink, WantsNodeInfo: wantsNodeInfo, Reply: reply}) {
		return ConnectResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return ConnectResult{}, ctx.Err()
	}
}

func (c *Coordinator) Disconnect(ctx context.Context, id int) {
	c.mb.Send(ctx, disconnectCmd{ID: id})
}

func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case healthUpdateMsg:
		c.handleHealthUpdate(m)
	case getNodeCmd:
		rn, ok := c.nodes[m.SourceName]
		if !ok || rn.info.Health.Kind == node.HealthPoor {
			m.Reply <- getNodeResult{Ok: false}
			return
		}
		m.Reply <- getNodeResult{Node: rn.node, Ok: true}
	case connectCmd:
		c.handleConnect(m)
	case disconnectCmd:
		delete(c.sessions, m.ID)
	}
}

func (c *Coordinator) handleHealthUpdate(m healthUpdateMsg) {
	rn, ok := c.nodes[m.SourceName]
	if !ok {
		return
	}
	rn.info.Health = m.Health
	c.multicastNodeInfo()
}

func (c *Coordinator) handleConnect(m connectCmd) {
	id := c.nextSessionID
	c.nextSessionID++
	c.sessions[id] = m.Sink

	res := ConnectResult{ID: id}
	if m.WantsNodeInfo {
		res.NodeInfos = c.nodeInfos()
	}
	m.Reply <- res
}

func (c *Coordinator) nodeInfos() []NodeInfo {
	infos := make([]NodeInfo, 0, len(c.nodes))
	for _, rn := range c.nodes {
		infos = append(infos, rn.info)
	}
	return infos
}

func (c *Coordinator) multicastNodeInfo() {
	b := CoordinatorBroadcast{NodeInfos: c.nodeInfos()}
	for _, sink := range c.sessions {
		sink.Deliver(b)
	}
}
