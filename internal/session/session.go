// Package session is the per-client subscription actor from spec §4.7: it
// connects to a node or the coordinator, delivers the connect-time
// snapshot, filters subsequent broadcasts down to the tags the client
// asked for, and drives a heartbeat. It knows nothing about HTTP or
// websockets — internal/transport supplies the Sender.
package session

import (
	"context"
	"time"

	"zonecast/internal/coordinator"
	"zonecast/internal/logx"
	"zonecast/internal/mailbox"
	"zonecast/internal/node"
)

const heartbeatInterval = 333 * time.Millisecond

// Sender is the transport-side half of a session: encode and push one
// frame, or send a keepalive ping. The session's mailbox goroutine calls
// Send while its heartbeat goroutine calls Ping, so implementations must be
// safe for concurrent use.
type Sender interface {
	Send(v any) error
	Ping() error
}

// NodeHandle is the slice of *node.Node a session needs, declared as an
// interface so tests can substitute a fake instead of a live node.
type NodeHandle interface {
	Connect(ctx context.Context, sink node.SessionSink, wanted []node.InfoTag) (node.ConnectResult, error)
	Disconnect(ctx context.Context, id int)
}

// NodeSession is the per-client actor for a single node's subscription
// stream, grounded on original_source's AudioNodeSession.
type NodeSession struct {
	target NodeHandle
	sender Sender
	wanted map[node.InfoTag]bool

	mb *mailbox.Mailbox[node.Broadcast]
	id int

	log *logx.Logger
}

// NewNodeSession builds a session that has not yet connected; call Start.
func NewNodeSession(target NodeHandle, sender Sender, wanted []node.InfoTag) *NodeSession {
	set := make(map[node.InfoTag]bool, len(wanted))
	for _, t := range wanted {
		set[t] = true
	}
	return &NodeSession{target: target, sender: sender, wanted: set, log: logx.New("NodeSession")}
}

// Start connects to the target node, pushes the connect-time snapshot,
// and begins heartbeating. The returned error means the connect itself
// failed; once started, delivery failures are logged, not returned
// (matching the original's "stop the session" vs. "log and continue"
// split between connect failure and steady-state faults).
func (s *NodeSession) Start(ctx context.Context) error {
	wanted := make([]node.InfoTag, 0, len(s.wanted))
	for t := range s.wanted {
		wanted = append(wanted, t)
	}

	s.mb = mailbox.Start(ctx, 32, s.handle)

	res, err := s.target.Connect(ctx, s, wanted)
	if err != nil {
		s.log.Error("failed to connect session to node: %v", err)
		return err
	}
	s.id = res.ID

	if err := s.sender.Send(res.Snapshot); err != nil {
		s.log.Warn("failed to deliver connect snapshot: %v", err)
	}

	go s.heartbeatLoop(ctx)
	return nil
}

// Stop disconnects from the node. Safe to call once.
func (s *NodeSession) Stop(ctx context.Context) {
	s.target.Disconnect(ctx, s.id)
}

// Deliver implements node.SessionSink. It runs on the node's own mailbox
// goroutine, so it must not block: tags the client didn't ask for are
// dropped here without touching the session's own mailbox at all.
func (s *NodeSession) Deliver(b node.Broadcast) {
	if !s.wanted[b.Tag] {
		return
	}
	s.mb.TrySend(b)
}

func (s *NodeSession) handle(b node.Broadcast) {
	if err := s.sender.Send(b); err != nil {
		s.log.Warn("failed to deliver broadcast: %v", err)
	}
}

func (s *NodeSession) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sender.Ping(); err != nil {
				s.log.Warn("heartbeat failed, session likely gone: %v", err)
				return
			}
		}
	}
}

// CoordinatorHandle is the slice of *coordinator.Coordinator a session
// needs for the NodeInfo subscription stream.
type CoordinatorHandle interface {
	Connect(ctx context.Context, sink coordinator.CoordinatorSessionSink, wantsNodeInfo bool) (coordinator.ConnectResult, error)
	Disconnect(ctx context.Context, id int)
}

// CoordinatorSession is the per-client actor for the coordinator's
// NodeInfo stream, grounded on original_source's AudioBrainSession. It
// has exactly one tag to subscribe to, so there is no per-broadcast
// filtering to do beyond the connect-time opt-in.
type CoordinatorSession struct {
	target        CoordinatorHandle
	sender        Sender
	wantsNodeInfo bool

	mb *mailbox.Mailbox[coordinator.CoordinatorBroadcast]
	id int

	log *logx.Logger
}

func NewCoordinatorSession(target CoordinatorHandle, sender Sender, wantsNodeInfo bool) *CoordinatorSession {
	return &CoordinatorSession{target: target, sender: sender, wantsNodeInfo: wantsNodeInfo, log: logx.New("CoordinatorSession")}
}

func (s *CoordinatorSession) Start(ctx context.Context) error {
	s.mb = mailbox.Start(ctx, 32, s.handle)

	res, err := s.target.Connect(ctx, s, s.wantsNodeInfo)
	if err != nil {
		s.log.Error("failed to connect session to coordinator: %v", err)
		return err
	}
	s.id = res.ID

	if err := s.sender.Send(res); err != nil {
		s.log.Warn("failed to deliver connect snapshot: %v", err)
	}

	go s.heartbeatLoop(ctx)
	return nil
}

func (s *CoordinatorSession) Stop(ctx context.Context) {
	s.target.Disconnect(ctx, s.id)
}

// Deliver implements coordinator.CoordinatorSessionSink.
func (s *CoordinatorSession) Deliver(b coordinator.CoordinatorBroadcast) {
	if !s.wantsNodeInfo {
		return
	}
	s.mb.TrySend(b)
}

func (s *CoordinatorSession) handle(b coordinator.CoordinatorBroadcast) {
	if err := s.sender.Send(b); err != nil {
		s.log.Warn("failed to deliver broadcast: %v", err)
	}
}

func (s *CoordinatorSession) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sender.Ping(); err != nil {
				s.log.Warn("heartbeat failed, session likely gone: %v", err)
				return
			}
		}
	}
}
