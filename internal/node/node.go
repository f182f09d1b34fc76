// Package node implements the per-device actor from spec §4.6: it routes
// client commands to its player, aggregates processor updates into a
// health state machine, tracks in-flight download descriptors, and fans
// state changes out to subscribed sessions. Every exported method enqueues
// onto a single mailbox goroutine (internal/mailbox), so no locking is
// needed inside the handler — the property that must survive per spec §9
// is serial message handling.
package node

import (
	"context"
	"strings"
	"time"

	"zonecast/internal/audio/player"
	"zonecast/internal/audio/processor"
	"zonecast/internal/downloader"
	"zonecast/internal/identifier"
	"zonecast/internal/logx"
	"zonecast/internal/mailbox"
	"zonecast/internal/sendlimit"
)

const recoveryRetryInterval = 5 * time.Second

// Node is one per output device (spec §3 "Node state").
type Node struct {
	sourceName string
	audioDir   string

	player     *player.Player
	downloads  DownloadQueue
	localStore LocalMetadataStore
	enumerator PlaylistEnumerator
	coord      HealthSink
	stateSink  StateSink

	mb  *mailbox.Mailbox[any]
	ctx context.Context

	sessions      map[int]SessionSink
	nextSessionID int

	active map[string]downloader.DownloadInfo
	failed map[string]FailedDownload

	health        Health
	playbackState processor.PlaybackState
	processorInfo AudioStateInfo

	healthHandler *sendlimit.Handler[Health]
	audioHandler  *sendlimit.Handler[AudioStateInfo]

	log *logx.Logger
}

// New builds a Node. The caller must still attach a player wired to the
// returned Node (ReportStreamError, QueueChanged, ReportAudioState) with
// BindPlayer before calling Start.
func New(sourceName, audioDir string, downloads DownloadQueue, localStore LocalMetadataStore, enumerator PlaylistEnumerator, coord HealthSink) *Node {
	return &Node{
		sourceName: sourceName,
		audioDir:   audioDir,
		downloads:  downloads,
		localStore: localStore,
		enumerator: enumerator,
		coord:      coord,
		sessions:   make(map[int]SessionSink),
		active:     make(map[string]downloader.DownloadInfo),
		failed:     make(map[string]FailedDownload),
		health:     GoodHealth(),
		playbackState: processor.Playing,
		healthHandler: sendlimit.WithLimiters[Health](
			sendlimit.NewRateLimiter[Health](0),
			sendlimit.NewChangeDetector(EqualHealth, healthSeed()),
		),
		audioHandler: sendlimit.WithLimiters[AudioStateInfo](
			sendlimit.NewRateLimiter[AudioStateInfo](0),
		),
		log: logx.New("Node"),
	}
}

func healthSeed() *Health {
	g := GoodHealth()
	return &g
}

// BindPlayer attaches the player this node controls. Must be called
// before Start; the player's ErrorSink/QueueSink/NodeRecipient are
// expected to already be wired to this Node (spec §9 "back-references...
// weakly-held handles").
func (n *Node) BindPlayer(p *player.Player) { n.player = p }

// BindStateSink attaches the persister this node reports audio state to.
// Optional — a node with none configured simply never persists.
func (n *Node) BindStateSink(s StateSink) { n.stateSink = s }

func (n *Node) SourceName() string { return n.sourceName }

// Start launches the mailbox goroutine. ctx is retained for player calls
// that need one (play/seek/navigate).
func (n *Node) Start(ctx context.Context) {
	n.ctx = ctx
	n.mb = mailbox.Start[any](ctx, 256, n.handle)
}

// ReportStreamError implements player.ErrorSink.
func (n *Node) ReportStreamError(err error) {
	n.mb.TrySend(streamErrorMsg{Err: err})
}

// QueueChanged implements player.QueueSink. Called synchronously from a
// player method invoked on this node's own mailbox goroutine, so it may
// multicast directly without re-posting to itself.
func (n *Node) QueueChanged(items []player.QueueItem, head int) {
	n.multicastQueue(items, head)
	n.pushStateSnapshot()
}

// ReportAudioState implements processor.NodeRecipient. Called from the
// audio backend's real-time callback thread — must never block.
func (n *Node) ReportAudioState(state processor.StreamState, progress float64) {
	n.mb.TrySend(audioStateMsg{State: state, Progress: progress})
}

func (n *Node) downloadSubscriber() downloader.Subscriber {
	return func(ev downloader.Event) {
		n.mb.TrySend(downloadEventMsg{Event: ev})
	}
}

// --- public command surface (spec §4.6 table) ---

func (n *Node) AddQueueItem(ctx context.Context, url string) error {
	reply := make(chan error, 1)
	return n.sendAndWait(ctx, AddQueueItemCmd{URL: url, Reply: reply}, reply)
}

func (n *Node) RemoveQueueItem(ctx context.Context, index int) error {
	reply := make(chan error, 1)
	return n.sendAndWait(ctx, RemoveQueueItemCmd{Index: index, Reply: reply}, reply)
}

func (n *Node) MoveQueueItem(ctx context.Context, old, new int) error {
	reply := make(chan error, 1)
	return n.sendAndWait(ctx, MoveQueueItemCmd{Old: old, New: new, Reply: reply}, reply)
}

func (n *Node) ShuffleQueue(ctx context.Context) error {
	reply := make(chan error, 1)
	return n.sendAndWait(ctx, ShuffleQueueCmd{Reply: reply}, reply)
}

func (n *Node) SetAudioVolume(ctx context.Context, v float64) {
	n.mb.Send(ctx, SetAudioVolumeCmd{Volume: v})
}

func (n *Node) SetAudioProgress(ctx context.Context, p float64) {
	n.mb.Send(ctx, SetAudioProgressCmd{Progress: p})
}

func (n *Node) PauseQueue(ctx context.Context)   { n.mb.Send(ctx, PauseQueueCmd{}) }
func (n *Node) UnPauseQueue(ctx context.Context) { n.mb.Send(ctx, UnPauseQueueCmd{}) }

func (n *Node) PlayNext(ctx context.Context) error {
	reply := make(chan error, 1)
	return n.sendAndWait(ctx, PlayNextCmd{Reply: reply}, reply)
}

func (n *Node) PlayPrevious(ctx context.Context) error {
	reply := make(chan error, 1)
	return n.sendAndWait(ctx, PlayPrevCmd{Reply: reply}, reply)
}

func (n *Node) PlaySelected(ctx context.Context, index int) error {
	reply := make(chan error, 1)
	return n.sendAndWait(ctx, PlaySelectedCmd{Index: index, Reply: reply}, reply)
}

// Connect registers sink and returns its session id plus a snapshot
// covering exactly the wanted tags (spec §4.7).
func (n *Node) Connect(ctx context.Context, sink SessionSink, wanted []InfoTag) (ConnectResult, error) {
	reply := make(chan ConnectResult, 1)
	if !n.mb.Send(ctx, ConnectCmd{Sink: sink, Wanted: wanted, Reply: reply}) {
		return ConnectResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return ConnectResult{}, ctx.Err()
	}
}

func (n *Node) Disconnect(ctx context.Context, id int) {
	n.mb.Send(ctx, DisconnectCmd{ID: id})
}

func (n *Node) sendAndWait(ctx context.Context, cmd any, reply chan error) error {
	if !n.mb.Send(ctx, cmd) {
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- mailbox handler ---

func (n *Node) handle(msg any) {
	switch m := msg.(type) {
	case AddQueueItemCmd:
		n.handleAddQueueItem(m)
	case RemoveQueueItemCmd:
		n.player.Remove(n.ctx, m.Index)
		replyNil(m.Reply)
	case MoveQueueItemCmd:
		n.player.Move(m.Old, m.New)
		replyNil(m.Reply)
	case ShuffleQueueCmd:
		n.player.Shuffle(n.ctx)
		replyNil(m.Reply)
	case SetAudioVolumeCmd:
		n.player.SetVolume(m.Volume)
		n.pushStateSnapshot()
	case SetAudioProgressCmd:
		n.player.SetProgress(m.Progress)
	case PauseQueueCmd:
		n.playbackState = processor.Paused
		n.player.SetState(processor.Paused)
		n.pushStateSnapshot()
	case UnPauseQueueCmd:
		n.playbackState = processor.Playing
		n.player.SetState(processor.Playing)
		n.pushStateSnapshot()
	case PlayNextCmd:
		n.player.PlayNext(n.ctx)
		replyNil(m.Reply)
	case PlayPrevCmd:
		n.player.PlayPrev(n.ctx)
		replyNil(m.Reply)
	case PlaySelectedCmd:
		n.player.PlaySelected(n.ctx, m.Index, false)
		replyNil(m.Reply)
	case ConnectCmd:
		n.handleConnect(m)
	case DisconnectCmd:
		delete(n.sessions, m.ID)
	case playlistEnumeratedMsg:
		n.handlePlaylistEnumerated(m)
	case downloadEventMsg:
		n.handleDownloadEvent(m.Event)
	case audioStateMsg:
		n.handleAudioState(m)
	case streamErrorMsg:
		n.handleStreamError(m.Err)
	case tryRecoverMsg:
		n.handleTryRecover()
	}
}

// handleAddQueueItem resolves metadata locally if present; otherwise
// enqueues a download (spec §4.6). Playlist URLs require an HTTP
// enumeration call, spawned as a task whose completion re-enters the
// mailbox as playlistEnumeratedMsg so queue mutations stay serialised.
func (n *Node) handleAddQueueItem(cmd AddQueueItemCmd) {
	uid := identifier.UID(cmd.URL, identifier.KindVideo)
	if n.localStore != nil {
		if meta, err := n.localStore.GetAudio(n.ctx, uid); err == nil && meta != nil {
			n.player.Push(n.ctx, player.QueueItem{
				UID:      uid,
				Metadata: *meta,
				Path:     identifier.PathOf(n.audioDir, uid),
			})
			replyNil(cmd.Reply)
			return
		}
	}

	if n.enumerator != nil && n.enumerator.IsPlaylist(cmd.URL) {
		reply := cmd.Reply
		url := cmd.URL
		go func() {
			urls, err := n.enumerator.EnumeratePlaylist(context.Background(), url)
			n.mb.TrySend(playlistEnumeratedMsg{URL: url, VideoURLs: urls, Err: err, Reply: reply})
		}()
		return
	}

	n.downloads.Enqueue(downloader.DownloadInfo{Kind: downloader.KindYoutubeVideo, URL: cmd.URL}, n.downloadSubscriber())
	replyNil(cmd.Reply)
}

func (n *Node) handlePlaylistEnumerated(m playlistEnumeratedMsg) {
	if m.Err != nil {
		reply(m.Reply, m.Err)
		return
	}
	n.downloads.Enqueue(downloader.DownloadInfo{
		Kind:        downloader.KindYoutubePlaylist,
		PlaylistURL: m.URL,
		VideoURLs:   m.VideoURLs,
	}, n.downloadSubscriber())
	reply(m.Reply, nil)
}

// handleDownloadEvent translates downloader events into the active/failed
// sets per the table in spec §4.6.
func (n *Node) handleDownloadEvent(ev downloader.Event) {
	key := ev.Info.Key()
	switch ev.Kind {
	case downloader.EventQueued:
		n.active[key] = ev.Info
		n.multicastDownloads()
	case downloader.EventFailedToQueue:
		n.failed[key] = FailedDownload{Info: ev.Info, Err: errString(ev.Err)}
		n.multicastDownloads()
	case downloader.EventSingleFinished:
		delete(n.active, key)
		if ev.Err != nil {
			n.failed[key] = FailedDownload{Info: ev.Info, Err: errString(ev.Err)}
			n.multicastDownloads()
			return
		}
		delete(n.failed, key)
		item := player.QueueItem{UID: ev.UID, Path: identifier.PathOf(n.audioDir, ev.UID)}
		if ev.Metadata != nil {
			item.Metadata = *ev.Metadata
		}
		n.player.Push(n.ctx, item)
		n.multicastDownloads()
	case downloader.EventBatchUpdated:
		if ev.Info.Kind != downloader.KindYoutubePlaylist {
			n.log.Warn("batch update for a non-playlist descriptor, ignoring")
			return
		}
		if len(ev.Info.VideoURLs) == 0 {
			delete(n.active, key)
		} else {
			n.active[key] = ev.Info
		}
		n.multicastDownloads()
	case downloader.EventBatchDownloadFailedToStart:
		n.failed[key] = FailedDownload{Info: ev.Info, Err: errString(ev.Err)}
		n.multicastDownloads()
	}
}

// handleAudioState implements spec §4.3's node-side interpretation of
// processor returns: Finished drops the stream and auto-advances;
// Buffering/Playing feed the health state machine and the rate-limited
// AudioStateInfo broadcast.
func (n *Node) handleAudioState(m audioStateMsg) {
	switch m.State {
	case processor.StateFinished:
		n.player.PlayNext(n.ctx)
		return
	case processor.StateBuffering:
		n.transitionHealth(Health{Kind: HealthMild, Mild: MildBuffering})
	case processor.StatePlaying:
		if n.health.Kind == HealthMild {
			n.transitionHealth(GoodHealth())
		}
	}

	n.processorInfo.AudioProgress = m.Progress
	n.processorInfo.CurrentQueueIndex = n.player.Head()
	n.processorInfo.AudioVolume = n.player.Volume()
	n.processorInfo.PlaybackState = n.playbackState
	info := n.processorInfo
	n.audioHandler.Send(info, n.multicastAudioState)
	n.pushStateSnapshot()
}

// pushStateSnapshot hands the persister a fresh view of this node's
// playback state. A no-op when no persister is configured.
func (n *Node) pushStateSnapshot() {
	if n.stateSink == nil {
		return
	}
	items := n.player.Queue()
	uids := make([]string, len(items))
	for i, item := range items {
		uids[i] = item.UID
	}
	n.stateSink.AudioInfoStateUpdate(n.sourceName, AudioStateSnapshot{
		PlaybackState:     n.playbackState,
		CurrentQueueIndex: n.player.Head(),
		AudioProgress:     n.processorInfo.AudioProgress,
		AudioVolume:       n.player.Volume(),
		QueueUIDs:         uids,
	})
}

func (n *Node) handleStreamError(err error) {
	n.transitionHealth(Health{Kind: HealthPoor, Poor: classifyStreamError(err), Message: errString(err)})
}

// classifyStreamError is a best-effort mapping from the output package's
// uniformly-wrapped errors back onto the spec's three Poor reasons; the
// collaborator doesn't carry richer structure than a message string.
func classifyStreamError(err error) PoorKind {
	msg := errString(err)
	switch {
	case strings.Contains(msg, "open output pipe") || strings.Contains(msg, "start output device"):
		return PoorDeviceNotAvailable
	case strings.Contains(msg, "write failed"):
		return PoorAudioStreamReadFailed
	default:
		return PoorAudioBackendError
	}
}

// transitionHealth updates health, relays to the coordinator, and — on
// any non-Good transition — kicks off recovery (spec §4.6).
func (n *Node) transitionHealth(h Health) {
	n.health = h
	if n.coord != nil {
		n.coord.NodeHealthUpdate(n.sourceName, h)
	}
	n.healthHandler.Send(h, n.multicastHealth)
	if h.Kind != HealthGood {
		n.mb.TrySend(tryRecoverMsg{})
	}
}

// handleTryRecover implements spec §4.5/§5's device recovery loop: retry
// indefinitely at a ~5s interval until try_recover_device succeeds.
func (n *Node) handleTryRecover() {
	if n.health.Kind == HealthGood {
		return
	}
	if err := n.player.TryRecoverDevice(n.ctx, n.processorInfo.AudioProgress); err != nil {
		n.log.Error("failed to recover device for %s: %v", n.sourceName, err)
		go func() {
			time.Sleep(recoveryRetryInterval)
			n.mb.TrySend(tryRecoverMsg{})
		}()
		return
	}
	n.transitionHealth(GoodHealth())
}

func (n *Node) handleConnect(cmd ConnectCmd) {
	id := n.nextSessionID
	n.nextSessionID++
	n.sessions[id] = cmd.Sink

	var snap Snapshot
	for _, tag := range cmd.Wanted {
		switch tag {
		case TagQueue:
			qs := QueueSnapshot{Items: n.player.Queue(), Head: n.player.Head()}
			snap.Queue = &qs
		case TagHealth:
			h := n.health
			snap.Health = &h
		case TagDownload:
			ds := n.downloadState()
			snap.Downloads = &ds
		case TagAudioStateInfo:
			info := n.processorInfo
			snap.AudioState = &info
		}
	}
	cmd.Reply <- ConnectResult{ID: id, Snapshot: snap}
}

func (n *Node) downloadState() DownloadState {
	ds := DownloadState{
		Active: make([]downloader.DownloadInfo, 0, len(n.active)),
		Failed: make([]FailedDownload, 0, len(n.failed)),
	}
	for _, info := range n.active {
		ds.Active = append(ds.Active, info)
	}
	for _, f := range n.failed {
		ds.Failed = append(ds.Failed, f)
	}
	return ds
}

func (n *Node) multicastQueue(items []player.QueueItem, head int) {
	n.multicast(Broadcast{Tag: TagQueue, Queue: QueueSnapshot{Items: items, Head: head}})
}

func (n *Node) multicastHealth(h Health) {
	n.multicast(Broadcast{Tag: TagHealth, Health: h})
}

func (n *Node) multicastDownloads() {
	n.multicast(Broadcast{Tag: TagDownload, Downloads: n.downloadState()})
}

func (n *Node) multicastAudioState(info AudioStateInfo) {
	n.multicast(Broadcast{Tag: TagAudioStateInfo, AudioState: info})
}

func (n *Node) multicast(b Broadcast) {
	for _, sink := range n.sessions {
		sink.Deliver(b)
	}
}

func replyNil(ch chan error) { reply(ch, nil) }

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
