// Package state implements the background recovery-snapshot persister
// from spec §4.9: it accumulates the downloader's pending queue and every
// node's audio state, writes a binary snapshot on a ~3s has-changed-gated
// tick, and hydrates that snapshot back into playable queues at startup.
package state

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"time"

	"zonecast/internal/audio/player"
	"zonecast/internal/coordinator"
	"zonecast/internal/downloader"
	"zonecast/internal/identifier"
	"zonecast/internal/logx"
	"zonecast/internal/mailbox"
	"zonecast/internal/node"
	"zonecast/internal/store"
)

const storeInterval = 3 * time.Second

// Resolver is the slice of internal/store.Store the persister needs to
// re-resolve a restored queue's UIDs into playable items at load time.
type Resolver interface {
	GetAudio(ctx context.Context, uid string) (*store.AudioMetadata, error)
}

// Persister is the actor described in spec §4.9. It implements
// downloader.StateSink and node.StateSink directly, and
// coordinator.StateProvider via RestoredState.
type Persister struct {
	path     string
	audioDir string

	mb   *mailbox.Mailbox[any]
	disk DiskState

	// restored is computed once in LoadOrDefault and never mutated
	// afterward — safe to read from any goroutine without the mailbox.
	restored map[string]coordinator.RestoredNodeState

	hasChanged bool
	log        *logx.Logger
}

// LoadOrDefault reads the recovery file at path (producing an empty state
// if it is missing or corrupt, matching the original's
// "bincode::deserialize(...).unwrap_or_default()") and resolves every
// source's queue UIDs against resolver, dropping any UID whose metadata
// has since disappeared from the store (spec §4.9 "startup hydration
// drops missing-metadata UIDs").
func LoadOrDefault(ctx context.Context, path, audioDir string, resolver Resolver) *Persister {
	p := &Persister{
		path:     path,
		audioDir: audioDir,
		disk:     newDiskState(),
		restored: make(map[string]coordinator.RestoredNodeState),
		log:      logx.New("StatePersister"),
	}

	if raw, err := os.ReadFile(path); err == nil {
		var disk DiskState
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&disk); err == nil {
			p.disk = disk
		} else {
			p.log.Warn("recovery file at %s is corrupt, starting empty: %v", path, err)
		}
	}
	if p.disk.AudioInfo == nil {
		p.disk.AudioInfo = make(map[string]AudioDiskState)
	}

	for sourceName, audio := range p.disk.AudioInfo {
		p.restored[sourceName] = p.resolveQueue(ctx, sourceName, audio, resolver)
	}
	return p
}

func (p *Persister) resolveQueue(ctx context.Context, sourceName string, audio AudioDiskState, resolver Resolver) coordinator.RestoredNodeState {
	queue := make([]player.QueueItem, 0, len(audio.QueueUIDs))
	for _, uid := range audio.QueueUIDs {
		meta, err := resolver.GetAudio(ctx, uid)
		if err != nil || meta == nil {
			p.log.Warn("dropping restored queue item %s for %s: metadata no longer exists", uid, sourceName)
			continue
		}
		queue = append(queue, player.QueueItem{
			UID:      uid,
			Metadata: *meta,
			Path:     identifier.PathOf(p.audioDir, uid),
		})
	}
	return coordinator.RestoredNodeState{
		PlaybackState:     audio.PlaybackState,
		CurrentQueueIndex: audio.CurrentQueueIndex,
		AudioProgress:     audio.AudioProgress,
		AudioVolume:       audio.AudioVolume,
		Queue:             queue,
	}
}

// RestoredState implements coordinator.StateProvider.
func (p *Persister) RestoredState(sourceName string) (coordinator.RestoredNodeState, bool) {
	rs, ok := p.restored[sourceName]
	return rs, ok
}

// RestoredDownloadQueue returns the hydrated pending download descriptors
// for the downloader's startup Restore call (spec §4.9).
func (p *Persister) RestoredDownloadQueue() []downloader.DownloadInfo {
	return append([]downloader.DownloadInfo(nil), p.disk.DownloadQueue...)
}

// Start launches the persister's mailbox and its 3s store tick.
func (p *Persister) Start(ctx context.Context) {
	p.mb = mailbox.Start[any](ctx, 64, p.handle)
	go p.tickLoop(ctx)
}

func (p *Persister) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(storeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mb.TrySend(storeTickMsg{})
		}
	}
}

// DownloadQueueStateUpdate implements downloader.StateSink.
func (p *Persister) DownloadQueueStateUpdate(infos []downloader.DownloadInfo) {
	p.mb.TrySend(downloadQueueMsg{infos: infos})
}

// AudioInfoStateUpdate implements node.StateSink.
func (p *Persister) AudioInfoStateUpdate(sourceName string, info node.AudioStateSnapshot) {
	p.mb.TrySend(audioInfoMsg{sourceName: sourceName, state: AudioDiskState{
		PlaybackState:     info.PlaybackState,
		CurrentQueueIndex: info.CurrentQueueIndex,
		AudioProgress:     info.AudioProgress,
		AudioVolume:       info.AudioVolume,
		QueueUIDs:         info.QueueUIDs,
	}})
}

func (p *Persister) handle(msg any) {
	switch m := msg.(type) {
	case downloadQueueMsg:
		p.disk.DownloadQueue = m.infos
		p.hasChanged = true
	case audioInfoMsg:
		p.disk.AudioInfo[m.sourceName] = m.state
		p.hasChanged = true
	case storeTickMsg:
		if p.hasChanged {
			if err := p.writeToDisk(); err != nil {
				p.log.Error("failed to write recovery file: %v", err)
			}
			p.hasChanged = false
		}
	}
}

func (p *Persister) writeToDisk() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p.disk); err != nil {
		return err
	}
	return os.WriteFile(p.path, buf.Bytes(), 0o644)
}
