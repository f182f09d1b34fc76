package state

import (
	"zonecast/internal/audio/processor"
	"zonecast/internal/downloader"
)

// AudioDiskState is the on-disk shape of one source's playback state —
// the gob-serializable counterpart of node.AudioStateSnapshot (spec §4.9's
// AudioStateInfo, minus the resolved queue items, which are rebuilt from
// the store at load time rather than serialized).
type AudioDiskState struct {
	PlaybackState     processor.PlaybackState
	CurrentQueueIndex int
	AudioProgress     float64
	AudioVolume       float64
	QueueUIDs         []string
}

// DiskState is the full recovery file contents (spec §4.9
// "AppStateRecoveryInfo"): the downloader's pending queue plus one
// AudioDiskState per source.
type DiskState struct {
	DownloadQueue []downloader.DownloadInfo
	AudioInfo     map[string]AudioDiskState
}

func newDiskState() DiskState {
	return DiskState{AudioInfo: make(map[string]AudioDiskState)}
}

type downloadQueueMsg struct {
	infos []downloader.DownloadInfo
}

type audioInfoMsg struct {
	sourceName string
	state      AudioDiskState
}

type storeTickMsg struct{}
