package player

import (
	"context"

	"zonecast/internal/audio/output"
	"zonecast/internal/audio/processor"
	"zonecast/internal/store"
)

// QueueItem is the spec §3 queue entry: a content UID, its catalogued
// metadata, and the on-disk locator the decoder reads from.
type QueueItem struct {
	UID      string
	Metadata store.AudioMetadata
	Path     string
}

// LoopRange is the optional navigation clamp that resolves the spec §9
// open question on loop ranges: play_selected/play_next/play_prev clamp
// into [Start,End] (inclusive) when configured, wrapping at the range's
// own boundaries rather than the full queue's.
type LoopRange struct {
	Start, End int
}

// OpenStreamFunc opens a decoded stream for item starting at startFrame.
// The player always passes 0; TryRecoverDevice resumes mid-track by pushing
// a SetProgress seek after the stream is open.
type OpenStreamFunc func(ctx context.Context, item QueueItem, startFrame uint64) (processor.DecodedStream, error)

// OpenDeviceFunc opens the output device, wiring pull as its per-period
// callback and onErr as the device-level error callback.
type OpenDeviceFunc func(ctx context.Context, pull func([]float32) processor.StreamState, onErr func(error)) (*output.Stream, error)

// ErrorSink receives stream-level errors (device lost, backend error),
// reported via the player's own send handler — deliberately distinct
// from the processor's per-sample NodeRecipient since it lives on a
// different failure path (spec §4.5).
type ErrorSink interface {
	ReportStreamError(err error)
}

// QueueSink is notified after every structural queue change so the node
// can broadcast Queue updates (spec §4.6).
type QueueSink interface {
	QueueChanged(items []QueueItem, head int)
}
