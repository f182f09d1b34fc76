package processor

// PlaybackState is the processor's local playback state (spec §3).
type PlaybackState int

const (
	Playing PlaybackState = iota
	Paused
)

// StreamState is what Process returns each cycle. It doubles as the
// node-facing health signal: Finished is a terminal tombstone meaning
// "drained", Buffering means a cache miss is in flight, Playing covers
// every other steady-state cycle (spec §4.3).
type StreamState int

const (
	StatePlaying StreamState = iota
	StateBuffering
	StateFinished
)

// ControlKind tags the control-ring message union (spec §4.3).
type ControlKind int

const (
	CtlSetVolume ControlKind = iota
	CtlSetState
	CtlSetProgress
	CtlSetRecipient
)

// ControlMsg is the single message type carried over the SPSC ring
// buffer from the player into the real-time callback.
type ControlMsg struct {
	Kind      ControlKind
	Volume    float64
	State     PlaybackState
	Progress  float64
	Recipient NodeRecipient
}

// DecodedStream is the disk-backed decoded audio source the processor
// pulls frames from — the Go analogue of the original's
// `creek::ReadDiskStream`, backed here by an external ffmpeg process
// decoding to raw planar float32 PCM (spec §2 "audio decode/transcode").
type DecodedStream interface {
	// Ready reports whether the stream has buffered enough to read
	// without stalling (false right after a seek until the cache fills).
	Ready() bool
	// Channels returns 1 (mono) or 2 (stereo).
	Channels() int
	// NumFrames is the total frame count of the source.
	NumFrames() uint64
	// Playhead is the current read position in frames.
	Playhead() uint64
	// Read fills up to len(chBufs[0]) frames into chBufs (one slice per
	// channel) and returns the number of frames actually read.
	Read(chBufs [][]float32) (framesRead int, err error)
	// Seek moves the read position to the given frame, reporting whether
	// the seek caused a cache miss (data not yet resident).
	Seek(frame uint64) (cacheMiss bool, err error)
	// Close releases the underlying decode process/file handle.
	Close() error
}

// NodeRecipient is the non-blocking, lossy channel the callback uses to
// post state back to its node (spec §4.3: "may post messages back to the
// node using a normal (lossy) async send"). Implementations must not
// block or allocate on the hot path.
type NodeRecipient interface {
	ReportAudioState(state StreamState, progress float64)
}
