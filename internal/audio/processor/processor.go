// Package processor implements the real-time audio callback body from
// spec §4.3. Process must never block, allocate, log, or take a lock —
// every buffer it touches is pre-allocated at construction time and
// reused across calls.
package processor

import "zonecast/internal/audio/ringbuf"

// Processor owns the decoded-stream side of playback. It is driven by
// exactly one goroutine: the audio backend's callback thread.
type Processor struct {
	ring *ringbuf.Ring[ControlMsg]

	stream    DecodedStream
	state     PlaybackState
	volume    float64
	progress  float64
	recipient NodeRecipient

	hadCacheMissLastCycle bool
	forcedBuffering       bool

	scratch   [2][]float32 // reused per-channel read buffers, sized to maxFrames
	maxFrames int
}

// New builds a Processor bound to the consumer end of ring. maxFrames
// must be at least as large as any buffer ever passed to Process — it
// sizes the pre-allocated scratch buffers so Process never allocates.
func New(ring *ringbuf.Ring[ControlMsg], maxFrames int) *Processor {
	return &Processor{
		ring:      ring,
		state:     Playing,
		volume:    1.0,
		maxFrames: maxFrames,
		scratch:   [2][]float32{make([]float32, maxFrames), make([]float32, maxFrames)},
	}
}

// BindStream attaches a freshly opened decoded stream, resetting
// per-stream state. Called from the player's mailbox goroutine before the
// output stream starts, never concurrently with Process.
func (p *Processor) BindStream(s DecodedStream) {
	p.stream = s
	p.progress = 0
	p.hadCacheMissLastCycle = false
	p.forcedBuffering = false
}

// Process runs one callback invocation: buffer is interleaved stereo
// output, length a multiple of 2. It implements spec §4.3 steps 1-7.
func (p *Processor) Process(buffer []float32) StreamState {
	p.drainControl()

	if p.stream == nil {
		zero(buffer)
		p.report(StatePlaying)
		return StatePlaying // terminal tombstone: "drained"
	}

	// Pause wins over a same-cycle seek cache-miss: it returns unconditionally
	// before forcedBuffering is consulted, matching the original's pause branch
	// returning Ok(Playing) before its is_ready/buffering check ever runs. The
	// flag stays set and takes effect on the first cycle after unpausing.
	if p.state == Paused {
		zero(buffer)
		p.report(StatePlaying)
		return StatePlaying
	}

	if p.forcedBuffering {
		zero(buffer)
		p.forcedBuffering = false
		p.hadCacheMissLastCycle = true
		p.report(StateBuffering)
		return StateBuffering
	}

	if !p.stream.Ready() {
		zero(buffer)
		p.hadCacheMissLastCycle = true
		p.report(StateBuffering)
		return StateBuffering
	}

	frames := len(buffer) / 2
	if frames > p.maxFrames {
		frames = p.maxFrames
	}
	channels := p.stream.Channels()
	if channels != 1 {
		channels = 2
	}
	chBufs := p.scratch[:channels]
	for c := range chBufs {
		clearN(chBufs[c], frames)
	}

	zero(buffer)
	framesRead, _ := p.stream.Read(sliceEach(chBufs, frames))

	vol := float32(p.volume)
	for i := 0; i < framesRead; i++ {
		var l, r float32
		if channels == 1 {
			l = chBufs[0][i]
			r = l
		} else {
			l = chBufs[0][i]
			r = chBufs[1][i]
		}
		buffer[2*i] = l * vol
		buffer[2*i+1] = r * vol
	}

	numFrames := p.stream.NumFrames()
	playhead := p.stream.Playhead()
	if numFrames > 0 {
		p.progress = float64(playhead) / float64(numFrames)
	}

	state := StatePlaying
	if numFrames > 0 && playhead >= numFrames {
		state = StateFinished
	}

	if p.hadCacheMissLastCycle {
		rampBufferLen := len(buffer)
		for i := range buffer {
			buffer[i] *= float32(i) / float32(rampBufferLen)
		}
		p.hadCacheMissLastCycle = false
	}

	p.report(state)
	return state
}

func (p *Processor) report(state StreamState) {
	if p.recipient != nil {
		p.recipient.ReportAudioState(state, p.progress)
	}
}

func (p *Processor) drainControl() {
	p.ring.DrainAll(func(msg ControlMsg) {
		switch msg.Kind {
		case CtlSetVolume:
			p.volume = clamp01(msg.Volume)
		case CtlSetState:
			p.state = msg.State
		case CtlSetProgress:
			if p.stream != nil {
				target := uint64(msg.Progress * float64(p.stream.NumFrames()))
				cacheMiss, _ := p.stream.Seek(target)
				if cacheMiss {
					p.forcedBuffering = true
				}
			}
		case CtlSetRecipient:
			p.recipient = msg.Recipient
		}
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

func clearN(buf []float32, n int) {
	for i := 0; i < n; i++ {
		buf[i] = 0
	}
}

// sliceEach returns each channel buffer truncated to n frames, without
// allocating a new backing array.
func sliceEach(chBufs [][]float32, n int) [][]float32 {
	out := chBufs
	for i := range out {
		out[i] = out[i][:n]
	}
	return out
}
