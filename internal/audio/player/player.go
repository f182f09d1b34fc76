// Package player implements the non-realtime control of playback from
// spec §4.5: the queue, the output stream lifecycle, and the producer
// end of the processor's control ring. Every method here is expected to
// run on its owning node's mailbox goroutine — none may block on audio
// callback timing.
package player

import (
	"context"
	"math/rand"

	"zonecast/internal/audio/output"
	"zonecast/internal/audio/processor"
	"zonecast/internal/audio/ringbuf"
	"zonecast/internal/logx"
)

const ringCapacity = 32 // spec §4.3: "capacity >= 16"

// Player owns one node's queue and output stream.
type Player struct {
	queue []QueueItem
	head  int

	volume    float64
	loopRange *LoopRange

	ring   *ringbuf.Ring[processor.ControlMsg]
	proc   *processor.Processor
	stream *output.Stream

	deviceCfg   output.Config
	openStream  OpenStreamFunc
	openDevice  OpenDeviceFunc
	errSink     ErrorSink
	queueSink   QueueSink
	recipient   processor.NodeRecipient

	log *logx.Logger
}

// New builds a Player. recipient, if non-nil, is wired into every future
// processor as its NodeRecipient (spec §4.3 SetRecipient control msg).
func New(deviceCfg output.Config, openStream OpenStreamFunc, openDevice OpenDeviceFunc, errSink ErrorSink, queueSink QueueSink, recipient processor.NodeRecipient) *Player {
	return &Player{
		volume:     1.0,
		deviceCfg:  deviceCfg,
		openStream: openStream,
		openDevice: openDevice,
		errSink:    errSink,
		queueSink:  queueSink,
		recipient:  recipient,
		log:        logx.New("Player"),
	}
}

func (p *Player) Queue() []QueueItem { return append([]QueueItem(nil), p.queue...) }
func (p *Player) Head() int          { return p.head }
func (p *Player) Volume() float64    { return p.volume }

func (p *Player) SetLoopRange(r *LoopRange) { p.loopRange = r }

func (p *Player) notifyQueue() {
	if p.queueSink != nil {
		p.queueSink.QueueChanged(p.Queue(), p.head)
	}
}

// Push appends item; if the queue was empty, playback of it starts
// immediately (spec §4.5).
func (p *Player) Push(ctx context.Context, item QueueItem) {
	wasEmpty := len(p.queue) == 0
	p.queue = append(p.queue, item)
	p.notifyQueue()
	if wasEmpty {
		p.play(ctx, 0)
	}
}

// Remove deletes the entry at idx and adjusts head so the currently
// playing item continues where possible (spec §4.5, §8 "Remove adjusts
// head correctly").
func (p *Player) Remove(ctx context.Context, idx int) {
	if idx < 0 || idx >= len(p.queue) {
		return
	}
	wasHead := idx == p.head
	p.queue = append(p.queue[:idx], p.queue[idx+1:]...)

	switch {
	case len(p.queue) == 0:
		p.head = 0
		p.stopStream()
	case wasHead:
		if p.head >= len(p.queue) {
			p.head = 0
		}
		p.play(ctx, p.head)
	case idx < p.head:
		p.head--
	}
	p.notifyQueue()
}

// Shuffle permutes the queue uniformly, resets head to 0, and plays it.
func (p *Player) Shuffle(ctx context.Context) {
	rand.Shuffle(len(p.queue), func(i, j int) { p.queue[i], p.queue[j] = p.queue[j], p.queue[i] })
	p.head = 0
	p.notifyQueue()
	if len(p.queue) > 0 {
		p.play(ctx, 0)
	}
}

// Move reorders the queue, tracking head so the currently-playing item
// remains playing regardless of how positions around it move (spec §4.5,
// §8 "Move preserves playing item").
func (p *Player) Move(old, new int) {
	if old == new || old < 0 || old >= len(p.queue) || new < 0 || new >= len(p.queue) {
		return
	}
	item := p.queue[old]
	p.queue = append(p.queue[:old], p.queue[old+1:]...)

	insertAt := new
	if new > old {
		insertAt--
	}
	tail := append([]QueueItem{}, p.queue[insertAt:]...)
	p.queue = append(append(p.queue[:insertAt], item), tail...)

	switch {
	case old == p.head:
		p.head = insertAt
	default:
		headIdx := p.head
		if old < headIdx {
			headIdx--
		}
		if insertAt <= headIdx {
			headIdx++
		}
		p.head = headIdx
	}
	p.notifyQueue()
}

// PlayNext advances head with wrap-around (within the loop range, if
// configured) and plays.
func (p *Player) PlayNext(ctx context.Context) {
	if len(p.queue) == 0 {
		return
	}
	p.play(ctx, p.clampNav(p.wrapIndex(p.head+1)))
}

// PlayPrev retreats head with wrap-around and plays.
func (p *Player) PlayPrev(ctx context.Context) {
	if len(p.queue) == 0 {
		return
	}
	p.play(ctx, p.clampNav(p.wrapIndex(p.head-1)))
}

// PlaySelected clamps i into [0,len-1]; if i==head and !allowSelf it is a
// no-op, otherwise it plays i (spec §4.5).
func (p *Player) PlaySelected(ctx context.Context, i int, allowSelf bool) {
	if len(p.queue) == 0 {
		return
	}
	if i < 0 {
		i = 0
	}
	if i >= len(p.queue) {
		i = len(p.queue) - 1
	}
	i = p.clampNav(i)
	if i == p.head && !allowSelf {
		return
	}
	p.play(ctx, i)
}

func (p *Player) wrapIndex(i int) int {
	n := len(p.queue)
	if n == 0 {
		return 0
	}
	return ((i % n) + n) % n
}

// clampNav applies the optional loop-range clamp to a navigation target,
// wrapping at the range's own boundaries when one is configured (spec §9
// open question resolution, see DESIGN.md).
func (p *Player) clampNav(i int) int {
	if p.loopRange == nil {
		return i
	}
	lo, hi := p.loopRange.Start, p.loopRange.End
	if lo > hi || hi >= len(p.queue) {
		return i
	}
	if i < lo || i > hi {
		span := hi - lo + 1
		return lo + ((i-lo)%span+span)%span
	}
	return i
}

// SetVolume clamps to [0,1] and pushes SetVolume to the processor.
func (p *Player) SetVolume(v float64) {
	p.volume = clamp01(v)
	p.pushControl(processor.ControlMsg{Kind: processor.CtlSetVolume, Volume: p.volume})
}

// SetState pushes SetState (Playing/Paused) to the processor.
func (p *Player) SetState(state processor.PlaybackState) {
	p.pushControl(processor.ControlMsg{Kind: processor.CtlSetState, State: state})
}

// SetProgress clamps to [0,1] and pushes SetProgress (a seek) to the
// processor.
func (p *Player) SetProgress(progress float64) {
	p.pushControl(processor.ControlMsg{Kind: processor.CtlSetProgress, Progress: clamp01(progress)})
}

func (p *Player) pushControl(msg processor.ControlMsg) {
	if p.ring == nil {
		return
	}
	p.ring.Push(msg)
}

// play starts playback of the item at idx: opens a fresh decoded stream
// and ring/processor, then opens the output device wired to it. The
// previous stream is dropped first — sequential close-then-open is
// required by some audio backends, which otherwise report "device busy"
// (spec §4.5, §5).
func (p *Player) play(ctx context.Context, idx int) {
	if idx < 0 || idx >= len(p.queue) {
		return
	}
	p.head = idx
	item := p.queue[idx]

	p.stopStream()

	stream, err := p.openStream(ctx, item, 0)
	if err != nil {
		p.reportError(err)
		return
	}

	p.ring = ringbuf.New[processor.ControlMsg](ringCapacity)
	p.proc = processor.New(p.ring, p.deviceCfg.PeriodFrames)
	p.proc.BindStream(stream)
	if p.recipient != nil {
		p.ring.Push(processor.ControlMsg{Kind: processor.CtlSetRecipient, Recipient: p.recipient})
	}
	p.ring.Push(processor.ControlMsg{Kind: processor.CtlSetVolume, Volume: p.volume})

	out, err := p.openDevice(ctx, p.proc.Process, p.reportError)
	if err != nil {
		stream.Close()
		p.reportError(err)
		return
	}
	p.stream = out
}

// stopStream drops the currently bound output stream and decoded stream,
// if any.
func (p *Player) stopStream() {
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	p.ring = nil
	p.proc = nil
}

// TryRecoverDevice re-opens the output device, rebuilds the stream for
// the current head item, and re-seeks to progress (spec §4.5, §4.6
// "TryRecoverDevice").
func (p *Player) TryRecoverDevice(ctx context.Context, progress float64) error {
	if len(p.queue) == 0 {
		return nil
	}
	item := p.queue[p.head]
	startFrame := uint64(0) // the stream itself interprets progress via Seek below
	stream, err := p.openStream(ctx, item, startFrame)
	if err != nil {
		return err
	}

	p.stopStream()

	p.ring = ringbuf.New[processor.ControlMsg](ringCapacity)
	p.proc = processor.New(p.ring, p.deviceCfg.PeriodFrames)
	p.proc.BindStream(stream)
	if p.recipient != nil {
		p.ring.Push(processor.ControlMsg{Kind: processor.CtlSetRecipient, Recipient: p.recipient})
	}
	p.ring.Push(processor.ControlMsg{Kind: processor.CtlSetVolume, Volume: p.volume})
	p.ring.Push(processor.ControlMsg{Kind: processor.CtlSetProgress, Progress: clamp01(progress)})

	out, err := p.openDevice(ctx, p.proc.Process, p.reportError)
	if err != nil {
		stream.Close()
		return err
	}
	p.stream = out
	return nil
}

func (p *Player) reportError(err error) {
	if err == nil {
		return
	}
	if p.errSink != nil {
		p.errSink.ReportStreamError(err)
	}
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
