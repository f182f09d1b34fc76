// Package decode implements processor.DecodedStream over an external
// ffmpeg process, the way the teacher shells out to ffmpeg for every
// other transcoding need (internal/encoder/ffmpeg.go). It stands in for
// the original's creek::ReadDiskStream / cpal decode path (spec §2
// "audio decode/transcode... kept exactly as the teacher does it").
package decode

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"

	"zonecast/internal/apperror"
	"zonecast/internal/logx"
)

// decodeGen is one fork of the underlying ffmpeg process: a fresh pipe
// plus its reader, published atomically so Read/Ready/Playhead never
// race the background restart a seek triggers (spec §4.3, §9: the
// real-time callback must never block, allocate, log, or take a lock).
type decodeGen struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	reader *bufio.Reader
}

// Stream decodes a wav file to raw float32 PCM via ffmpeg, frame by
// frame, on demand from the audio callback. creek's ReadDiskStream seeks
// without blocking by prefetching on its own thread; ffmpeg has no
// equivalent in-place seek, so Seek here instead forks a replacement
// process on a background goroutine and atomically swaps it in once its
// first byte is available — the real-time Process path only ever loads
// the current generation, never forks or waits on I/O itself.
type Stream struct {
	path       string
	sampleRate int
	channels   int
	numFrames  uint64 // mutated only by Read, the single real-time consumer

	gen      atomic.Pointer[decodeGen]
	ready    atomic.Bool
	playhead atomic.Uint64

	closeMu sync.Mutex // guards generation handoff/cleanup; never touched by Read/Ready/Playhead/Seek
	closed  bool

	raw []byte // pre-allocated scratch for Read, sized to maxFrames*channels*4
	log *logx.Logger
}

// Open starts decoding path from frame 0. numFrames is the expected
// total frame count (derived from duration_ms * sampleRate at the
// caller), used only to compute progress and detect exhaustion.
// maxFrames bounds every future Read call so Read never allocates.
func Open(ctx context.Context, path string, sampleRate, channels int, numFrames uint64, maxFrames int) (*Stream, error) {
	s := &Stream{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
		numFrames:  numFrames,
		raw:        make([]byte, maxFrames*channels*4),
		log:        logx.New("Decode"),
	}
	if err := s.restart(ctx, 0); err != nil {
		return nil, err
	}
	return s, nil
}

// restart forks a fresh ffmpeg at startFrame, waits for its first byte,
// and publishes it as the new current generation, closing whichever
// generation it replaced. Called synchronously from Open (the caller's
// own goroutine, before any Process call exists) and from the background
// goroutine a seek spawns — never from Process itself.
func (s *Stream) restart(ctx context.Context, startFrame uint64) error {
	cctx, cancel := context.WithCancel(ctx)

	args := []string{"-loglevel", "warning"}
	if startFrame > 0 {
		startSec := float64(startFrame) / float64(s.sampleRate)
		args = append(args, "-ss", fmt.Sprintf("%.3f", startSec))
	}
	args = append(args,
		"-i", s.path,
		"-f", "f32le",
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-ac", fmt.Sprintf("%d", s.channels),
		"pipe:1",
	)

	cmd := exec.CommandContext(cctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return apperror.Wrap(apperror.KindAPI, err, "open decode pipe for %s", s.path)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return apperror.Wrap(apperror.KindAPI, err, "start ffmpeg decode for %s", s.path)
	}

	next := &decodeGen{cmd: cmd, cancel: cancel, reader: bufio.NewReaderSize(stdout, len(s.raw))}

	// A successful Peek means ffmpeg has produced at least one byte.
	ready := false
	if _, err := next.reader.Peek(1); err == nil {
		ready = true
	}

	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		s.closeGen(next)
		return nil
	}
	s.playhead.Store(startFrame)
	prev := s.gen.Swap(next)
	s.ready.Store(ready)
	s.closeMu.Unlock()

	if prev != nil {
		s.closeGen(prev)
	}
	return nil
}

func (s *Stream) closeGen(g *decodeGen) {
	g.cancel()
	if g.cmd != nil && g.cmd.Process != nil {
		g.cmd.Process.Kill()
		g.cmd.Wait()
	}
}

func (s *Stream) Ready() bool       { return s.ready.Load() }
func (s *Stream) Channels() int     { return s.channels }
func (s *Stream) NumFrames() uint64 { return s.numFrames }
func (s *Stream) Playhead() uint64  { return s.playhead.Load() }

func (s *Stream) Read(chBufs [][]float32) (int, error) {
	gen := s.gen.Load()
	if gen == nil {
		return 0, nil
	}

	frames := len(chBufs[0])
	bytesPerFrame := s.channels * 4
	need := frames * bytesPerFrame
	if need > len(s.raw) {
		need = len(s.raw)
		frames = need / bytesPerFrame
	}

	n, err := io.ReadFull(gen.reader, s.raw[:need])
	framesRead := n / bytesPerFrame

	for c := 0; c < s.channels; c++ {
		for i := 0; i < framesRead; i++ {
			off := (i*s.channels + c) * 4
			bits := binary.LittleEndian.Uint32(s.raw[off : off+4])
			chBufs[c][i] = math.Float32frombits(bits)
		}
	}

	s.playhead.Add(uint64(framesRead))
	if err != nil {
		// Source exhausted (EOF/ErrUnexpectedEOF): force Playhead to
		// report the stream as finished regardless of the estimated
		// NumFrames, which is only as accurate as yt-dlp's duration.
		newPlayhead := s.numFrames
		if newPlayhead == 0 {
			newPlayhead = 1
			s.numFrames = 1
		}
		s.playhead.Store(newPlayhead)
	}
	return framesRead, nil
}

// Seek reports a cache miss and kicks off a background restart at frame
// without waiting for it: the real-time caller gets an immediate answer
// and Ready reports false until the replacement generation's first byte
// lands, exactly like creek's seek-then-poll-is_ready contract.
func (s *Stream) Seek(frame uint64) (bool, error) {
	s.ready.Store(false)
	go func() {
		if err := s.restart(context.Background(), frame); err != nil {
			s.log.Warn("seek restart for %s: %v", s.path, err)
		}
	}()
	return true, nil
}

func (s *Stream) Close() error {
	s.closeMu.Lock()
	s.closed = true
	gen := s.gen.Load()
	s.closeMu.Unlock()
	if gen != nil {
		s.closeGen(gen)
	}
	return nil
}
