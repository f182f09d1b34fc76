// Package output drives the platform output device via an external
// ffmpeg process, the same PulseAudio/AudioToolbox/DirectSound selection
// the teacher's internal/player/ffmpeg package uses for its single-device
// CLI player, generalized to pull fixed-size periods from a processor
// instead of streaming a whole file.
package output

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"

	"zonecast/internal/apperror"
	"zonecast/internal/audio/processor"
	"zonecast/internal/logx"
)

// Config mirrors the teacher's player.Config shape.
type Config struct {
	Device       string
	SampleRate   int
	Channels     int
	PeriodFrames int
}

func DefaultConfig() Config {
	return Config{Device: "default", SampleRate: 48000, Channels: 2, PeriodFrames: 1024}
}

// Stream owns one running output device process. Only one Stream may be
// open per device at a time; the player is responsible for closing the
// previous Stream before opening a new one (spec §4.5/§5).
type Stream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	done   chan struct{}
	log    *logx.Logger
}

// Start opens the device and begins pulling periods from pull until the
// stream is closed or a write fails. onError is invoked at most once,
// from the pulling goroutine, on any device-level failure (spec §4.5:
// "reported via the player's error callback").
func Start(ctx context.Context, cfg Config, pull func([]float32) processor.StreamState, onError func(error)) (*Stream, error) {
	cctx, cancel := context.WithCancel(ctx)
	cmd := buildCommand(cctx, cfg)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, apperror.Wrap(apperror.KindAPI, err, "open output pipe")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, apperror.Wrap(apperror.KindAPI, err, "start output device process")
	}

	s := &Stream{cmd: cmd, stdin: stdin, cancel: cancel, done: make(chan struct{}), log: logx.New("Output")}
	// Close cancels cctx before tearing the process down, so a write failure
	// seen after that is the stream being dropped, not a device failure.
	report := func(err error) {
		if onError != nil && cctx.Err() == nil {
			onError(err)
		}
	}
	go s.pumpLoop(cfg, pull, report)
	return s, nil
}

func (s *Stream) pumpLoop(cfg Config, pull func([]float32) processor.StreamState, onError func(error)) {
	defer close(s.done)

	buf := make([]float32, cfg.PeriodFrames*2)
	raw := make([]byte, len(buf)*4)

	for {
		pull(buf)

		for i, v := range buf {
			binary.LittleEndian.PutUint32(raw[i*4:i*4+4], math.Float32bits(v))
		}
		if _, err := s.stdin.Write(raw); err != nil {
			if onError != nil {
				onError(apperror.Wrap(apperror.KindAPI, err, "output device write failed"))
			}
			return
		}
	}
}

// Close drops the stream: it cancels the process context, closes stdin and
// kills ffmpeg at once, without waiting for buffered audio to flush, then
// waits for the pump goroutine and the process to exit. The write failure
// this causes in the pump is not reported to onError.
func (s *Stream) Close() error {
	s.cancel()
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	<-s.done
	s.cmd.Wait()
	return nil
}

func buildCommand(ctx context.Context, cfg Config) *exec.Cmd {
	channels := fmt.Sprintf("%d", cfg.Channels)
	sampleRate := fmt.Sprintf("%d", cfg.SampleRate)
	inputArgs := []string{"-f", "f32le", "-ar", sampleRate, "-ac", channels, "-i", "pipe:0"}

	switch runtime.GOOS {
	case "linux":
		return exec.CommandContext(ctx, "ffmpeg", append(inputArgs, "-f", "pulse", cfg.Device)...)
	case "darwin":
		return exec.CommandContext(ctx, "ffmpeg", append(inputArgs, "-f", "audiotoolbox", cfg.Device)...)
	default:
		return exec.CommandContext(ctx, "ffmpeg", append(inputArgs, "-f", "dshow", "audio="+cfg.Device)...)
	}
}
