//go:build cgo

package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// Microphone captures from the system default input device.
type Microphone struct{}

// NewMicrophone returns a Microphone backed by miniaudio.
func NewMicrophone() *Microphone { return &Microphone{} }

// Open implements [audio.Microphone]. miniaudio converts to the requested
// format internally, so the returned track always reports want.
func (m *Microphone) Open(ctx context.Context, want audio.Format, frameSize int) (audio.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio/device: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(want.Channels)
	cfg.SampleRate = uint32(want.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	t := &captureTrack{
		mctx:   mctx,
		format: want,
		framer: newFramer(frameSize, want.Channels, captureBuffer),
	}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			t.framer.writeF32LE(input)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio/device: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio/device: start capture: %w", err)
	}
	t.dev = dev
	slog.Debug("audio/device: capture started", "format", want.String(), "frame_size", frameSize)
	return t, nil
}

type captureTrack struct {
	mctx   *malgo.AllocatedContext
	dev    *malgo.Device
	format audio.Format
	framer *framer
	once   sync.Once
}

func (t *captureTrack) Frames() <-chan []float32 { return t.framer.out }

func (t *captureTrack) Format() audio.Format { return t.format }

func (t *captureTrack) Stop() {
	t.once.Do(func() {
		_ = t.dev.Stop()
		t.dev.Uninit()
		_ = t.mctx.Uninit()
		t.mctx.Free()
		t.framer.close()
		if n := t.framer.droppedFrames(); n > 0 {
			slog.Warn("audio/device: capture frames dropped", "count", n)
		}
	})
}
