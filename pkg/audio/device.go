// Package audio defines the audio types, PCM codec, and device abstractions
// used by a livevoice session.
//
// The device layer is split into two narrow interfaces:
//
//   - [Microphone] grants access to a capture [Track] that delivers float
//     sample frames at a fixed rate.
//   - [OutputContext] is an output clock plus a scheduler that plays decoded
//     segments at a requested start time.
//
// Hardware implementations live in audio/device; audio/wavfile provides a
// headless file-backed pair, and audio/mock provides test doubles.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [Microphone.Open] when the environment
// refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrContextClosed is returned by [OutputContext.Schedule] after Close.
var ErrContextClosed = errors.New("audio: output context closed")

// Microphone is the entry point for audio capture.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Open acquires the capture device and starts delivering frames of
	// frameSize samples per channel. The requested format is a hint; the
	// returned Track reports the format actually delivered.
	//
	// Access is granted or denied atomically: on failure no Track exists and
	// nothing needs releasing.
	Open(ctx context.Context, want Format, frameSize int) (Track, error)
}

// Track is a live capture stream obtained from [Microphone.Open].
type Track interface {
	// Frames returns the channel on which captured frames arrive, in capture
	// order. Samples are interleaved floats in [-1, 1]. The channel is closed
	// after Stop or when the device fails.
	Frames() <-chan []float32

	// Format returns the sample rate and channel count of delivered frames.
	Format() Format

	// Stop releases the device. It is safe to call Stop more than once.
	Stop()
}

// OutputContext is an output device with its own clock, modelled on a
// browser AudioContext: segments are scheduled at absolute positions on the
// context timeline rather than written to a stream.
//
// Implementations must be safe for concurrent use.
type OutputContext interface {
	// Format returns the sample rate and channel count the context renders at.
	Format() Format

	// CurrentTime returns the position of the context clock. It starts at
	// zero when the context is created and advances in real time.
	CurrentTime() time.Duration

	// Schedule queues mono float samples for playback starting at the given
	// timeline position. A start time in the past plays immediately.
	Schedule(samples []float32, at time.Duration) error

	// Close stops output and releases the device. It is safe to call Close
	// more than once.
	Close() error
}
