//go:build !cgo

package device

import (
	"context"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// Microphone is a stub when cgo is disabled.
type Microphone struct{}

// NewMicrophone returns a Microphone whose Open always fails.
func NewMicrophone() *Microphone { return &Microphone{} }

// Open returns [ErrUnsupported].
func (m *Microphone) Open(context.Context, audio.Format, int) (audio.Track, error) {
	return nil, ErrUnsupported
}

// OutputContext is a stub when cgo is disabled.
type OutputContext struct{}

// NewOutputContext returns [ErrUnsupported].
func NewOutputContext() (*OutputContext, error) { return nil, ErrUnsupported }

// Format returns the playback format.
func (o *OutputContext) Format() audio.Format { return audio.PlaybackFormat }

// CurrentTime always returns zero.
func (o *OutputContext) CurrentTime() time.Duration { return 0 }

// Schedule returns [ErrUnsupported].
func (o *OutputContext) Schedule([]float32, time.Duration) error { return ErrUnsupported }

// Close is a no-op.
func (o *OutputContext) Close() error { return nil }
