// Package device provides the hardware [audio.Microphone] and
// [audio.OutputContext] implementations. Capture uses miniaudio through
// malgo; output uses oto. Both require cgo; without it the constructors
// return [ErrUnsupported].
package device

import (
	"errors"
	"time"
)

// ErrUnsupported is returned when the binary was built without audio device
// support.
var ErrUnsupported = errors.New("audio/device: built without cgo, no audio devices available")

// outputBufferSize is the oto ring buffer length. At 24 kHz mono PCM16 this
// is roughly 100 ms.
const outputBufferSize = 100 * time.Millisecond

// captureBuffer is the number of frames a track buffers before dropping.
const captureBuffer = 32
