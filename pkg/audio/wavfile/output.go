package wavfile

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// OutputContext records scheduled segments onto an in-memory timeline and
// writes it to a WAV file on Close. Its clock is the wall clock since
// creation.
type OutputContext struct {
	path  string
	rate  int
	start time.Time
	now   func() time.Time

	mu     sync.Mutex
	mix    []float32
	closed bool
	err    error
}

// Option configures an [OutputContext].
type Option func(*OutputContext)

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *OutputContext) { o.now = now }
}

// NewOutputContext returns an OutputContext that writes to path at
// [audio.PlaybackSampleRate]. An empty path discards the recording.
func NewOutputContext(path string, opts ...Option) *OutputContext {
	o := &OutputContext{path: path, rate: audio.PlaybackSampleRate, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	o.start = o.now()
	return o
}

// Format implements [audio.OutputContext].
func (o *OutputContext) Format() audio.Format { return audio.PlaybackFormat }

// CurrentTime implements [audio.OutputContext].
func (o *OutputContext) CurrentTime() time.Duration { return o.now().Sub(o.start) }

// Schedule implements [audio.OutputContext]. Overlapping segments are summed.
func (o *OutputContext) Schedule(samples []float32, at time.Duration) error {
	at = max(at, o.CurrentTime())
	offset := int(int64(at) * int64(o.rate) / int64(time.Second))

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrContextClosed
	}
	if need := offset + len(samples); need > len(o.mix) {
		o.mix = append(o.mix, make([]float32, need-len(o.mix))...)
	}
	for i, s := range samples {
		o.mix[offset+i] += s
	}
	return nil
}

// Close implements [audio.OutputContext]. The recording is written once; later
// calls return the result of the first.
func (o *OutputContext) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return o.err
	}
	o.closed = true
	if o.path == "" {
		return nil
	}
	data, err := Encode(audio.FloatToPCM16(o.mix), audio.PlaybackFormat)
	if err != nil {
		o.err = err
		return err
	}
	if err := os.WriteFile(o.path, data, 0o644); err != nil {
		o.err = fmt.Errorf("wavfile: write %s: %w", o.path, err)
	}
	return o.err
}

// Recorded returns a copy of the mixed timeline so far.
func (o *OutputContext) Recorded() []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]float32, len(o.mix))
	copy(out, o.mix)
	return out
}
