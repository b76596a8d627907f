// Package mock provides in-memory mock implementations of the [audio.Microphone],
// [audio.Track], and [audio.OutputContext] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	track := mock.NewTrack(audio.CaptureFormat, 4)
//	mic := &mock.Microphone{OpenResult: track}
//	out := mock.NewOutputContext(audio.PlaybackFormat)
//	track.Push([]float32{0.5, -0.5})
//	out.Advance(100 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Microphone.Open] invocation.
type OpenCall struct {
	// Want is the format hint passed to Open.
	Want audio.Format
	// FrameSize is the frameSize argument passed to Open.
	FrameSize int
}

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenResult is the [audio.Track] returned by Open. When nil and OpenError
	// is nil, Open returns a fresh [Track] in the requested format.
	OpenResult audio.Track

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, want audio.Format, frameSize int) (audio.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, OpenCall{Want: want, FrameSize: frameSize})
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	if m.OpenResult == nil {
		m.OpenResult = NewTrack(want, 16)
	}
	return m.OpenResult, nil
}

// OpenCallCount returns how many times Open was called.
func (m *Microphone) OpenCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock implementation of [audio.Track]. Frames are injected with
// [Track.Push] and delivered on the channel returned by Frames.
type Track struct {
	mu      sync.Mutex
	format  audio.Format
	frames  chan []float32
	stopped bool

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewTrack creates a Track reporting the given format whose frame channel
// buffers up to buffer frames.
func NewTrack(format audio.Format, buffer int) *Track {
	return &Track{format: format, frames: make(chan []float32, buffer)}
}

// Frames implements [audio.Track].
func (t *Track) Frames() <-chan []float32 { return t.frames }

// Format implements [audio.Track].
func (t *Track) Format() audio.Format { return t.format }

// Stop implements [audio.Track]. The frame channel is closed on the first call.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountStop++
	if !t.stopped {
		t.stopped = true
		close(t.frames)
	}
}

// Push delivers a frame to the consumer. It reports false when the track is
// stopped or the buffer is full.
func (t *Track) Push(samples []float32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	select {
	case t.frames <- samples:
		return true
	default:
		return false
	}
}

// Stopped reports whether Stop has been called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// StopCallCount returns how many times Stop was called.
func (t *Track) StopCallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCountStop
}

// ─── OutputContext ────────────────────────────────────────────────────────────

// ScheduleCall records the arguments of a single [OutputContext.Schedule] invocation.
type ScheduleCall struct {
	// Samples is the sample slice passed to Schedule.
	Samples []float32
	// At is the requested start time.
	At time.Duration
}

// OutputContext is a mock implementation of [audio.OutputContext] driven by a
// manual clock. The clock only moves when the test calls [OutputContext.Advance]
// or [OutputContext.SetTime].
type OutputContext struct {
	mu     sync.Mutex
	format audio.Format
	now    time.Duration
	closed bool

	// ScheduleError, when non-nil, is returned by every Schedule call.
	ScheduleError error

	// CloseError is returned by Close.
	CloseError error

	// ScheduleCalls records all successful Schedule invocations.
	ScheduleCalls []ScheduleCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	notify chan struct{}
}

// NewOutputContext creates an OutputContext in the given format with its
// clock at zero.
func NewOutputContext(format audio.Format) *OutputContext {
	return &OutputContext{format: format, notify: make(chan struct{}, 1)}
}

// Format implements [audio.OutputContext].
func (o *OutputContext) Format() audio.Format { return o.format }

// CurrentTime implements [audio.OutputContext].
func (o *OutputContext) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [audio.OutputContext].
func (o *OutputContext) Schedule(samples []float32, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrContextClosed
	}
	if o.ScheduleError != nil {
		return o.ScheduleError
	}
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{Samples: samples, At: at})
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close implements [audio.OutputContext].
func (o *OutputContext) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	o.closed = true
	return o.CloseError
}

// Advance moves the clock forward by d.
func (o *OutputContext) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// SetTime moves the clock to t.
func (o *OutputContext) SetTime(t time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

// Scheduled returns a copy of the recorded Schedule calls.
func (o *OutputContext) Scheduled() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduleCall, len(o.ScheduleCalls))
	copy(out, o.ScheduleCalls)
	return out
}

// Closed reports whether Close has been called.
func (o *OutputContext) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// WaitScheduled blocks until at least n Schedule calls have been recorded or
// timeout elapses, and reports whether the count was reached.
func (o *OutputContext) WaitScheduled(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		o.mu.Lock()
		got := len(o.ScheduleCalls)
		o.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-o.notify:
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}
