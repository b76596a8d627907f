// Package session implements a real-time duplex voice session: microphone
// capture is encoded and streamed to a remote speech-to-speech endpoint while
// the synthesised reply is scheduled for gapless playback.
//
// A [Session] serialises every lifecycle event through a single event loop
// goroutine, which alone mutates the session [State]. The [Capture], [Client],
// and [Playback] components it wires together only report events upward.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// DefaultConnectTimeout bounds the handshake when [Config.ConnectTimeout] is
// zero.
const DefaultConnectTimeout = 15 * time.Second

// OutputFactory opens an output audio context. It is called once per session.
type OutputFactory func() (audio.OutputContext, error)

// Config configures a [Session].
type Config struct {
	// ID labels log lines. Optional.
	ID string

	// Provider is the remote voice endpoint. Required.
	Provider s2s.Provider

	// ProviderName labels metrics and spans.
	ProviderName string

	// Microphone supplies the capture track. Required.
	Microphone audio.Microphone

	// Output opens the playback context. Required.
	Output OutputFactory

	// Voice, Instructions and Transcripts are sent in the handshake.
	Voice        string
	Instructions string
	Transcripts  bool

	// FrameSize is the capture frame length in samples. Defaults to
	// [DefaultFrameSize].
	FrameSize int

	// ConnectTimeout bounds the handshake. Defaults to
	// [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Hooks. They run on the session's event loop and must not block.
	// [Session.Close] may be called from any hook; from OnStatusChange or
	// OnTranscript it only requests the close, which the loop applies once
	// the hook returns.

	// OnStatusChange is called after every state transition.
	OnStatusChange func(State)

	// OnClosed is called exactly once, after teardown, when the session
	// reaches a terminal state.
	OnClosed func()

	// OnTranscript receives transcript fragments when Transcripts is set.
	OnTranscript func(s2s.Transcript)
}

type eventKind int

const (
	evOpen eventKind = iota
	evDeviceFailed
	evHandshakeFailed
	evTransportError
	evRemoteClose
	evUserClose
	evTranscript
)

type event struct {
	kind       eventKind
	err        error
	transcript s2s.Transcript
}

// Session is one user-initiated voice session.
//
// All exported methods are safe for concurrent use.
type Session struct {
	cfg     Config
	metrics *observe.Metrics
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events chan event
	done   chan struct{}
	muted  atomic.Bool

	// inHook is set while a non-terminal hook runs on the loop goroutine.
	inHook       atomic.Bool
	closePending atomic.Bool

	startOnce    sync.Once
	teardownOnce sync.Once

	mu        sync.Mutex
	state     State
	err       error
	tornDown  bool
	counted   bool
	startedAt time.Time
	span      trace.Span // from Start until teardown

	// Resources acquired by open, released by teardown. Guarded by mu.
	track    audio.Track
	out      audio.OutputContext
	playback *Playback
	client   *Client
	capture  *Capture
}

// New returns a Session in [StateConnecting] and starts its event loop.
// Nothing is acquired until [Session.Start].
func New(cfg Config) *Session {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(observe.WithSession(context.Background(), cfg.ID, cfg.ProviderName))
	s := &Session{
		cfg:     cfg,
		metrics: m,
		log:     observe.Logger(ctx),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan event, 32),
		done:    make(chan struct{}),
		state:   StateConnecting,
	}
	go s.loop()
	return s
}

// Start acquires the microphone and output context, then connects to the
// remote endpoint in the background. Progress is reported through
// OnStatusChange. Cancelling ctx closes the session.
//
// Start returns [ErrAlreadyConnected] on a second call and [ErrClosed] if
// the session has already ended.
func (s *Session) Start(ctx context.Context) error {
	first := false
	s.startOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyConnected
	}
	if s.State().Terminal() {
		return ErrClosed
	}

	// Child of the caller's span, if any. It ends at teardown.
	_, span := observe.StartSpan(observe.WithSession(ctx, s.cfg.ID, s.cfg.ProviderName), "session")
	if !s.adopt(func() {
		s.startedAt = time.Now()
		s.span = span
	}) {
		span.End()
		return ErrClosed
	}

	stop := context.AfterFunc(ctx, func() { s.post(event{kind: evUserClose}) })
	go func() {
		<-s.done
		stop()
	}()
	go s.open()
	return nil
}

// Close ends the session and runs teardown if it has not run yet. It waits
// for teardown to finish and is safe to call any number of times. Called
// while OnStatusChange or OnTranscript is running, it returns without
// waiting and the close is applied when the hook returns.
func (s *Session) Close() {
	if s.inHook.Load() {
		s.closePending.Store(true)
		return
	}
	s.post(event{kind: evUserClose})
	<-s.done
}

// ToggleMute flips the mute flag and returns the new value. While muted,
// captured frames are dropped before they are encoded. Playback is
// unaffected.
func (s *Session) ToggleMute() bool {
	for {
		old := s.muted.Load()
		if s.muted.CompareAndSwap(old, !old) {
			s.log.Info("session: mute toggled", "muted", !old)
			return !old
		}
	}
}

// Muted reports whether capture is muted.
func (s *Session) Muted() bool { return s.muted.Load() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal error that moved the session to [StateErrored], or
// nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has reached a terminal state and torn
// down its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// post delivers ev to the event loop. Events after the loop has exited are
// discarded.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) loop() {
	for {
		ev := <-s.events
		if s.handle(ev) {
			return
		}
		if s.closePending.Swap(false) && s.handle(event{kind: evUserClose}) {
			return
		}
	}
}

// hook runs fn with inHook set so that a Close from inside fn does not
// wait on the loop that is running it.
func (s *Session) hook(fn func()) {
	s.inHook.Store(true)
	defer s.inHook.Store(false)
	fn()
}

// next returns the state ev leads to from cur, and false when ev is ignored.
func next(cur State, ev eventKind) (State, bool) {
	switch cur {
	case StateConnecting:
		switch ev {
		case evOpen:
			return StateConnected, true
		case evDeviceFailed, evHandshakeFailed, evTransportError, evRemoteClose:
			return StateErrored, true
		case evUserClose:
			return StateClosed, true
		}
	case StateConnected:
		switch ev {
		case evDeviceFailed, evTransportError:
			return StateErrored, true
		case evRemoteClose, evUserClose:
			return StateClosed, true
		}
	}
	return cur, false
}

// handle applies one event and reports whether the loop should exit.
func (s *Session) handle(ev event) bool {
	if ev.kind == evTranscript {
		if s.cfg.OnTranscript != nil && !s.State().Terminal() {
			s.hook(func() { s.cfg.OnTranscript(ev.transcript) })
		}
		return false
	}

	s.mu.Lock()
	from := s.state
	to, ok := next(from, ev.kind)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.state = to
	if to == StateErrored {
		s.err = ev.err
		if s.err == nil {
			s.err = fmt.Errorf("%w: connection closed before open", ErrHandshake)
		}
	}
	if to == StateConnected {
		s.counted = true
	}
	s.mu.Unlock()

	s.log.Info("session: state change", "from", from, "to", to)
	if to == StateConnected {
		s.metrics.ActiveSessions.Add(s.ctx, 1)
	}

	if !to.Terminal() {
		if s.cfg.OnStatusChange != nil {
			s.hook(func() { s.cfg.OnStatusChange(to) })
		}
		return false
	}

	if to == StateErrored {
		s.log.Warn("session: failed", "err", s.Err())
	}
	s.teardown()
	close(s.done)

	if s.cfg.OnStatusChange != nil {
		s.cfg.OnStatusChange(to)
	}
	if s.cfg.OnClosed != nil {
		s.cfg.OnClosed()
	}
	return true
}

// open acquires devices and connects. It runs on its own goroutine; every
// resource is handed to the session under mu and released immediately if
// teardown has already run.
func (s *Session) open() {
	track, err := s.cfg.Microphone.Open(s.ctx, audio.CaptureFormat, s.cfg.FrameSize)
	if err != nil {
		s.post(event{kind: evDeviceFailed, err: fmt.Errorf("%w: microphone: %w", ErrDeviceUnavailable, err)})
		return
	}
	if !s.adopt(func() { s.track = track }) {
		track.Stop()
		return
	}

	out, err := s.cfg.Output()
	if err != nil {
		s.post(event{kind: evDeviceFailed, err: fmt.Errorf("%w: output: %w", ErrDeviceUnavailable, err)})
		return
	}
	if !s.adopt(func() { s.out = out }) {
		_ = out.Close()
		return
	}

	playback := NewPlayback(out,
		WithPlaybackMetrics(s.metrics),
		WithInputRate(s.cfg.Provider.Capabilities().OutputFormat.SampleRate),
	)
	client := NewClient(ClientConfig{
		Provider:     s.cfg.Provider,
		ProviderName: s.cfg.ProviderName,
		Session: s2s.SessionConfig{
			Voice:        s.cfg.Voice,
			Instructions: s.cfg.Instructions,
			Transcripts:  s.cfg.Transcripts,
		},
		Metrics: s.metrics,
		OnOpen:  func() { s.post(event{kind: evOpen}) },
		OnAudio: playback.Enqueue,
		OnTranscript: func(t s2s.Transcript) {
			s.post(event{kind: evTranscript, transcript: t})
		},
		OnError: func(err error) { s.post(event{kind: evTransportError, err: err}) },
		OnClose: func() { s.post(event{kind: evRemoteClose}) },
	})
	capture := NewCapture(track, CaptureConfig{
		Muted:   s.muted.Load,
		Send:    client.SendFrame,
		Metrics: s.metrics,
		OnDeviceLost: func() {
			s.post(event{kind: evDeviceFailed, err: fmt.Errorf("%w: capture track ended", ErrDeviceUnavailable)})
		},
	})
	if !s.adopt(func() {
		s.playback = playback
		s.client = client
		s.capture = capture
	}) {
		playback.Close()
		_ = out.Close()
		return
	}
	capture.Start(s.ctx)

	s.mu.Lock()
	connectCtx := trace.ContextWithSpan(s.ctx, s.span)
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(connectCtx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		s.post(event{kind: evHandshakeFailed, err: err})
	}
}

// adopt runs fn under mu unless teardown has already run.
func (s *Session) adopt(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return false
	}
	fn()
	return true
}

// teardown releases everything open has acquired so far. It runs at most
// once, on the event loop, and never blocks on the network.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.tornDown = true
		capture, track, client := s.capture, s.track, s.client
		playback, out := s.playback, s.out
		counted := s.counted
		startedAt := s.startedAt
		span := s.span
		state, err := s.state, s.err
		s.mu.Unlock()

		s.cancel()
		if capture != nil {
			capture.Stop()
		}
		if track != nil {
			track.Stop()
		}
		if client != nil {
			client.Disconnect()
		}
		if playback != nil {
			playback.Close()
		}
		if out != nil {
			if err := out.Close(); err != nil {
				s.log.Warn("session: close output", "err", err)
			}
		}
		if counted {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}

		attrs := []any{"state", state}
		if !startedAt.IsZero() {
			attrs = append(attrs, "duration", time.Since(startedAt).Round(time.Millisecond))
		}
		s.log.Info("session: torn down", attrs...)

		if span != nil {
			span.SetAttributes(attribute.String("session.state", state.String()))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, state.String())
			}
			span.End()
		}
	})
}
