package session

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
	audiomock "github.com/MrWong99/livevoice/pkg/audio/mock"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
	s2smock "github.com/MrWong99/livevoice/pkg/provider/s2s/mock"
)

// hooks records Session callbacks.
type hooks struct {
	mu          sync.Mutex
	states      []State
	closed      int
	transcripts []s2s.Transcript
	closedCh    chan struct{}
}

func (h *hooks) statuses() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.states)
}

func (h *hooks) closedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fixture bundles a Session with the mocks behind it.
type fixture struct {
	s        *Session
	mic      *audiomock.Microphone
	track    *audiomock.Track
	out      *audiomock.OutputContext
	provider *s2smock.Provider
	remote   *s2smock.Session
	hooks    *hooks
	reader   *sdkmetric.ManualReader
}

type fixtureOption func(*fixture, *Config)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	m, reader := newTestMetrics(t)
	f := &fixture{
		track:  audiomock.NewTrack(audio.CaptureFormat, 32),
		out:    audiomock.NewOutputContext(audio.PlaybackFormat),
		remote: s2smock.NewSession(),
		hooks:  &hooks{closedCh: make(chan struct{})},
		reader: reader,
	}
	f.mic = &audiomock.Microphone{OpenResult: f.track}
	f.provider = &s2smock.Provider{Session: f.remote}

	cfg := Config{
		ID:           "test",
		Provider:     f.provider,
		ProviderName: "mock",
		Microphone:   f.mic,
		Output:       func() (audio.OutputContext, error) { return f.out, nil },
		Voice:        "Zephyr",
		Instructions: "You are a helpful assistant.",
		Metrics:      m,
		OnStatusChange: func(s State) {
			f.hooks.mu.Lock()
			f.hooks.states = append(f.hooks.states, s)
			f.hooks.mu.Unlock()
		},
		OnClosed: func() {
			f.hooks.mu.Lock()
			f.hooks.closed++
			n := f.hooks.closed
			f.hooks.mu.Unlock()
			if n == 1 {
				close(f.hooks.closedCh)
			}
		},
		OnTranscript: func(tr s2s.Transcript) {
			f.hooks.mu.Lock()
			f.hooks.transcripts = append(f.hooks.transcripts, tr)
			f.hooks.mu.Unlock()
		},
	}
	for _, o := range opts {
		o(f, &cfg)
	}
	f.s = New(cfg)
	t.Cleanup(f.s.Close)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (f *fixture) waitState(t *testing.T, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return f.s.State() == want })
}

func (f *fixture) waitClosedHook(t *testing.T) {
	t.Helper()
	select {
	case <-f.hooks.closedCh:
	case <-time.After(waitTimeout):
		t.Fatal("OnClosed was not called")
	}
}

// assertTornDown checks that every acquired resource was released once.
func (f *fixture) assertTornDown(t *testing.T) {
	t.Helper()
	if !f.track.Stopped() {
		t.Error("microphone track not stopped")
	}
	if !f.out.Closed() {
		t.Error("output context not closed")
	}
	if got := f.out.CallCountClose; got != 1 {
		t.Errorf("output Close calls = %d, want 1", got)
	}
}

// ── Happy path ──────────────────────────────────────────────────────────────

func TestSession_ConnectStreamClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.waitState(t, StateConnected)

	// Upstream.
	f.track.Push([]float32{0.5, -0.5, 1, -1})
	waitFor(t, "frame sent", func() bool { return len(f.remote.Sent()) == 1 })
	got := f.remote.Sent()[0].Chunk
	want := audio.Int16ToBytes([]int16{16383, -16384, 32767, -32768})
	if !bytes.Equal(got, want) {
		t.Errorf("sent PCM = %v, want %v", got, want)
	}

	// Downstream.
	f.remote.EmitAudio(segment(2400))
	f.remote.EmitAudio(segment(2400))
	if !f.out.WaitScheduled(2, waitTimeout) {
		t.Fatal("inbound audio not scheduled")
	}
	if at := f.out.Scheduled()[1].At; at != 100*time.Millisecond {
		t.Errorf("second segment at %v, want 100ms", at)
	}

	f.s.Close()
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if err := f.s.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if got := f.hooks.statuses(); !slices.Equal(got, []State{StateConnected, StateClosed}) {
		t.Errorf("status changes = %v, want [connected closed]", got)
	}
	f.assertTornDown(t)
	if got := f.remote.CloseCalls(); got != 1 {
		t.Errorf("remote Close calls = %d, want 1", got)
	}

	cfg := f.provider.ConnectCalls[0].Cfg
	if cfg.Voice != "Zephyr" || cfg.Instructions == "" {
		t.Errorf("handshake config = %+v", cfg)
	}
	if got := f.mic.OpenCalls[0]; got.Want != audio.CaptureFormat || got.FrameSize != DefaultFrameSize {
		t.Errorf("microphone opened with %+v, want 16 kHz mono and %d samples", got, DefaultFrameSize)
	}
}

func TestSession_PlaybackFollowsProviderRate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture, _ *Config) {
		f.provider.ProviderCapabilities = s2s.Capabilities{OutputFormat: audio.CaptureFormat}
	})
	f.start(t)
	f.waitState(t, StateConnected)

	f.remote.EmitAudio(segment(1600))
	if !f.out.WaitScheduled(1, waitTimeout) {
		t.Fatal("inbound audio not scheduled")
	}
	if got := len(f.out.Scheduled()[0].Samples); got != 2400 {
		t.Errorf("scheduled %d samples, want 2400 after 16k to 24k resample", got)
	}

	f.s.Close()
	f.waitClosedHook(t)
}

func TestSession_CloseIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.waitState(t, StateConnected)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.s.Close()
		}()
	}
	wg.Wait()
	f.waitClosedHook(t)

	if got := f.hooks.closedCount(); got != 1 {
		t.Errorf("OnClosed calls = %d, want 1", got)
	}
	f.assertTornDown(t)
}

// ── Close before open ───────────────────────────────────────────────────────

func TestSession_CloseFromStatusHook(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture, cfg *Config) {
		record := cfg.OnStatusChange
		cfg.OnStatusChange = func(s State) {
			record(s)
			if s == StateConnected {
				f.s.Close()
			}
		}
	})
	f.start(t)
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if got := f.hooks.statuses(); !slices.Equal(got, []State{StateConnected, StateClosed}) {
		t.Errorf("status changes = %v, want [connected closed]", got)
	}
	f.assertTornDown(t)
}

func TestSession_CloseFromTranscriptHook(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture, cfg *Config) {
		cfg.Transcripts = true
		cfg.OnTranscript = func(s2s.Transcript) { f.s.Close() }
	})
	f.start(t)
	f.waitState(t, StateConnected)

	f.remote.EmitTranscript(s2s.Transcript{Speaker: s2s.SpeakerModel, Text: "Goodbye."})
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	f.assertTornDown(t)
}

func TestSession_CloseBeforeConnectResolves(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	f := newFixture(t, func(f *fixture, _ *Config) { f.provider.Block = block })
	f.start(t)
	waitFor(t, "handshake in flight", func() bool { return f.provider.ConnectCallCount() == 1 })

	// Frames captured during the handshake are dropped, not queued.
	f.track.Push([]float32{0.1})
	waitFor(t, "not_ready drop", func() bool {
		return counter(t, f.reader, "livevoice.frames.dropped", observe.DropNotReady) == 1
	})

	f.s.Close()
	f.waitClosedHook(t)
	close(block)

	if got := f.s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if got := f.hooks.statuses(); !slices.Equal(got, []State{StateClosed}) {
		t.Errorf("status changes = %v, want [closed]", got)
	}
	f.assertTornDown(t)

	if f.track.Push([]float32{0.2}) {
		t.Error("track accepted a frame after Close")
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(f.remote.Sent()); got != 0 {
		t.Errorf("frames sent = %d, want 0", got)
	}
	if got := f.hooks.closedCount(); got != 1 {
		t.Errorf("OnClosed calls = %d, want 1", got)
	}
}

func TestSession_CloseBeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.s.Close()
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if err := f.s.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if got := f.mic.OpenCallCount(); got != 0 {
		t.Errorf("microphone Open calls = %d, want 0", got)
	}
}

func TestSession_StartTwice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	if err := f.s.Start(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Start = %v, want ErrAlreadyConnected", err)
	}
	f.waitState(t, StateConnected)
	if got := f.provider.ConnectCallCount(); got != 1 {
		t.Errorf("provider Connect calls = %d, want 1", got)
	}
}

// ── Failures ────────────────────────────────────────────────────────────────

func TestSession_TransportErrorAfterOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.waitState(t, StateConnected)

	cause := errors.New("connection reset by peer")
	f.remote.End(cause)
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateErrored {
		t.Errorf("state = %v, want errored", got)
	}
	if err := f.s.Err(); !errors.Is(err, ErrTransport) || !errors.Is(err, cause) {
		t.Errorf("Err() = %v, want ErrTransport wrapping the cause", err)
	}
	if got := f.hooks.closedCount(); got != 1 {
		t.Errorf("OnClosed calls = %d, want 1", got)
	}
	f.assertTornDown(t)
}

func TestSession_RemoteCleanClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.waitState(t, StateConnected)

	f.remote.End(nil)
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if err := f.s.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	f.assertTornDown(t)
}

func TestSession_MicrophoneDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture, _ *Config) { f.mic.OpenError = audio.ErrPermissionDenied })
	f.start(t)
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateErrored {
		t.Errorf("state = %v, want errored", got)
	}
	if err := f.s.Err(); !errors.Is(err, ErrDeviceUnavailable) || !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("Err() = %v, want ErrDeviceUnavailable wrapping permission denied", err)
	}
	if got := f.provider.ConnectCallCount(); got != 0 {
		t.Errorf("provider Connect calls = %d, want 0", got)
	}
	if slices.Contains(f.hooks.statuses(), StateConnected) {
		t.Error("session reported connected after device failure")
	}
}

func TestSession_OutputUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(_ *fixture, cfg *Config) {
		cfg.Output = func() (audio.OutputContext, error) { return nil, errors.New("no output device") }
	})
	f.start(t)
	f.waitClosedHook(t)

	if err := f.s.Err(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Err() = %v, want ErrDeviceUnavailable", err)
	}
	if !f.track.Stopped() {
		t.Error("microphone track not released after partial init")
	}
}

func TestSession_HandshakeFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture, _ *Config) { f.provider.ConnectErr = errors.New("invalid api key") })
	f.start(t)
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateErrored {
		t.Errorf("state = %v, want errored", got)
	}
	if err := f.s.Err(); !errors.Is(err, ErrHandshake) {
		t.Errorf("Err() = %v, want ErrHandshake", err)
	}
	if got := f.hooks.statuses(); !slices.Equal(got, []State{StateErrored}) {
		t.Errorf("status changes = %v, want [errored]", got)
	}
	f.assertTornDown(t)
}

func TestSession_HandshakeTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture, cfg *Config) {
		f.provider.Block = make(chan struct{})
		cfg.ConnectTimeout = 20 * time.Millisecond
	})
	f.start(t)
	f.waitClosedHook(t)

	if err := f.s.Err(); !errors.Is(err, ErrHandshake) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Err() = %v, want ErrHandshake wrapping the deadline", err)
	}
}

func TestSession_MicrophoneLostMidSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.waitState(t, StateConnected)

	f.track.Stop()
	f.waitClosedHook(t)

	if err := f.s.Err(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Err() = %v, want ErrDeviceUnavailable", err)
	}
	if got := f.remote.CloseCalls(); got != 1 {
		t.Errorf("remote Close calls = %d, want 1", got)
	}
}

func TestSession_EventsAfterTerminalIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.waitState(t, StateConnected)

	f.s.Close()
	f.remote.End(errors.New("late failure"))
	f.waitClosedHook(t)
	time.Sleep(20 * time.Millisecond)

	if got := f.s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if err := f.s.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if got := f.hooks.closedCount(); got != 1 {
		t.Errorf("OnClosed calls = %d, want 1", got)
	}
}

// ── Mute ────────────────────────────────────────────────────────────────────

func TestSession_ToggleMuteMidStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.waitState(t, StateConnected)

	f.track.Push([]float32{0.1})
	waitFor(t, "first frame", func() bool { return len(f.remote.Sent()) == 1 })

	if !f.s.ToggleMute() || !f.s.Muted() {
		t.Fatal("ToggleMute did not mute")
	}
	f.track.Push([]float32{0.2})
	f.track.Push([]float32{0.3})
	waitFor(t, "muted drops", func() bool {
		return counter(t, f.reader, "livevoice.frames.dropped", observe.DropMuted) == 2
	})

	// Muting suppresses sending, not receiving.
	f.remote.EmitAudio(segment(240))
	if !f.out.WaitScheduled(1, waitTimeout) {
		t.Error("playback stopped while muted")
	}

	if f.s.ToggleMute() || f.s.Muted() {
		t.Fatal("ToggleMute did not unmute")
	}
	f.track.Push([]float32{0.4})
	waitFor(t, "resumed frame", func() bool { return len(f.remote.Sent()) == 2 })

	sent := f.remote.Sent()
	if !bytes.Equal(sent[0].Chunk, pcmFor(0.1)) || !bytes.Equal(sent[1].Chunk, pcmFor(0.4)) {
		t.Errorf("sent frames = %v, want encodings of 0.1 and 0.4", sent)
	}
}

// ── Misc ────────────────────────────────────────────────────────────────────

func TestSession_ContextCancelCloses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := f.s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.waitState(t, StateConnected)

	cancel()
	f.waitClosedHook(t)

	if got := f.s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestSession_TranscriptsDelivered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(_ *fixture, cfg *Config) { cfg.Transcripts = true })
	f.start(t)
	f.waitState(t, StateConnected)

	f.remote.EmitTranscript(s2s.Transcript{Speaker: s2s.SpeakerModel, Text: "Hello there."})
	waitFor(t, "transcript", func() bool {
		f.hooks.mu.Lock()
		defer f.hooks.mu.Unlock()
		return len(f.hooks.transcripts) == 1
	})
	if !f.provider.ConnectCalls[0].Cfg.Transcripts {
		t.Error("handshake did not request transcripts")
	}
}

func TestSession_ActiveSessionsGauge(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.waitState(t, StateConnected)

	if got := counter(t, f.reader, "livevoice.active_sessions", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
	f.s.Close()
	if got := counter(t, f.reader, "livevoice.active_sessions", ""); got != 0 {
		t.Errorf("active sessions after close = %d, want 0", got)
	}
}
