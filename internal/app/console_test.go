package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livevoice/internal/app"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runConsole(ctx context.Context, c *app.Console) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	return errc
}

func awaitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("console did not return")
		return nil
	}
}

func TestConsole_Commands(t *testing.T) {
	t.Parallel()
	sm, _ := newTestManager(t, &sessionProvider{})
	in, w := io.Pipe()
	out := &syncBuffer{}
	c := app.NewConsole(in, out, sm)
	errc := runConsole(context.Background(), c)

	// Empty line starts a session.
	io.WriteString(w, "\n")
	waitState(t, sm, "connected")

	io.WriteString(w, "m\n")
	waitFor(t, "mute", func() bool { return strings.Contains(out.String(), "[muted]") })
	if !sm.Info().Muted {
		t.Error("session not muted after m")
	}

	io.WriteString(w, "M\n")
	waitFor(t, "unmute", func() bool { return strings.Contains(out.String(), "[unmuted]") })

	io.WriteString(w, "q\n")
	waitState(t, sm, "closed")

	io.WriteString(w, "x\n")
	if err := awaitRun(t, errc); err != nil {
		t.Fatalf("Run() = %v, want nil on x", err)
	}
	w.Close()

	if !strings.Contains(out.String(), "keys:") {
		t.Errorf("output %q should start with the key help", out.String())
	}
}

func TestConsole_ErrorsAreReported(t *testing.T) {
	t.Parallel()
	sm, _ := newTestManager(t, &sessionProvider{})
	out := &syncBuffer{}
	c := app.NewConsole(strings.NewReader("m\nq\nhello\nx\n"), out, sm)

	if err := awaitRun(t, runConsole(context.Background(), c)); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	got := out.String()
	for _, want := range []string{app.ErrNoSession.Error(), "no active session", `unknown command "hello"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestConsole_StartWhileActive(t *testing.T) {
	t.Parallel()
	sm, _ := newTestManager(t, &sessionProvider{})
	if _, err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out := &syncBuffer{}
	c := app.NewConsole(strings.NewReader("\nx\n"), out, sm)

	if err := awaitRun(t, runConsole(context.Background(), c)); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !strings.Contains(out.String(), "cannot start") {
		t.Errorf("output %q should report the active session", out.String())
	}
}

func TestConsole_EndOfInput(t *testing.T) {
	t.Parallel()
	sm, _ := newTestManager(t, &sessionProvider{})
	c := app.NewConsole(strings.NewReader(""), io.Discard, sm)

	if err := awaitRun(t, runConsole(context.Background(), c)); err != nil {
		t.Fatalf("Run() = %v, want nil at end of input", err)
	}
}

func TestConsole_ContextCancel(t *testing.T) {
	t.Parallel()
	sm, _ := newTestManager(t, &sessionProvider{})
	in, w := io.Pipe()
	defer w.Close()
	c := app.NewConsole(in, io.Discard, sm)

	ctx, cancel := context.WithCancel(context.Background())
	errc := runConsole(ctx, c)
	cancel()
	if err := awaitRun(t, errc); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}

func TestConsole_Print(t *testing.T) {
	t.Parallel()
	out := &syncBuffer{}
	c := app.NewConsole(strings.NewReader(""), out, nil)

	c.PrintStatus(app.SessionInfo{State: "connected"})
	c.PrintStatus(app.SessionInfo{State: "errored", Error: "session: handshake failed: 401"})
	c.PrintTranscript(s2s.Transcript{Speaker: s2s.SpeakerModel, Text: "Hello there."})

	want := "[connected]\n[errored] session: handshake failed: 401\nmodel: Hello there.\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
