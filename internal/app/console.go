package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

const consoleHelp = "keys: <enter> new session | m mute/unmute | q close session | x exit"

// Console is the line-oriented front end. Each input line is one command:
//
//	(empty)  start a new session
//	m        toggle mute
//	q        close the current session
//	x        exit
type Console struct {
	in       io.Reader
	sessions *SessionManager

	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a Console reading commands from in and printing status
// to out.
func NewConsole(in io.Reader, out io.Writer, sessions *SessionManager) *Console {
	return &Console{in: in, out: out, sessions: sessions}
}

// Run processes commands until x, end of input, or ctx is done. It returns
// nil on x or end of input.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.printf("%s\n", consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if exit := c.handle(ctx, strings.TrimSpace(line)); exit {
				return nil
			}
		}
	}
}

// handle executes one command and reports whether the console should exit.
func (c *Console) handle(ctx context.Context, cmd string) bool {
	switch strings.ToLower(cmd) {
	case "":
		if _, err := c.sessions.Start(ctx); err != nil {
			c.printf("cannot start: %v\n", err)
		}
	case "m":
		muted, err := c.sessions.ToggleMute()
		switch {
		case err != nil:
			c.printf("%v\n", err)
		case muted:
			c.printf("[muted]\n")
		default:
			c.printf("[unmuted]\n")
		}
	case "q":
		if err := c.sessions.Stop(); errors.Is(err, ErrNoSession) {
			c.printf("no active session\n")
		}
	case "x":
		return true
	default:
		c.printf("unknown command %q; %s\n", cmd, consoleHelp)
	}
	return false
}

// PrintStatus writes a status line for info.
func (c *Console) PrintStatus(info SessionInfo) {
	if info.Error != "" {
		c.printf("[%s] %s\n", info.State, info.Error)
		return
	}
	c.printf("[%s]\n", info.State)
}

// PrintTranscript writes one transcript fragment prefixed by its speaker.
func (c *Console) PrintTranscript(t s2s.Transcript) {
	c.printf("%s: %s\n", t.Speaker, t.Text)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
