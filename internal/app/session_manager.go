package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/internal/session"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while the
	// previous session has not ended.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by operations that need a live session.
	ErrNoSession = errors.New("app: no active session")
)

// SessionInfo is a snapshot of the current or most recent session.
type SessionInfo struct {
	ID        string    `json:"id,omitempty"`
	State     string    `json:"state"`
	Muted     bool      `json:"muted"`
	Provider  string    `json:"provider,omitempty"`
	Voice     string    `json:"voice,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// Active reports whether the session has not reached a terminal state.
func (i SessionInfo) Active() bool {
	return i.State == session.StateConnecting.String() || i.State == session.StateConnected.String()
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	Provider     s2s.Provider
	ProviderName string
	Devices      config.AudioDevices
	FrameSize    int
	Settings     config.SessionConfig
	Metrics      *observe.Metrics

	// OnChange is called after every status change of the current session,
	// on the session's event loop.
	OnChange func(SessionInfo)

	// OnTranscript receives transcript fragments of the current session.
	OnTranscript func(s2s.Transcript)
}

// SessionManager runs at most one voice session at a time. Ended sessions
// may be followed by a new one; settings changed in between apply to the
// next session. All methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu       sync.Mutex
	settings config.SessionConfig
	current  *session.Session
	info     SessionInfo
	seq      int
}

// NewSessionManager creates a SessionManager. No session is started.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		settings: cfg.Settings,
		info:     SessionInfo{State: "idle"},
	}
}

// Start begins a new session. It returns once the session is connecting;
// the outcome is reported through OnChange and [SessionManager.Info].
// Cancelling ctx closes the session.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	if sm.current != nil && !sm.current.State().Terminal() {
		id := sm.info.ID
		sm.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, id)
	}

	sm.seq++
	id := fmt.Sprintf("session-%d-%s", sm.seq, time.Now().UTC().Format("20060102T150405Z"))
	settings := sm.settings

	var s *session.Session
	s = session.New(session.Config{
		ID:             id,
		Provider:       sm.cfg.Provider,
		ProviderName:   sm.cfg.ProviderName,
		Microphone:     sm.cfg.Devices.Microphone,
		Output:         session.OutputFactory(sm.cfg.Devices.Output),
		Voice:          settings.Voice,
		Instructions:   settings.Instructions,
		Transcripts:    settings.Transcripts,
		FrameSize:      sm.cfg.FrameSize,
		ConnectTimeout: settings.ConnectTimeout,
		Metrics:        sm.cfg.Metrics,
		OnStatusChange: func(st session.State) { sm.statusChanged(s, st) },
		OnTranscript:   sm.cfg.OnTranscript,
	})
	sm.current = s
	sm.info = SessionInfo{
		ID:        id,
		State:     session.StateConnecting.String(),
		Provider:  sm.cfg.ProviderName,
		Voice:     settings.Voice,
		StartedAt: time.Now(),
	}
	info := sm.info
	sm.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return SessionInfo{}, err
	}
	slog.Info("session started", "session_id", id, "provider", sm.cfg.ProviderName, "voice", settings.Voice)
	return info, nil
}

// statusChanged records a state change of s. Changes from a session that is
// no longer current are ignored.
func (sm *SessionManager) statusChanged(s *session.Session, st session.State) {
	sm.mu.Lock()
	if sm.current != s {
		sm.mu.Unlock()
		return
	}
	sm.info.State = st.String()
	sm.info.Muted = s.Muted()
	if st.Terminal() {
		sm.info.EndedAt = time.Now()
		if err := s.Err(); err != nil {
			sm.info.Error = err.Error()
		}
	}
	info := sm.info
	sm.mu.Unlock()

	if sm.cfg.OnChange != nil {
		sm.cfg.OnChange(info)
	}
}

// Stop closes the current session and waits for its teardown.
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	s := sm.current
	sm.mu.Unlock()
	if s == nil || s.State().Terminal() {
		return ErrNoSession
	}
	// The session's hooks take sm.mu, so Close must run unlocked.
	s.Close()
	return nil
}

// ToggleMute flips the mute flag of the current session.
func (sm *SessionManager) ToggleMute() (bool, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.current == nil || sm.current.State().Terminal() {
		return false, ErrNoSession
	}
	muted := sm.current.ToggleMute()
	sm.info.Muted = muted
	return muted, nil
}

// Info returns a snapshot of the current or most recent session.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Done returns the done channel of the current session, or nil when no
// session was ever started.
func (sm *SessionManager) Done() <-chan struct{} {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.current == nil {
		return nil
	}
	return sm.current.Done()
}

// ApplySettings replaces the settings used by the next session. The running
// session keeps the settings it was started with.
func (sm *SessionManager) ApplySettings(s config.SessionConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.settings = s
}

// Settings returns the settings the next session will use.
func (sm *SessionManager) Settings() config.SessionConfig {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.settings
}

// Shutdown closes the current session, if any, and waits for its teardown.
func (sm *SessionManager) Shutdown() {
	if err := sm.Stop(); err != nil && !errors.Is(err, ErrNoSession) {
		slog.Warn("session shutdown failed", "err", err)
	}
}
