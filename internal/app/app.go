// Package app wires the livevoice subsystems into a running application.
//
// New builds the session manager, health checks, and HTTP surface from a
// loaded config and the providers main.go created. Run serves HTTP and the
// console until the context ends or the user exits, and Shutdown tears
// everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/health"
	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/internal/resilience"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// shutdownGrace bounds the HTTP server drain in Run.
const shutdownGrace = 5 * time.Second

// Providers holds what main.go built through the config registry.
type Providers struct {
	// S2S is the speech-to-speech backend, usually an [resilience.S2SFallback].
	S2S s2s.Provider

	// S2SName labels metrics and logs.
	S2SName string

	// Audio is the capture and playback pair of the configured backend.
	Audio config.AudioDevices
}

// App owns the lifetimes of all subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers

	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	console        *Console
	consoleIn      io.Reader
	consoleOut     io.Writer
	listener       net.Listener

	sessions *SessionManager
	health   *health.Handler

	mu     sync.Mutex
	server *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics overrides the default metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConsole enables the interactive console on in and out.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.consoleIn = in
		a.consoleOut = out
	}
}

// WithListener serves HTTP on l instead of listening on the configured
// address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. It does not start a session or open any device.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.S2S == nil {
		return nil, errors.New("app: an s2s provider is required")
	}
	if providers.Audio.Microphone == nil || providers.Audio.Output == nil {
		return nil, errors.New("app: audio devices are required")
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(slogLevel(cfg.Server.LogLevel))

	sm := NewSessionManager(SessionManagerConfig{
		Provider:     providers.S2S,
		ProviderName: providers.S2SName,
		Devices:      providers.Audio,
		FrameSize:    cfg.Audio.FrameSize,
		Settings:     cfg.Session,
		Metrics:      a.metrics,
		OnChange:     a.sessionChanged,
		OnTranscript: a.transcript,
	})
	a.sessions = sm

	if a.consoleIn != nil {
		a.console = NewConsole(a.consoleIn, a.consoleOut, sm)
	}

	checkers := []health.Checker{{Name: "s2s", Check: a.checkS2S}}
	a.health = health.New(checkers...)
	return a, nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

func (a *App) sessionChanged(info SessionInfo) {
	slog.Info("session status", "session_id", info.ID, "state", info.State, "err", info.Error)
	if a.console != nil {
		a.console.PrintStatus(info)
	}
}

func (a *App) transcript(t s2s.Transcript) {
	if a.console != nil {
		a.console.PrintTranscript(t)
		return
	}
	slog.Info("transcript", "speaker", t.Speaker, "text", t.Text)
}

// checkS2S fails when every S2S backend's breaker is open.
func (a *App) checkS2S(ctx context.Context) error {
	if r, ok := a.providers.S2S.(interface{ Ready(context.Context) error }); ok {
		return r.Ready(ctx)
	}
	return nil
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP surface:
//
//	GET    /healthz        liveness
//	GET    /readyz         readiness
//	GET    /metrics        Prometheus scrape, when a handler was given
//	GET    /session        current session status
//	POST   /session        start a session
//	DELETE /session        close the current session
//	POST   /session/mute   toggle mute
//	GET    /providers      breaker state per S2S backend
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	mux.HandleFunc("GET /session", a.getSession)
	mux.HandleFunc("POST /session", a.startSession)
	mux.HandleFunc("DELETE /session", a.stopSession)
	mux.HandleFunc("POST /session/mute", a.toggleMute)
	mux.HandleFunc("GET /providers", a.getProviders)
	return observe.Middleware(a.metrics, observe.WithSessionLookup(func() (string, string) {
		info := a.sessions.Info()
		return info.ID, info.Provider
	}))(mux)
}

func (a *App) getSession(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, a.sessions.Info())
}

func (a *App) startSession(w http.ResponseWriter, r *http.Request) {
	// Sessions outlive the request that started them.
	ctx := context.WithoutCancel(r.Context())
	info, err := a.sessions.Start(ctx)
	if errors.Is(err, ErrSessionActive) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	health.WriteJSON(w, http.StatusAccepted, info)
}

func (a *App) stopSession(w http.ResponseWriter, _ *http.Request) {
	if err := a.sessions.Stop(); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	health.WriteJSON(w, http.StatusOK, a.sessions.Info())
}

func (a *App) toggleMute(w http.ResponseWriter, _ *http.Request) {
	muted, err := a.sessions.ToggleMute()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	health.WriteJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (a *App) getProviders(w http.ResponseWriter, _ *http.Request) {
	if f, ok := a.providers.S2S.(*resilience.S2SFallback); ok {
		health.WriteJSON(w, http.StatusOK, f.Status())
		return
	}
	health.WriteJSON(w, http.StatusOK, []resilience.EntryStatus{{Name: a.providers.S2SName, State: "unknown"}})
}

func writeError(w http.ResponseWriter, status int, err error) {
	health.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (when a listen address or listener is configured) and the
// console (when enabled), and blocks until ctx is done or the console exits.
// It returns nil on a console exit and ctx's error on cancellation.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	a.mu.Lock()
	server := a.cfg.Server
	a.mu.Unlock()

	if a.listener != nil || server.ListenAddr != "" {
		ln := a.listener
		if ln == nil {
			var err error
			ln, err = net.Listen("tcp", server.ListenAddr)
			if err != nil {
				return fmt.Errorf("app: listen %s: %w", server.ListenAddr, err)
			}
		}
		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.mu.Lock()
		a.server = srv
		a.mu.Unlock()
		slog.Info("http server listening", "addr", ln.Addr().String())

		g.Go(func() error {
			var err error
			if tls := server.TLS; tls != nil {
				err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			} else {
				err = srv.Serve(ln)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	consoleExit := false
	if a.console != nil {
		g.Go(func() error {
			err := a.console.Run(gctx)
			if err == nil {
				consoleExit = true
				cancel()
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.sessions.Shutdown()
		return nil
	})

	err := g.Wait()
	if consoleExit {
		return nil
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

// ApplyConfig applies a reloaded config. The log level changes at once;
// session settings apply to the next session. Changes that need a restart
// are logged and otherwise ignored.
func (a *App) ApplyConfig(newCfg *config.Config) config.ConfigDiff {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, newCfg)
	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged() {
		a.sessions.ApplySettings(newCfg.Session)
		slog.Info("session settings updated, applying to the next session",
			"voice", newCfg.Session.Voice, "transcripts", newCfg.Session.Transcripts)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}

	merged := *a.cfg
	merged.Server.LogLevel = newCfg.Server.LogLevel
	merged.Session = newCfg.Session
	a.cfg = &merged
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the current session and stops the HTTP server. It honours
// the ctx deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		done := make(chan struct{})
		go func() {
			a.sessions.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while closing the session")
			shutdownErr = ctx.Err()
			return
		}
		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				shutdownErr = err
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// slogLevel converts a config level to its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
