package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// ClientConfig configures a [Client].
//
// The callbacks are invoked from the client's own goroutines and must not
// block. All of them may be nil.
type ClientConfig struct {
	// Provider opens the connection to the remote voice endpoint.
	Provider s2s.Provider

	// ProviderName labels metrics and spans. Defaults to "s2s".
	ProviderName string

	// Session is sent to the remote endpoint during the handshake.
	Session s2s.SessionConfig

	// Metrics receives send and handshake measurements. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnOpen is called once the handshake has completed, before any audio
	// is delivered.
	OnOpen func()

	// OnAudio receives each inbound PCM16 payload in arrival order.
	OnAudio func(pcm []byte)

	// OnTranscript receives transcript fragments when transcription is on.
	OnTranscript func(s2s.Transcript)

	// OnError is called when an open connection fails. The error wraps
	// [ErrTransport]. It is not called for a local Disconnect.
	OnError func(error)

	// OnClose is called exactly once after an open connection has ended,
	// whether the remote side closed it or [Client.Disconnect] did.
	OnClose func()
}

// Client owns the duplex connection to the remote voice endpoint. It is the
// only holder of the [s2s.SessionHandle]; the handle is released by
// [Client.Disconnect] or when the remote side ends the session.
//
// All methods are safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	metrics *observe.Metrics

	mu        sync.Mutex
	handle    s2s.SessionHandle
	connected bool // Connect has been called
	released  bool // Disconnect has been called

	closeOnce sync.Once
}

// NewClient returns a Client for cfg. No connection is made until
// [Client.Connect].
func NewClient(cfg ClientConfig) *Client {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "s2s"
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Client{cfg: cfg, metrics: m}
}

// Connect performs the one-time handshake and starts the receive pump. It
// blocks until the remote endpoint acknowledges the session or ctx ends.
//
// A second call returns [ErrAlreadyConnected]. Handshake failures wrap
// [ErrHandshake]. If Disconnect is called while the handshake is in flight,
// the new handle is closed and Connect fails.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connected = true
	c.mu.Unlock()

	if _, _, ok := observe.SessionFromContext(ctx); !ok {
		ctx = observe.WithSession(ctx, "", c.cfg.ProviderName)
	}
	ctx, span := observe.StartSpan(ctx, "session.connect")
	defer span.End()

	start := time.Now()
	h, err := c.cfg.Provider.Connect(ctx, c.cfg.Session)
	c.metrics.RecordHandshake(ctx, c.cfg.ProviderName, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake failed")
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		_ = h.Close()
		span.SetStatus(codes.Error, "disconnected during handshake")
		return fmt.Errorf("%w: disconnected during handshake", ErrHandshake)
	}
	c.handle = h
	c.mu.Unlock()

	observe.Logger(ctx).Info("session: connection open")
	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen()
	}
	go c.pump(h)
	return nil
}

// SendFrame forwards one encoded capture frame. It never blocks waiting for
// the handshake: frames sent before the connection opens, or after it has
// been released, are dropped and counted. Frames whose MIME type is not
// [audio.CaptureMIMEType] are dropped too, since the handshake only
// announced that format.
func (c *Client) SendFrame(frame audio.EncodedFrame) {
	ctx := context.Background()

	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		c.metrics.RecordFrameDropped(ctx, observe.DropNotReady)
		return
	}
	if frame.MIMEType != audio.CaptureMIMEType {
		c.metrics.RecordFrameDropped(ctx, observe.DropFormat)
		slog.Debug("session: unexpected frame format", "mime_type", frame.MIMEType)
		return
	}

	pcm, err := audio.DecodeTransport(frame.Data)
	if err != nil {
		c.metrics.RecordFrameDropped(ctx, observe.DropSend)
		return
	}
	if err := h.SendAudio(pcm); err != nil {
		c.metrics.RecordFrameDropped(ctx, observe.DropSend)
		if !errors.Is(err, s2s.ErrSessionClosed) {
			slog.Debug("session: send frame failed", "err", err)
		}
		return
	}
	c.metrics.FramesSent.Add(ctx, 1)
}

// Disconnect releases the connection handle. It is safe to call at any time
// and any number of times. OnClose follows asynchronously once the receive
// pump has drained.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		slog.Debug("session: close handle", "err", err)
	}
}

// pump forwards inbound audio and transcripts until the handle's channels
// close, then reports how the connection ended.
func (c *Client) pump(h s2s.SessionHandle) {
	audioCh := h.Audio()
	transcripts := h.Transcripts()

	for audioCh != nil || transcripts != nil {
		select {
		case pcm, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			if c.cfg.OnAudio != nil {
				c.cfg.OnAudio(pcm)
			}
		case t, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			if c.cfg.OnTranscript != nil {
				c.cfg.OnTranscript(t)
			}
		}
	}

	c.mu.Lock()
	local := c.released
	c.released = true
	c.handle = nil
	c.mu.Unlock()

	if !local {
		_ = h.Close()
		if err := h.Err(); err != nil {
			slog.Warn("session: connection failed", "provider", c.cfg.ProviderName, "err", err)
			c.metrics.RecordProviderError(context.Background(), c.cfg.ProviderName, "transport")
			if c.cfg.OnError != nil {
				c.cfg.OnError(fmt.Errorf("%w: %w", ErrTransport, err))
			}
		}
	}

	c.closeOnce.Do(func() {
		if c.cfg.OnClose != nil {
			c.cfg.OnClose()
		}
	})
}
