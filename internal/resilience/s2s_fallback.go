package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// ErrNoProviderAvailable is returned by [S2SFallback.Ready] when every
// provider's breaker is open.
var ErrNoProviderAvailable = errors.New("resilience: no s2s provider available")

// S2SFallback implements [s2s.Provider] with failover across several S2S
// backends. Only the handshake is covered: once Connect has returned a
// handle, the session stays on that backend until it ends.
type S2SFallback struct {
	group *FallbackGroup[s2s.Provider]
}

var _ s2s.Provider = (*S2SFallback)(nil)

// NewS2SFallback creates an [S2SFallback] with primary as the preferred
// backend.
func NewS2SFallback(primary s2s.Provider, primaryName string, cfg FallbackConfig) *S2SFallback {
	return &S2SFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those added before it.
func (f *S2SFallback) AddFallback(name string, p s2s.Provider) {
	f.group.AddFallback(name, p)
}

// Connect handshakes with the first healthy backend.
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	return Do(ctx, f.group, func(ctx context.Context, p s2s.Provider) (s2s.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the primary's capabilities. Every supported backend
// accepts 16 kHz input on SendAudio and emits 24 kHz audio.
func (f *S2SFallback) Capabilities() s2s.Capabilities {
	return f.group.Primary().Capabilities()
}

// Status reports the breaker state of every backend.
func (f *S2SFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Ready is a readiness check: it fails only when no backend would accept a
// handshake.
func (f *S2SFallback) Ready(context.Context) error {
	if !f.group.Available() {
		return ErrNoProviderAvailable
	}
	return nil
}
