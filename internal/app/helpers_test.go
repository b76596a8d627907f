package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
	audiomock "github.com/MrWong99/livevoice/pkg/audio/mock"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
	s2smock "github.com/MrWong99/livevoice/pkg/provider/s2s/mock"
)

const waitTimeout = 2 * time.Second

// sessionProvider hands out a fresh mock session per Connect and records the
// handshake configs.
type sessionProvider struct {
	mu       sync.Mutex
	err      error
	configs  []s2s.SessionConfig
	sessions []*s2smock.Session
}

func (p *sessionProvider) Connect(_ context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs = append(p.configs, cfg)
	if p.err != nil {
		return nil, p.err
	}
	sess := s2smock.NewSession()
	p.sessions = append(p.sessions, sess)
	return sess, nil
}

func (p *sessionProvider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{InputFormat: audio.CaptureFormat, OutputFormat: audio.PlaybackFormat}
}

func (p *sessionProvider) connectConfigs() []s2s.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]s2s.SessionConfig(nil), p.configs...)
}

// freshMicrophone opens a new mock track on every call.
type freshMicrophone struct{}

func (freshMicrophone) Open(_ context.Context, want audio.Format, _ int) (audio.Track, error) {
	return audiomock.NewTrack(want, 16), nil
}

func testDevices() config.AudioDevices {
	return config.AudioDevices{
		Microphone: freshMicrophone{},
		Output: func() (audio.OutputContext, error) {
			return audiomock.NewOutputContext(audio.PlaybackFormat), nil
		},
	}
}

func testSettings() config.SessionConfig {
	return config.SessionConfig{
		Voice:          "Zephyr",
		Instructions:   "You are a friendly voice assistant.",
		ConnectTimeout: time.Second,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{S2S: config.ProviderEntry{Name: "gemini-live", APIKey: "k"}},
		Audio:     config.AudioConfig{Backend: config.BackendDevice, FrameSize: 512},
		Session:   testSettings(),
	}
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// waitFor polls cond until it holds or waitTimeout elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
