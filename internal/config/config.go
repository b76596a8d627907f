// Package config provides the configuration schema, loader, watcher, and
// provider registry for the livevoice server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioBackend selects where session audio comes from and goes to.
type AudioBackend string

const (
	// BackendDevice captures from the default microphone and plays through
	// the default speaker.
	BackendDevice AudioBackend = "device"

	// BackendWAV reads capture audio from a WAV file and records playback to
	// another, for running without audio hardware.
	BackendWAV AudioBackend = "wav"
)

// IsValid reports whether b is a recognised backend.
func (b AudioBackend) IsValid() bool {
	return b == BackendDevice || b == BackendWAV
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultVoice          = "Zephyr"
	DefaultInstructions   = "You are a friendly voice assistant. Be concise, helpful, and friendly."
	DefaultFrameSize      = 4096
	DefaultConnectTimeout = 15 * time.Second
	DefaultS2SProvider    = "gemini-live"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics and health endpoint
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the speech-to-speech endpoint. Fallback entries are
// tried in order when the primary is failing.
type ProvidersConfig struct {
	S2S      ProviderEntry   `yaml:"s2s"`
	Fallback []ProviderEntry `yaml:"fallback"`
}

// ProviderEntry is the common configuration block shared by all providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty it
	// is read from the environment by [ApplyDefaults].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig selects the audio backend.
type AudioConfig struct {
	// Backend is "device" (default) or "wav".
	Backend AudioBackend `yaml:"backend"`

	// InputFile is the WAV file streamed as microphone input. Required for
	// the wav backend.
	InputFile string `yaml:"input_file"`

	// LoopInput replays InputFile from the start when it ends instead of
	// padding with silence.
	LoopInput bool `yaml:"loop_input"`

	// OutputFile receives the remote voice as WAV when the session ends.
	// Empty discards playback.
	OutputFile string `yaml:"output_file"`

	// FrameSize is the capture frame length in samples.
	FrameSize int `yaml:"frame_size"`
}

// SessionConfig holds the handshake parameters of each voice session.
type SessionConfig struct {
	// Voice is the prebuilt voice of the remote model.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt.
	Instructions string `yaml:"instructions"`

	// Transcripts requests input and output transcription.
	Transcripts bool `yaml:"transcripts"`

	// ConnectTimeout bounds the handshake (e.g., "15s").
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}
