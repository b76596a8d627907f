package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted for provider API keys, in order.
const (
	EnvAPIKey         = "LIVEVOICE_API_KEY"
	EnvFallbackAPIKey = "API_KEY"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s": {"gemini-live", "openai-realtime"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults from the
// environment, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes is [LoadFromReader] over an in-memory document.
func LoadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyDefaults fills unset fields. API keys left empty in the file are read
// from [EnvAPIKey], then [EnvFallbackAPIKey], using lookupEnv.
func ApplyDefaults(cfg *Config, lookupEnv func(string) (string, bool)) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = DefaultS2SProvider
	}

	envKey := ""
	for _, name := range []string{EnvAPIKey, EnvFallbackAPIKey} {
		if v, ok := lookupEnv(name); ok && v != "" {
			envKey = v
			break
		}
	}
	if cfg.Providers.S2S.APIKey == "" {
		cfg.Providers.S2S.APIKey = envKey
	}
	for i := range cfg.Providers.Fallback {
		if cfg.Providers.Fallback[i].APIKey == "" {
			cfg.Providers.Fallback[i].APIKey = envKey
		}
	}

	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = BackendDevice
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Session.Voice == "" {
		cfg.Session.Voice = DefaultVoice
	}
	if cfg.Session.Instructions == "" {
		cfg.Session.Instructions = DefaultInstructions
	}
	if cfg.Session.ConnectTimeout == 0 {
		cfg.Session.ConnectTimeout = DefaultConnectTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Providers
	if cfg.Providers.S2S.Name == "" {
		errs = append(errs, errors.New("providers.s2s.name is required"))
	}
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	if cfg.Providers.S2S.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.s2s.api_key is required (or set %s)", EnvAPIKey))
	}

	seen := map[string]string{cfg.Providers.S2S.Name: "providers.s2s"}
	for i, fb := range cfg.Providers.Fallback {
		prefix := fmt.Sprintf("providers.fallback[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("s2s", fb.Name)
		if prev, ok := seen[fb.Name]; ok && fb.Model == "" {
			slog.Warn("fallback provider duplicates an earlier entry", "entry", prefix, "duplicate_of", prev)
		}
		seen[fb.Name] = prefix
	}

	// Audio
	if !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: device, wav", cfg.Audio.Backend))
	}
	if cfg.Audio.Backend == BackendWAV && cfg.Audio.InputFile == "" {
		errs = append(errs, errors.New("audio.input_file is required when backend is wav"))
	}
	if cfg.Audio.Backend != BackendWAV && (cfg.Audio.InputFile != "" || cfg.Audio.OutputFile != "") {
		slog.Warn("audio.input_file and audio.output_file are only used by the wav backend", "backend", cfg.Audio.Backend)
	}
	if cfg.Audio.FrameSize < 0 || cfg.Audio.FrameSize > 1<<16 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is out of range [1, 65536]", cfg.Audio.FrameSize))
	}

	// Session
	if cfg.Session.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.connect_timeout %s must not be negative", cfg.Session.ConnectTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
