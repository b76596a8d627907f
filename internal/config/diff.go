package config

import (
	"reflect"
	"strings"
)

// ConfigDiff describes what changed between two configs.
//
// Log level changes apply immediately. Session changes apply to the next
// session that starts. Provider, audio, and server changes need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged          bool
	InstructionsChanged   bool
	TranscriptsChanged    bool
	ConnectTimeoutChanged bool

	// RestartRequired is true when a field that is only read at startup
	// changed: providers, audio backend, or the server address.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.VoiceChanged = old.Session.Voice != new.Session.Voice
	d.InstructionsChanged = old.Session.Instructions != new.Session.Instructions
	d.TranscriptsChanged = old.Session.Transcripts != new.Session.Transcripts
	d.ConnectTimeoutChanged = old.Session.ConnectTimeout != new.Session.ConnectTimeout

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		!reflect.DeepEqual(old.Providers, new.Providers) ||
		old.Audio != new.Audio {
		d.RestartRequired = true
	}
	return d
}

// SessionChanged reports whether any per-session setting changed.
func (d ConfigDiff) SessionChanged() bool {
	return d.VoiceChanged || d.InstructionsChanged || d.TranscriptsChanged || d.ConnectTimeoutChanged
}

// Summary lists the changed areas, comma separated, or "none".
func (d ConfigDiff) Summary() string {
	var parts []string
	if d.LogLevelChanged {
		parts = append(parts, "log_level")
	}
	if d.VoiceChanged {
		parts = append(parts, "voice")
	}
	if d.InstructionsChanged {
		parts = append(parts, "instructions")
	}
	if d.TranscriptsChanged {
		parts = append(parts, "transcripts")
	}
	if d.ConnectTimeoutChanged {
		parts = append(parts, "connect_timeout")
	}
	if d.RestartRequired {
		parts = append(parts, "restart_required")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
