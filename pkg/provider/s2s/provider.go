// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice model that accepts raw audio input
// and returns synthesised audio output over a single, stateful duplex
// connection. Examples include the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: an open connection whose audio and
// transcript streams are exposed as channels. A handle exists only after the
// provider's handshake has completed, so holding one means the remote end is
// ready to accept audio.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// ErrSessionClosed is returned by SendAudio after the session has been closed
// locally or by the remote end.
var ErrSessionClosed = errors.New("s2s: session closed")

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	// SpeakerUser marks recognised user speech.
	SpeakerUser Speaker = "user"

	// SpeakerModel marks text the model spoke.
	SpeakerModel Speaker = "model"
)

// Transcript is one piece of recognised or generated text. Providers emit
// partial fragments as they arrive; consumers concatenate them per speaker.
type Transcript struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// SessionConfig is the handshake configuration for a new S2S session. The
// response modality is always audio.
type SessionConfig struct {
	// Voice names the provider's prebuilt voice. Empty selects the provider
	// default.
	Voice string

	// Instructions is the system prompt.
	Instructions string

	// Transcripts requests input and output transcription in addition to
	// audio.
	Transcripts bool
}

// Capabilities describes static properties of an S2S provider.
type Capabilities struct {
	// InputFormat is the PCM format SendAudio expects. Providers that need a
	// different rate than [audio.CaptureFormat] resample internally.
	InputFormat audio.Format

	// OutputFormat is the PCM format of chunks emitted on Audio.
	OutputFormat audio.Format

	// MaxSessionDuration is the provider-imposed limit on session lifetime.
	// Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voices the provider accepts.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Every method must return quickly. All methods must be safe for concurrent use.
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw 16 kHz mono PCM16 chunk to the model. Returns
	// ErrSessionClosed after Close, or the write error if the connection failed.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel that emits raw PCM16 chunks in
	// OutputFormat as the model speaks. Payloads the provider cannot decode are
	// skipped, not reported. The channel is closed when the session ends; call
	// Err afterwards to learn whether it ended cleanly.
	Audio() <-chan []byte

	// Transcripts returns a read-only channel of transcript fragments. It only
	// carries values when SessionConfig.Transcripts was set. The channel is
	// closed together with Audio.
	Transcripts() <-chan Transcript

	// Err returns the error that ended the session, or nil if it ended cleanly
	// (local Close or a normal remote closure).
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Audio and Transcripts channels. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect dials the remote endpoint and performs the handshake. It
	// returns only after the remote end has acknowledged the configuration,
	// or with an error if the dial, the handshake, or ctx fails. The caller
	// owns the returned SessionHandle.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
