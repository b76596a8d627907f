package session

import "errors"

// Fatal errors. Any of these moves a session to [StateErrored] and is
// returned by [Session.Err].
var (
	// ErrDeviceUnavailable means the microphone or output device could not be
	// acquired, or the capture device failed mid-session.
	ErrDeviceUnavailable = errors.New("session: audio device unavailable")

	// ErrHandshake means the remote endpoint rejected the session or the
	// network failed before the connection opened.
	ErrHandshake = errors.New("session: handshake failed")

	// ErrTransport means the connection failed after it had opened.
	ErrTransport = errors.New("session: transport error")
)

// ErrDecode marks an inbound audio payload that could not be decoded. The
// segment is skipped and the session continues.
var ErrDecode = errors.New("session: malformed audio payload")

// ErrAlreadyConnected is returned by a second call to [Client.Connect] or
// [Session.Start].
var ErrAlreadyConnected = errors.New("session: already connected")

// ErrClosed is returned by [Session.Start] once the session has ended.
var ErrClosed = errors.New("session: closed")
