package audio

import (
	"fmt"
	"time"
)

// Sample rates used on the two directions of a voice session.
const (
	// CaptureSampleRate is the rate at which microphone audio is sent upstream.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of the synthesised audio returned by the
	// remote voice model.
	PlaybackSampleRate = 24000
)

// CaptureMIMEType is the MIME type announced for every upstream audio chunk.
const CaptureMIMEType = "audio/pcm;rate=16000"

// Predefined formats for the two directions of a session. Both are mono.
var (
	CaptureFormat  = Format{SampleRate: CaptureSampleRate, Channels: 1}
	PlaybackFormat = Format{SampleRate: PlaybackSampleRate, Channels: 1}
)

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are short-lived: created per capture or receive tick and handed off to
// the next stage. Holders must not mutate Data after hand-off.
type AudioFrame struct {
	// PCM audio data, signed 16-bit little-endian.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is always 1 within a voice session.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// NumSamples returns the number of samples per channel in the frame.
func (f AudioFrame) NumSamples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.NumSamples()) * time.Second / time.Duration(f.SampleRate)
}

// Encode converts the frame into its transport form.
func (f AudioFrame) Encode() EncodedFrame {
	return EncodedFrame{
		MIMEType: pcmMIMEType(f.SampleRate),
		Data:     EncodeTransport(f.Data),
	}
}

// EncodedFrame is the wire form of an [AudioFrame]: the PCM payload carried as
// base64 text plus the MIME type describing it.
type EncodedFrame struct {
	MIMEType string
	Data     string
}

// Decode reverses [AudioFrame.Encode]. The returned frame is mono; its sample
// rate is taken from the rate parameter of the MIME type, or rate when the MIME
// type carries none.
func (e EncodedFrame) Decode(rate int) (AudioFrame, error) {
	pcm, err := DecodeTransport(e.Data)
	if err != nil {
		return AudioFrame{}, err
	}
	if r := rateFromMIMEType(e.MIMEType); r > 0 {
		rate = r
	}
	return AudioFrame{Data: pcm, SampleRate: rate, Channels: 1}, nil
}

func pcmMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

func rateFromMIMEType(mime string) int {
	var rate int
	if _, err := fmt.Sscanf(mime, "audio/pcm;rate=%d", &rate); err != nil {
		return 0
	}
	return rate
}
