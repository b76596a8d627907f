package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// FloatToPCM16 converts floating-point samples in [-1, 1] to signed 16-bit
// samples. Out-of-range input is clamped. Negative samples scale by 32768 and
// non-negative samples by 32767, so -1 maps to -32768 and 1 maps to 32767.
// The scaled value is truncated toward zero. NaN encodes as silence.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		s := float64(v)
		if math.IsNaN(s) {
			continue
		}
		s = max(-1, min(1, s))
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

// PCM16ToFloat decodes little-endian int16 PCM into float samples by dividing
// each sample by 32768. A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Int16ToBytes serialises samples as little-endian int16 PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16 parses little-endian int16 PCM. A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// EncodeTransport encodes a binary payload as standard base64 text for
// carriage over a JSON message channel.
func EncodeTransport(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeTransport reverses [EncodeTransport]. The round trip is exact for any
// byte sequence, including empty input.
func DecodeTransport(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode transport: %w", err)
	}
	return b, nil
}
