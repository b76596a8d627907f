// Package wavfile provides a headless [audio.Microphone] and
// [audio.OutputContext] backed by WAV files. It lets a session run on a
// machine without sound hardware: input is streamed from a file in real time
// and everything the model says is written to another file on Close.
package wavfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// header is the canonical 44-byte PCM WAV header.
type header struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

const headerSize = 44

// ErrInvalid is returned by [Decode] for data that is not 16-bit PCM WAV.
var ErrInvalid = errors.New("wavfile: invalid WAV data")

// Encode wraps interleaved PCM16 samples in a WAV container.
func Encode(samples []int16, format audio.Format) ([]byte, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("wavfile: invalid format %s", format)
	}
	channels := uint16(format.Channels)
	dataSize := uint32(len(samples) * 2)
	h := header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate) * uint32(channels) * 2,
		BlockAlign:    channels * 2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("wavfile: write header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("wavfile: write samples: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a canonical 16-bit PCM WAV file and returns its interleaved
// samples and format.
func Decode(data []byte) ([]int16, audio.Format, error) {
	if len(data) < headerSize {
		return nil, audio.Format{}, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalid, headerSize, len(data))
	}
	var h header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: read header: %w", err)
	}
	switch {
	case string(h.ChunkID[:]) != "RIFF", string(h.Format[:]) != "WAVE":
		return nil, audio.Format{}, fmt.Errorf("%w: missing RIFF/WAVE marker", ErrInvalid)
	case string(h.Subchunk1ID[:]) != "fmt ", string(h.Subchunk2ID[:]) != "data":
		return nil, audio.Format{}, fmt.Errorf("%w: unexpected chunk layout", ErrInvalid)
	case h.AudioFormat != 1 || h.BitsPerSample != 16:
		return nil, audio.Format{}, fmt.Errorf("%w: only 16-bit PCM is supported", ErrInvalid)
	case h.NumChannels == 0 || h.SampleRate == 0:
		return nil, audio.Format{}, fmt.Errorf("%w: zero channels or sample rate", ErrInvalid)
	}
	payload := data[headerSize:]
	if n := int(h.Subchunk2Size); n < len(payload) {
		payload = payload[:n]
	}
	format := audio.Format{SampleRate: int(h.SampleRate), Channels: int(h.NumChannels)}
	return audio.BytesToInt16(payload), format, nil
}
