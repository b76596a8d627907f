package device

import (
	"encoding/binary"
	"math"
	"sync"
)

// framer slices a stream of interleaved float32 device samples into
// fixed-size frames and delivers them on a buffered channel. A frame that
// does not fit in the buffer is dropped and counted.
type framer struct {
	mu      sync.Mutex
	size    int
	pending []float32
	out     chan []float32
	closed  bool
	dropped int
}

func newFramer(frameSize, channels, buffer int) *framer {
	size := max(frameSize, 1) * max(channels, 1)
	return &framer{
		size:    size,
		pending: make([]float32, 0, size),
		out:     make(chan []float32, buffer),
	}
}

// writeF32LE appends little-endian float32 samples as delivered by miniaudio.
func (f *framer) writeF32LE(b []byte) {
	n := len(b) / 4
	samples := make([]float32, n)
	for i := range n {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	f.write(samples)
}

func (f *framer) write(samples []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for len(samples) > 0 {
		take := min(f.size-len(f.pending), len(samples))
		f.pending = append(f.pending, samples[:take]...)
		samples = samples[take:]
		if len(f.pending) < f.size {
			return
		}
		frame := f.pending
		f.pending = make([]float32, 0, f.size)
		select {
		case f.out <- frame:
		default:
			f.dropped++
		}
	}
}

func (f *framer) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.out)
}

func (f *framer) droppedFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
