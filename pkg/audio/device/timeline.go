package device

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// segment is a block of mono samples placed at an absolute sample position.
type segment struct {
	start   int64
	samples []float32
}

func (s segment) end() int64 { return s.start + int64(len(s.samples)) }

// timeline renders scheduled segments as a continuous PCM16 stream. Its clock
// is the number of samples pulled by the reader, so CurrentTime follows the
// device rather than the wall clock. Overlapping segments are summed and
// clipped. Gaps render as silence.
type timeline struct {
	mu     sync.Mutex
	rate   int
	pos    int64
	segs   []segment
	closed bool
}

func newTimeline(rate int) *timeline {
	return &timeline{rate: rate}
}

func (t *timeline) now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.pos)
}

func (t *timeline) schedule(samples []float32, at time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return audio.ErrContextClosed
	}
	if len(samples) == 0 {
		return nil
	}
	start := max(t.toSamples(at), t.pos)
	seg := segment{start: start, samples: samples}
	i := sort.Search(len(t.segs), func(i int) bool { return t.segs[i].start > start })
	t.segs = append(t.segs, segment{})
	copy(t.segs[i+1:], t.segs[i:])
	t.segs[i] = seg
	return nil
}

func (t *timeline) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.segs = nil
}

// Read implements io.Reader for the oto player. It never blocks: when nothing
// is scheduled it returns silence so the clock keeps advancing.
func (t *timeline) Read(p []byte) (int, error) {
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.EOF
	}
	mix := make([]float32, n)
	from, to := t.pos, t.pos+int64(n)
	kept := t.segs[:0]
	for _, s := range t.segs {
		if s.start >= to {
			kept = append(kept, s)
			continue
		}
		lo := max(s.start, from)
		hi := min(s.end(), to)
		for i := lo; i < hi; i++ {
			mix[i-from] += s.samples[i-s.start]
		}
		if s.end() > to {
			kept = append(kept, s)
		}
	}
	t.segs = kept
	t.pos = to
	t.mu.Unlock()

	copy(p, audio.Int16ToBytes(audio.FloatToPCM16(mix)))
	return n * 2, nil
}

func (t *timeline) toSamples(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d) * int64(t.rate) / int64(time.Second)
}

func (t *timeline) toDuration(samples int64) time.Duration {
	return time.Duration(samples * int64(time.Second) / int64(t.rate))
}
