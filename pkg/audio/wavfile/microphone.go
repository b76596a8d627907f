package wavfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// Microphone streams a WAV file as if it were live capture. Frames are paced
// at the file's real-time rate. Once the file is exhausted the track keeps
// delivering silence so the remote end can detect the end of the turn.
type Microphone struct {
	// Path is the WAV file to stream.
	Path string

	// Loop restarts the file from the beginning instead of padding with silence.
	Loop bool
}

// Open implements [audio.Microphone]. The file's own format is reported by
// the track; want is ignored.
func (m *Microphone) Open(ctx context.Context, _ audio.Format, frameSize int) (audio.Track, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %s: %w", m.Path, err)
	}
	samples, format, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("wavfile: %s: %w", m.Path, err)
	}
	frameSize = max(frameSize, 1)
	t := &track{
		format:  format,
		samples: audio.PCM16ToFloat(audio.Int16ToBytes(samples)),
		stride:  frameSize * format.Channels,
		period:  time.Duration(frameSize) * time.Second / time.Duration(format.SampleRate),
		loop:    m.Loop,
		frames:  make(chan []float32, 4),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run(ctx)
	slog.Debug("wavfile: capture started", "path", m.Path, "format", format.String())
	return t, nil
}

type track struct {
	format  audio.Format
	samples []float32
	stride  int
	period  time.Duration
	loop    bool

	frames chan []float32
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (t *track) Frames() <-chan []float32 { return t.frames }

func (t *track) Format() audio.Format { return t.format }

func (t *track) Stop() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

func (t *track) run(ctx context.Context) {
	defer close(t.done)
	defer close(t.frames)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
		}
		frame := make([]float32, t.stride)
		if pos < len(t.samples) {
			n := copy(frame, t.samples[pos:])
			pos += n
		}
		if t.loop && pos >= len(t.samples) {
			pos = 0
		}
		select {
		case t.frames <- frame:
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		}
	}
}
