package device

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/MrWong99/livevoice/pkg/audio"
)

func readSamples(t *testing.T, tl *timeline, n int) []int16 {
	t.Helper()
	buf := make([]byte, n*2)
	got, err := tl.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != len(buf) {
		t.Fatalf("Read returned %d bytes, want %d", got, len(buf))
	}
	return audio.BytesToInt16(buf)
}

func TestTimeline_SilenceAdvancesClock(t *testing.T) {
	t.Parallel()
	tl := newTimeline(1000)
	out := readSamples(t, tl, 250)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %d, want silence", i, s)
		}
	}
	if got := tl.now(); got != 250*time.Millisecond {
		t.Errorf("now() = %v, want 250ms", got)
	}
}

func TestTimeline_PlaysAtScheduledTime(t *testing.T) {
	t.Parallel()
	tl := newTimeline(1000)
	if err := tl.schedule([]float32{1, 1}, 3*time.Millisecond); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	out := readSamples(t, tl, 6)
	want := []int16{0, 0, 0, 32767, 32767, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestTimeline_PastStartPlaysImmediately(t *testing.T) {
	t.Parallel()
	tl := newTimeline(1000)
	readSamples(t, tl, 10)
	if err := tl.schedule([]float32{0.5}, 2*time.Millisecond); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	out := readSamples(t, tl, 2)
	if out[0] != 16383 {
		t.Errorf("first sample = %d, want 16383", out[0])
	}
}

func TestTimeline_SegmentSpansReads(t *testing.T) {
	t.Parallel()
	tl := newTimeline(1000)
	_ = tl.schedule([]float32{0.5, 0.5, 0.5, 0.5}, 0)
	first := readSamples(t, tl, 2)
	second := readSamples(t, tl, 4)
	if first[0] != 16383 || first[1] != 16383 {
		t.Errorf("first read = %v", first)
	}
	if second[0] != 16383 || second[1] != 16383 || second[2] != 0 {
		t.Errorf("second read = %v", second)
	}
	if len(tl.segs) != 0 {
		t.Errorf("expected finished segment to be dropped, %d remain", len(tl.segs))
	}
}

func TestTimeline_Close(t *testing.T) {
	t.Parallel()
	tl := newTimeline(1000)
	tl.close()
	if err := tl.schedule([]float32{1}, 0); !errors.Is(err, audio.ErrContextClosed) {
		t.Errorf("schedule after close: err = %v, want ErrContextClosed", err)
	}
	if _, err := tl.Read(make([]byte, 4)); !errors.Is(err, io.EOF) {
		t.Errorf("Read after close: err = %v, want io.EOF", err)
	}
}
