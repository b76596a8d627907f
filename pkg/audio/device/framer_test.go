package device

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestFramer_EmitsFixedSizeFrames(t *testing.T) {
	t.Parallel()
	f := newFramer(4, 1, 8)
	f.write([]float32{1, 2, 3})
	select {
	case <-f.out:
		t.Fatal("frame emitted before frameSize samples accumulated")
	default:
	}
	f.write([]float32{4, 5, 6, 7, 8, 9})
	first := <-f.out
	second := <-f.out
	if len(first) != 4 || first[0] != 1 || first[3] != 4 {
		t.Errorf("first frame = %v", first)
	}
	if len(second) != 4 || second[0] != 5 || second[3] != 8 {
		t.Errorf("second frame = %v", second)
	}
	if len(f.pending) != 1 {
		t.Errorf("pending = %d samples, want 1", len(f.pending))
	}
}

func TestFramer_InterleavedChannels(t *testing.T) {
	t.Parallel()
	f := newFramer(2, 2, 1)
	f.write([]float32{1, 1, 2, 2})
	if got := <-f.out; len(got) != 4 {
		t.Errorf("frame len = %d, want 4", len(got))
	}
}

func TestFramer_DropsWhenFull(t *testing.T) {
	t.Parallel()
	f := newFramer(1, 1, 1)
	f.write([]float32{1, 2, 3})
	if got := f.droppedFrames(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}

func TestFramer_F32LE(t *testing.T) {
	t.Parallel()
	f := newFramer(2, 1, 1)
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(-0.5))
	f.writeF32LE(b)
	got := <-f.out
	if got[0] != 0.25 || got[1] != -0.5 {
		t.Errorf("frame = %v, want [0.25 -0.5]", got)
	}
}

func TestFramer_CloseIdempotent(t *testing.T) {
	t.Parallel()
	f := newFramer(1, 1, 1)
	f.close()
	f.close()
	f.write([]float32{1})
	if _, ok := <-f.out; ok {
		t.Error("expected closed channel")
	}
}
