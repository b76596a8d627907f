package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
)

// DefaultPlaybackQueue is the number of inbound segments buffered between the
// receive pump and the playback dispatcher.
const DefaultPlaybackQueue = 64

// Playback decodes inbound PCM16 segments and schedules them on an
// [audio.OutputContext] back to back: each segment starts no earlier than the
// scheduled end of the one before it, or at the context's current time when
// nothing is pending.
//
// Segments are scheduled in arrival order by a single dispatch goroutine.
// [Playback.Enqueue] never blocks. All exported methods are safe for
// concurrent use.
type Playback struct {
	out     audio.OutputContext
	rate    int // sample rate of inbound payloads
	metrics *observe.Metrics

	queue chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	exited chan struct{}

	// owned by the dispatch goroutine
	nextStart time.Duration
}

// PlaybackOption configures a [Playback].
type PlaybackOption func(*Playback)

// WithQueueSize sets the number of segments buffered ahead of the
// dispatcher. Segments arriving while the queue is full are dropped.
func WithQueueSize(n int) PlaybackOption {
	return func(p *Playback) {
		if n > 0 {
			p.queue = make(chan []byte, n)
		}
	}
}

// WithInputRate sets the sample rate of inbound payloads. Defaults to
// [audio.PlaybackSampleRate].
func WithInputRate(rate int) PlaybackOption {
	return func(p *Playback) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// WithPlaybackMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithPlaybackMetrics(m *observe.Metrics) PlaybackOption {
	return func(p *Playback) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewPlayback returns a Playback writing to out and starts its dispatch
// goroutine. Closing the Playback does not close out.
func NewPlayback(out audio.OutputContext, opts ...PlaybackOption) *Playback {
	p := &Playback{
		out:    out,
		rate:   audio.PlaybackSampleRate,
		queue:  make(chan []byte, DefaultPlaybackQueue),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	go p.dispatch()
	return p
}

// Enqueue hands one inbound PCM16 payload to the dispatcher. Payloads after
// Close, or while the queue is full, are dropped.
func (p *Playback) Enqueue(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- pcm:
	default:
		p.metrics.SegmentsDropped.Add(context.Background(), 1)
		slog.Warn("playback: queue full, dropping segment", "bytes", len(pcm))
	}
}

// Close stops scheduling. Segments still queued are discarded. Close is
// idempotent and does not wait for the dispatcher to exit.
func (p *Playback) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
}

// Done is closed when the dispatch goroutine has exited.
func (p *Playback) Done() <-chan struct{} { return p.exited }

func (p *Playback) dispatch() {
	defer close(p.exited)
	for {
		select {
		case <-p.done:
			return
		case pcm := <-p.queue:
			// Close wins over work that was already queued.
			select {
			case <-p.done:
				return
			default:
			}
			err := p.schedule(pcm)
			switch {
			case err == nil:
			case errors.Is(err, ErrDecode):
				p.metrics.DecodeFailures.Add(context.Background(), 1)
				slog.Warn("playback: skipping segment", "err", err)
			case errors.Is(err, audio.ErrContextClosed):
				return
			default:
				slog.Warn("playback: schedule failed", "err", err)
			}
		}
	}
}

// schedule decodes pcm and places it on the output timeline.
func (p *Playback) schedule(pcm []byte) error {
	if len(pcm) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("%w: odd payload length %d", ErrDecode, len(pcm))
	}

	outRate := p.out.Format().SampleRate
	if outRate > 0 && outRate != p.rate {
		pcm = audio.ResampleMono16(pcm, p.rate, outRate)
	} else {
		outRate = p.rate
	}
	samples := audio.PCM16ToFloat(pcm)
	if len(samples) == 0 {
		return fmt.Errorf("%w: no samples after conversion", ErrDecode)
	}
	dur := time.Duration(len(samples)) * time.Second / time.Duration(outRate)

	start := max(p.nextStart, p.out.CurrentTime())
	if err := p.out.Schedule(samples, start); err != nil {
		return err
	}
	p.nextStart = start + dur
	p.metrics.SegmentsScheduled.Add(context.Background(), 1)
	return nil
}
