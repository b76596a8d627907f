package session

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
)

// DefaultFrameSize is the number of samples per capture frame.
const DefaultFrameSize = 4096

// CaptureConfig configures a [Capture].
type CaptureConfig struct {
	// Muted is consulted once per frame. A muted frame is dropped before
	// encoding. Nil means never muted.
	Muted func() bool

	// Send receives each encoded frame in capture order. Required.
	Send func(audio.EncodedFrame)

	// OnDeviceLost is called if the track ends without Stop having been
	// called. May be nil.
	OnDeviceLost func()

	// Metrics counts muted drops. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Capture reads frames from a microphone [audio.Track], converts them to
// 16 kHz mono PCM16, and hands them to the transport. Frames are processed on
// a single goroutine so production order is preserved.
type Capture struct {
	track   audio.Track
	cfg     CaptureConfig
	metrics *observe.Metrics
	conv    audio.FormatConverter

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCapture returns a Capture reading from track. Call [Capture.Start] to
// begin processing.
func NewCapture(track audio.Track, cfg CaptureConfig) *Capture {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Capture{
		track:   track,
		cfg:     cfg,
		metrics: m,
		conv:    audio.FormatConverter{Target: audio.CaptureFormat},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the capture goroutine. It runs until the track's frame
// channel closes, Stop is called, or ctx is cancelled. Start must be called
// at most once.
func (c *Capture) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop ends capture. No frame is handed to Send after Stop returns except
// one already being encoded. Safe to call more than once.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed when the capture goroutine has exited.
func (c *Capture) Done() <-chan struct{} { return c.done }

func (c *Capture) run(ctx context.Context) {
	defer close(c.done)

	format := c.track.Format()
	frames := c.track.Frames()
	var ts time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case samples, ok := <-frames:
			if !ok {
				if !c.stopped() && ctx.Err() == nil && c.cfg.OnDeviceLost != nil {
					c.cfg.OnDeviceLost()
				}
				return
			}
			if c.stopped() {
				return
			}
			ts += c.process(samples, format, ts)
		}
	}
}

// process encodes and sends one frame and returns its duration.
func (c *Capture) process(samples []float32, format audio.Format, ts time.Duration) time.Duration {
	frame := audio.AudioFrame{
		SampleRate: format.SampleRate,
		Channels:   max(format.Channels, 1),
		Timestamp:  ts,
	}
	dur := time.Duration(0)
	if frame.SampleRate > 0 {
		dur = time.Duration(len(samples)/frame.Channels) * time.Second / time.Duration(frame.SampleRate)
	}

	if c.cfg.Muted != nil && c.cfg.Muted() {
		c.metrics.RecordFrameDropped(context.Background(), observe.DropMuted)
		return dur
	}

	frame.Data = audio.Int16ToBytes(audio.FloatToPCM16(samples))
	frame = c.conv.Convert(frame)
	if len(frame.Data) == 0 {
		return dur
	}
	c.cfg.Send(frame.Encode())
	return dur
}

func (c *Capture) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}
