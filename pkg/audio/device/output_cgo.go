//go:build cgo

package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// oto allows a single context per process; every OutputContext shares it and
// owns a player of its own.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func sharedContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		opts := &oto.NewContextOptions{
			SampleRate:   audio.PlaybackSampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   outputBufferSize,
		}
		ctx, ready, err := oto.NewContext(opts)
		if err != nil {
			otoErr = fmt.Errorf("audio/device: init speaker: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

// OutputContext plays scheduled segments on the default output device at
// [audio.PlaybackSampleRate].
type OutputContext struct {
	tl     *timeline
	player *oto.Player
	once   sync.Once
}

// NewOutputContext opens the speaker and starts the output clock.
func NewOutputContext() (*OutputContext, error) {
	ctx, err := sharedContext()
	if err != nil {
		return nil, err
	}
	tl := newTimeline(audio.PlaybackSampleRate)
	p := ctx.NewPlayer(tl)
	p.Play()
	return &OutputContext{tl: tl, player: p}, nil
}

// Format implements [audio.OutputContext].
func (o *OutputContext) Format() audio.Format { return audio.PlaybackFormat }

// CurrentTime implements [audio.OutputContext].
func (o *OutputContext) CurrentTime() time.Duration { return o.tl.now() }

// Schedule implements [audio.OutputContext].
func (o *OutputContext) Schedule(samples []float32, at time.Duration) error {
	return o.tl.schedule(samples, at)
}

// Close implements [audio.OutputContext].
func (o *OutputContext) Close() error {
	var err error
	o.once.Do(func() {
		o.tl.close()
		err = o.player.Close()
	})
	return err
}
