// Package sampler runs the background loop that keeps the sample buffer
// filled from the converter.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"github.com/mhp/gantryio/samplebuf"
)

const (
	// DefaultChannelDelay is the pause after each channel.
	DefaultChannelDelay = 100 * time.Millisecond
	// DefaultCycleDelay is the extra pause after a full sweep.
	DefaultCycleDelay = 50 * time.Millisecond
)

// Source converts one channel to millivolts.
type Source interface {
	Sample(ch int) (float64, error)
}

// Stats counts what the loop has done since it was created.
type Stats struct {
	Cycles uint64
	Stale  uint64
}

// Loop sweeps every channel of Source into Buffer until stopped. A failed
// conversion leaves the slot's previous value in place and marks it stale;
// one bad channel never stops the sweep. With a nil Source the loop keeps
// its cadence without touching the bus or the buffer.
type Loop struct {
	Source       Source
	Buffer       *samplebuf.Buffer
	ChannelDelay time.Duration
	CycleDelay   time.Duration
	Clock        clock.Clock
	Logger       golog.Logger

	mu      sync.Mutex
	workers *goutils.StoppableWorkers

	cycles atomic.Uint64
	stale  atomic.Uint64
}

// New returns a stopped loop with the default delays.
func New(src Source, buf *samplebuf.Buffer, clk clock.Clock, logger golog.Logger) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		Source:       src,
		Buffer:       buf,
		ChannelDelay: DefaultChannelDelay,
		CycleDelay:   DefaultCycleDelay,
		Clock:        clk,
		Logger:       logger,
	}
}

// Start launches the loop. Starting a running loop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers != nil {
		return
	}
	if l.Source == nil {
		l.Logger.Infow("sampling without a converter, buffer keeps its values")
	}
	l.workers = goutils.NewBackgroundStoppableWorkers(l.run)
}

// Stop blocks until the loop has exited. The buffer is not written once Stop
// returns.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers == nil {
		return
	}
	l.workers.Stop()
	l.workers = nil
}

// Running reports whether the loop goroutine is live.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workers != nil
}

// Stats returns the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{Cycles: l.cycles.Load(), Stale: l.stale.Load()}
}

func (l *Loop) run(ctx context.Context) {
	for {
		for ch := 0; ch < samplebuf.Channels; ch++ {
			if ctx.Err() != nil {
				return
			}
			if l.Source != nil {
				l.sample(ch)
			}
			if !l.wait(ctx, l.ChannelDelay) {
				return
			}
		}
		l.cycles.Inc()
		if !l.wait(ctx, l.CycleDelay) {
			return
		}
	}
}

func (l *Loop) sample(ch int) {
	mv, err := l.Source.Sample(ch)
	if err != nil {
		l.stale.Inc()
		l.Buffer.MarkStale(ch, err)
		l.Logger.Debugw("adc sample failed, keeping previous value", "channel", ch, "error", err)
		return
	}
	l.Buffer.Store(ch, mv)
}

// wait sleeps for d on the loop clock, returning false if ctx ends first.
func (l *Loop) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := l.Clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
