// Package samplebuf holds the most recent converted reading of every ADC
// channel. One goroutine writes, any number read; every slot update is a
// single atomic pointer swap, so readers never see a half written value.
package samplebuf

import (
	"time"

	"go.uber.org/atomic"

	"github.com/mhp/gantryio/hwerr"
)

// Channels is the number of converter inputs.
const Channels = 4

const (
	// DefaultMillivolts seeds every slot before the first conversion.
	DefaultMillivolts = 2500.0
	// DefaultReferenceMillivolts is the nominal supply voltage.
	DefaultReferenceMillivolts = 5000.0
)

// Reading is one slot's value. A reading with a non-nil Err is stale: the
// conversion failed and Millivolts still holds the previous value.
type Reading struct {
	Millivolts float64
	Err        error
	At         time.Time
}

// Stale reports whether the last conversion for this slot failed.
func (r Reading) Stale() bool {
	return r.Err != nil
}

// Buffer is the shared sample array.
type Buffer struct {
	slots [Channels]atomic.Pointer[Reading]
}

// New returns a buffer with every slot at DefaultMillivolts.
func New() *Buffer {
	b := &Buffer{}
	for i := range b.slots {
		b.slots[i].Store(&Reading{Millivolts: DefaultMillivolts})
	}
	return b
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= Channels {
		return hwerr.InvalidArgument("adc channel %d", ch)
	}
	return nil
}

// Store publishes a fresh value for ch.
func (b *Buffer) Store(ch int, mv float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	b.slots[ch].Store(&Reading{Millivolts: mv, At: time.Now()})
	return nil
}

// MarkStale keeps the previous value of ch and records why it was not
// refreshed.
func (b *Buffer) MarkStale(ch int, cause error) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	prev := b.slots[ch].Load()
	b.slots[ch].Store(&Reading{Millivolts: prev.Millivolts, Err: cause, At: prev.At})
	return nil
}

// Load returns the reading of ch.
func (b *Buffer) Load(ch int) (Reading, error) {
	if err := checkChannel(ch); err != nil {
		return Reading{}, err
	}
	return *b.slots[ch].Load(), nil
}

// Millivolts returns just the value of ch.
func (b *Buffer) Millivolts(ch int) (float64, error) {
	r, err := b.Load(ch)
	return r.Millivolts, err
}

// Snapshot copies every slot. Slots are read one at a time, so a snapshot
// can mix readings from consecutive sampling cycles.
func (b *Buffer) Snapshot() [Channels]Reading {
	var out [Channels]Reading
	for i := range b.slots {
		out[i] = *b.slots[i].Load()
	}
	return out
}

// References is the per channel reference voltage table used by the
// temperature conversions.
type References struct {
	slots [Channels]atomic.Float64
}

// NewReferences returns a table at DefaultReferenceMillivolts.
func NewReferences() *References {
	r := &References{}
	for i := range r.slots {
		r.slots[i].Store(DefaultReferenceMillivolts)
	}
	return r
}

// Set updates the reference voltage of ch.
func (r *References) Set(ch int, mv float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if mv <= 0 {
		return hwerr.InvalidArgument("reference voltage %v mV", mv)
	}
	r.slots[ch].Store(mv)
	return nil
}

// Get returns the reference voltage of ch.
func (r *References) Get(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return r.slots[ch].Load(), nil
}
