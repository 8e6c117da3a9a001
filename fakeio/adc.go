package fakeio

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
)

// ADC simulates the register protocol of a four channel ADS1115 on an i2c
// bus. It implements periph's conn.Conn, so it can stand in for the real bus.
type ADC struct {
	mu      sync.Mutex
	raw     [4]int16
	channel int
	configs [][]byte
	writes  int
	reads   int
	err     error
	closed  bool
}

// NewADC returns a converter reading zero on every channel.
func NewADC() *ADC {
	return &ADC{}
}

// SetRaw sets the raw conversion result for a channel.
func (a *ADC) SetRaw(ch int, v int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw[ch] = v
}

// Fail makes every following transaction return err; nil heals the bus.
func (a *ADC) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Configs returns every configuration word written so far.
func (a *ADC) Configs() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.configs))
	for i, c := range a.configs {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// Counts returns the number of write and read transactions.
func (a *ADC) Counts() (writes, reads int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writes, a.reads
}

// Closed reports whether Close was called.
func (a *ADC) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *ADC) String() string { return "fake-ads1115" }

// Duplex implements conn.Conn.
func (a *ADC) Duplex() conn.Duplex { return conn.Half }

// Tx implements conn.Conn. A 3 byte write to register 1 selects the channel
// from the mux bits, a read returns that channel's result big endian.
func (a *ADC) Tx(w, r []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("bus closed")
	}
	if a.err != nil {
		return a.err
	}
	if len(w) > 0 {
		a.writes++
		if len(w) == 3 && w[0] == 0x01 {
			a.configs = append(a.configs, append([]byte(nil), w...))
			a.channel = int(w[1]>>4) & 0x3
		}
	}
	if len(r) > 0 {
		a.reads++
		v := uint16(a.raw[a.channel])
		r[0] = byte(v >> 8)
		if len(r) > 1 {
			r[1] = byte(v)
		}
	}
	return nil
}

// Close marks the bus closed.
func (a *ADC) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
