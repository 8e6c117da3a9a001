package ads1115

import (
	"fmt"
	"io"
	"os"

	"periph.io/x/conn/v3"

	"github.com/mhp/gantryio/hwerr"
	"github.com/mhp/gantryio/hwfile"
)

// Bus is an i2c-dev node bound to one peripheral address. It implements
// periph's conn.Conn.
type Bus struct {
	h    hwfile.Handle
	addr uint16
}

var _ conn.Conn = (*Bus)(nil)

// Open acquires the i2c-dev node at path and binds it to addr. A peripheral
// that can't be addressed closes the node again and yields
// hwerr.ErrDeviceNotFound.
func Open(p hwfile.Provider, path string, addr uint16) (*Bus, error) {
	h, err := p.Acquire(path, os.O_RDWR)
	if err != nil {
		return nil, err
	}
	if err := setAddress(h, addr); err != nil {
		h.Close()
		return nil, hwerr.Path(hwerr.ErrDeviceNotFound, "address", path, err)
	}
	return &Bus{h: h, addr: addr}, nil
}

func (b *Bus) String() string {
	return fmt.Sprintf("%s@%#02x", b.h.Name(), b.addr)
}

// Duplex implements conn.Conn.
func (b *Bus) Duplex() conn.Duplex {
	return conn.Half
}

// Tx writes w then reads len(r) bytes, as two separate transfers.
func (b *Bus) Tx(w, r []byte) error {
	if len(w) > 0 {
		n, err := b.h.Write(w)
		if err != nil {
			return err
		}
		if n != len(w) {
			return io.ErrShortWrite
		}
	}
	if len(r) > 0 {
		if _, err := io.ReadFull(b.h, r); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the node.
func (b *Bus) Close() error {
	return b.h.Close()
}
