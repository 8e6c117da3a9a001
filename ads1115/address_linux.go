package ads1115

import (
	"golang.org/x/sys/unix"

	"github.com/mhp/gantryio/hwfile"
)

// See: https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/tree/Documentation/i2c/dev-interface

// i2cSlave is I2C_SLAVE from linux/i2c-dev.h.
const i2cSlave = 0x0703

func setAddress(h hwfile.Handle, addr uint16) error {
	return unix.IoctlSetInt(int(h.Fd()), i2cSlave, int(addr))
}
