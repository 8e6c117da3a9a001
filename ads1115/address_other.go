//go:build !linux

package ads1115

import (
	"github.com/pkg/errors"

	"github.com/mhp/gantryio/hwfile"
)

func setAddress(hwfile.Handle, uint16) error {
	return errors.New("i2c-dev is only available on linux")
}
