package gpio

import (
	"strings"

	"github.com/mhp/gantryio/hwerr"
)

// ParseLevel maps the usual spellings of a logic level to 0 or 1.
func ParseLevel(value string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "off", "low", "false":
		return 0, nil
	case "1", "on", "high", "true":
		return 1, nil
	default:
		return 0, hwerr.InvalidArgument("logic level %q", value)
	}
}
