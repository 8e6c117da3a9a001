package gpio

import (
	"errors"
	"testing"

	"go.viam.com/test"

	"github.com/mhp/gantryio/hwerr"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]int{
		"on": 1, "HIGH": 1, "1": 1, "true": 1,
		"off": 0, " low ": 0, "0": 0, "False": 0,
	} {
		got, err := ParseLevel(in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}

	_, err := ParseLevel("maybe")
	test.That(t, errors.Is(err, hwerr.ErrInvalidArgument), test.ShouldBeTrue)
}
