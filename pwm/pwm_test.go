package pwm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/mhp/gantryio/fakeio"
	"github.com/mhp/gantryio/hwerr"
	"github.com/mhp/gantryio/samplebuf"
)

func newTestChip(t *testing.T) (*Chip, *fakeio.Sysfs, *samplebuf.Buffer) {
	t.Helper()
	fs := fakeio.NewSysfs("/sys/class/gpio", DefaultChip)
	buf := samplebuf.New()
	c := NewChip(fs, buf, golog.NewTestLogger(t))
	c.Timeout = 50 * time.Millisecond
	c.Interval = time.Millisecond
	return c, fs, buf
}

func TestInit(t *testing.T) {
	c, fs, _ := newTestChip(t)
	test.That(t, c.Status(), test.ShouldBeFalse)

	test.That(t, c.Init(context.Background()), test.ShouldBeNil)
	test.That(t, c.Status(), test.ShouldBeTrue)
	test.That(t, fs.WritesTo(DefaultChip+"/export"), test.ShouldResemble, []string{"0", "1"})
	for ch := 0; ch < Channels; ch++ {
		for _, attr := range []string{"enable", "duty_cycle", "period"} {
			test.That(t, fs.Locked(fs.PWMPath(ch, attr)), test.ShouldBeTrue)
		}
	}

	// A second Init keeps what it has.
	test.That(t, c.Init(context.Background()), test.ShouldBeNil)
	test.That(t, len(fs.WritesTo(DefaultChip+"/export")), test.ShouldEqual, 2)
}

func TestInitRollback(t *testing.T) {
	c, fs, _ := newTestChip(t)
	fs.Create(fs.PWMPath(1, "enable"), "0")
	fs.Create(fs.PWMPath(1, "duty_cycle"), "0")
	fs.Create(fs.PWMPath(1, "period"), "0")

	held, err := fs.Acquire(fs.PWMPath(1, "period"), 0)
	test.That(t, err, test.ShouldBeNil)
	defer held.Close()

	err = c.Init(context.Background())
	test.That(t, errors.Is(err, hwerr.ErrLock), test.ShouldBeTrue)
	test.That(t, c.Status(), test.ShouldBeFalse)
	for ch := 0; ch < Channels; ch++ {
		test.That(t, fs.Locked(fs.PWMPath(ch, "enable")), test.ShouldBeFalse)
		test.That(t, fs.Locked(fs.PWMPath(ch, "duty_cycle")), test.ShouldBeFalse)
	}
	test.That(t, fs.Locked(fs.PWMPath(0, "period")), test.ShouldBeFalse)
}

func TestInitSlowExport(t *testing.T) {
	c, fs, _ := newTestChip(t)
	fs.ExportLag = 3

	test.That(t, c.Init(context.Background()), test.ShouldBeNil)
	test.That(t, c.Status(), test.ShouldBeTrue)
	for ch := 0; ch < Channels; ch++ {
		test.That(t, fs.Locked(fs.PWMPath(ch, "period")), test.ShouldBeTrue)
	}
	test.That(t, c.Close(), test.ShouldBeNil)
}

func TestInitPeriodNeverAppears(t *testing.T) {
	c, fs, _ := newTestChip(t)
	fs.OnWrite(DefaultChip+"/export", func(string) {
		fs.Create(fs.PWMPath(0, "enable"), "0")
		fs.Create(fs.PWMPath(0, "duty_cycle"), "0")
	})

	err := c.Init(context.Background())
	test.That(t, errors.Is(err, hwerr.ErrTimeout), test.ShouldBeTrue)
	test.That(t, c.Status(), test.ShouldBeFalse)
	test.That(t, fs.Locked(fs.PWMPath(0, "enable")), test.ShouldBeFalse)
}

func TestInitNoChip(t *testing.T) {
	c := NewChip(fakeio.New(), nil, golog.NewTestLogger(t))
	err := c.Init(context.Background())
	test.That(t, errors.Is(err, hwerr.ErrOpen), test.ShouldBeTrue)
	test.That(t, c.Status(), test.ShouldBeFalse)
	test.That(t, c.Close(), test.ShouldBeNil)
}

func TestSetDutyCycle(t *testing.T) {
	c, fs, _ := newTestChip(t)
	test.That(t, c.Init(context.Background()), test.ShouldBeNil)

	test.That(t, c.SetDutyCycle(0, 0.25, 1000), test.ShouldBeNil)
	var got []fakeio.Write
	for _, w := range fs.Log() {
		if w.Path != DefaultChip+"/export" {
			got = append(got, w)
		}
	}
	test.That(t, got, test.ShouldResemble, []fakeio.Write{
		{Path: fs.PWMPath(0, "enable"), Data: "0"},
		{Path: fs.PWMPath(0, "period"), Data: "1000000"},
		{Path: fs.PWMPath(0, "duty_cycle"), Data: "250000"},
		{Path: fs.PWMPath(0, "enable"), Data: "1"},
	})

	d, err := c.DutyCycle(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, 0.25)
	f, err := c.Frequency(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldEqual, 1000.0)

	// The other channel is untouched.
	d, _ = c.DutyCycle(1)
	test.That(t, d, test.ShouldEqual, 0.5)
	test.That(t, fs.WritesTo(fs.PWMPath(1, "enable")), test.ShouldBeEmpty)
}

func TestSetDutyCycleShrinkingPeriod(t *testing.T) {
	c, fs, _ := newTestChip(t)
	test.That(t, c.Init(context.Background()), test.ShouldBeNil)

	test.That(t, c.SetDutyCycle(1, 0.9, 100), test.ShouldBeNil)
	test.That(t, c.SetDutyCycle(1, 0.5, 10000), test.ShouldBeNil)

	var seq []string
	for _, w := range fs.Log() {
		switch w.Path {
		case fs.PWMPath(1, "period"):
			seq = append(seq, "period="+w.Data)
		case fs.PWMPath(1, "duty_cycle"):
			seq = append(seq, "duty="+w.Data)
		}
	}
	test.That(t, seq, test.ShouldResemble, []string{
		"period=10000000", "duty=9000000",
		"duty=50000", "period=100000",
	})
}

func TestSetDutyCycleClamps(t *testing.T) {
	c, fs, _ := newTestChip(t)
	test.That(t, c.Init(context.Background()), test.ShouldBeNil)

	test.That(t, c.SetDutyCycle(0, -0.5, 1000), test.ShouldBeNil)
	d, _ := c.DutyCycle(0)
	test.That(t, d, test.ShouldEqual, 0.0)
	test.That(t, fs.WritesTo(fs.PWMPath(0, "duty_cycle")), test.ShouldResemble, []string{"0"})

	test.That(t, c.SetDutyCycle(0, 1.5, 1000), test.ShouldBeNil)
	d, _ = c.DutyCycle(0)
	test.That(t, d, test.ShouldEqual, 1.0)

	test.That(t, c.SetDutyCycle(0, 0.5, 2e5), test.ShouldBeNil)
	f, _ := c.Frequency(0)
	test.That(t, f, test.ShouldBeLessThanOrEqualTo, 1e5)
	periods := fs.WritesTo(fs.PWMPath(0, "period"))
	test.That(t, periods[len(periods)-1], test.ShouldEqual, "10000")
}

func TestSetDutyCycleInvalid(t *testing.T) {
	c, fs, _ := newTestChip(t)
	test.That(t, c.Init(context.Background()), test.ShouldBeNil)
	before := len(fs.Log())

	for _, tc := range []struct {
		ch         int
		duty, freq float64
	}{
		{2, 0.5, 1000},
		{-1, 0.5, 1000},
		{0, 0.5, 0},
		{0, 0.5, -10},
	} {
		err := c.SetDutyCycle(tc.ch, tc.duty, tc.freq)
		test.That(t, errors.Is(err, hwerr.ErrInvalidArgument), test.ShouldBeTrue)
	}
	test.That(t, len(fs.Log()), test.ShouldEqual, before)

	_, err := c.DutyCycle(3)
	test.That(t, errors.Is(err, hwerr.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestSoftMode(t *testing.T) {
	buf := samplebuf.New()
	c := NewChip(fakeio.New(), buf, golog.NewTestLogger(t))
	test.That(t, c.Init(context.Background()), test.ShouldNotBeNil)

	test.That(t, c.SetDutyCycle(0, 0.3, 1000), test.ShouldBeNil)
	mv, err := buf.Millivolts(EstimateSlot(0))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mv, test.ShouldAlmostEqual, 1500, 1e-9)

	test.That(t, c.SetDutyCycle(1, 2, 1000), test.ShouldBeNil)
	mv, _ = buf.Millivolts(EstimateSlot(1))
	test.That(t, mv, test.ShouldEqual, 5000.0)

	// Slots of the converter's own inputs are left alone.
	mv, _ = buf.Millivolts(0)
	test.That(t, mv, test.ShouldEqual, samplebuf.DefaultMillivolts)

	d, _ := c.DutyCycle(0)
	test.That(t, d, test.ShouldEqual, 0.3)
}

func TestWriteFailure(t *testing.T) {
	c, fs, _ := newTestChip(t)
	test.That(t, c.Init(context.Background()), test.ShouldBeNil)
	fs.Fail(fs.PWMPath(0, "period"), errors.New("invalid argument"))

	err := c.SetDutyCycle(0, 0.5, 1000)
	test.That(t, errors.Is(err, hwerr.ErrIO), test.ShouldBeTrue)
	test.That(t, fs.WritesTo(fs.PWMPath(0, "enable")), test.ShouldResemble, []string{"0"})
}

func TestClose(t *testing.T) {
	c, fs, _ := newTestChip(t)
	test.That(t, c.Init(context.Background()), test.ShouldBeNil)
	test.That(t, c.SetDutyCycle(0, 0.5, 1000), test.ShouldBeNil)

	test.That(t, c.Close(), test.ShouldBeNil)
	test.That(t, c.Status(), test.ShouldBeFalse)
	test.That(t, fs.WritesTo(DefaultChip+"/unexport"), test.ShouldResemble, []string{"0", "1"})
	test.That(t, fs.WritesTo(fs.PWMPath(1, "enable")), test.ShouldResemble, []string{"0"})
	test.That(t, fs.Exists(fs.PWMPath(0, "enable")), test.ShouldBeFalse)

	// Nothing held, nothing to do.
	test.That(t, c.Close(), test.ShouldBeNil)
	test.That(t, len(fs.WritesTo(DefaultChip+"/unexport")), test.ShouldEqual, 2)
}

func TestCloseWithoutUnexport(t *testing.T) {
	c, fs, _ := newTestChip(t)
	test.That(t, c.Init(context.Background()), test.ShouldBeNil)
	fs.Remove(DefaultChip + "/unexport")

	err := c.Close()
	test.That(t, errors.Is(err, hwerr.ErrOpen), test.ShouldBeTrue)
	test.That(t, c.Status(), test.ShouldBeFalse)
	test.That(t, fs.Locked(fs.PWMPath(0, "enable")), test.ShouldBeFalse)
}
