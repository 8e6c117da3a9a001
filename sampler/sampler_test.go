package sampler

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/goleak"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/mhp/gantryio/ads1115"
	"github.com/mhp/gantryio/fakeio"
	"github.com/mhp/gantryio/samplebuf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLoop(t *testing.T) (*Loop, *fakeio.ADC, *samplebuf.Buffer) {
	t.Helper()
	adc := fakeio.NewADC()
	dev := ads1115.NewDevice(adc, clock.New())
	dev.Settle = 0
	buf := samplebuf.New()
	l := New(dev, buf, clock.New(), golog.NewTestLogger(t))
	l.ChannelDelay = time.Millisecond
	l.CycleDelay = time.Millisecond
	return l, adc, buf
}

func TestLoopFillsBuffer(t *testing.T) {
	l, adc, buf := newTestLoop(t)
	for ch := 0; ch < samplebuf.Channels; ch++ {
		adc.SetRaw(ch, int16(1000*(ch+1)))
	}

	l.Start()
	defer l.Stop()
	test.That(t, l.Running(), test.ShouldBeTrue)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, l.Stats().Cycles, test.ShouldBeGreaterThanOrEqualTo, 2)
	})
	for ch := 0; ch < samplebuf.Channels; ch++ {
		mv, err := buf.Millivolts(ch)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mv, test.ShouldAlmostEqual, ads1115.RawToMillivolts(int16(1000*(ch+1)), ads1115.Range4V), 1e-9)
	}
	test.That(t, l.Stats().Stale, test.ShouldEqual, uint64(0))
}

func TestLoopStaleKeepsValue(t *testing.T) {
	l, adc, buf := newTestLoop(t)
	adc.SetRaw(1, 4096)

	l.Start()
	defer l.Stop()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, l.Stats().Cycles, test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	good, _ := buf.Millivolts(1)
	test.That(t, good, test.ShouldAlmostEqual, 512.0, 1e-9)

	adc.Fail(errors.New("remote i/o error"))
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		r, err := buf.Load(1)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, r.Stale(), test.ShouldBeTrue)
	})
	r, _ := buf.Load(1)
	test.That(t, r.Millivolts, test.ShouldEqual, good)
	test.That(t, l.Stats().Stale, test.ShouldBeGreaterThan, 0)

	// The loop keeps going and recovers once the bus does.
	adc.Fail(nil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		r, _ := buf.Load(1)
		test.That(tb, r.Stale(), test.ShouldBeFalse)
	})
}

func TestStopFreezesBuffer(t *testing.T) {
	l, adc, buf := newTestLoop(t)
	adc.SetRaw(0, 100)

	l.Start()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, l.Stats().Cycles, test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	l.Stop()
	test.That(t, l.Running(), test.ShouldBeFalse)

	snap := buf.Snapshot()
	_, reads := adc.Counts()
	adc.SetRaw(0, 20000)
	time.Sleep(20 * l.ChannelDelay)

	test.That(t, buf.Snapshot(), test.ShouldResemble, snap)
	_, after := adc.Counts()
	test.That(t, after, test.ShouldEqual, reads)

	// Stopping twice is fine.
	l.Stop()
}

func TestLoopWithoutSource(t *testing.T) {
	buf := samplebuf.New()
	l := New(nil, buf, clock.New(), golog.NewTestLogger(t))
	l.ChannelDelay = time.Millisecond
	l.CycleDelay = time.Millisecond
	test.That(t, buf.Store(2, 1500), test.ShouldBeNil)

	l.Start()
	l.Start()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, l.Stats().Cycles, test.ShouldBeGreaterThanOrEqualTo, 3)
	})
	l.Stop()

	snap := buf.Snapshot()
	test.That(t, snap[0].Millivolts, test.ShouldEqual, samplebuf.DefaultMillivolts)
	test.That(t, snap[2].Millivolts, test.ShouldEqual, 1500.0)
	test.That(t, l.Stats().Stale, test.ShouldEqual, uint64(0))
}

func TestStopInterruptsLongDelay(t *testing.T) {
	l, _, _ := newTestLoop(t)
	l.ChannelDelay = time.Hour

	l.Start()
	start := time.Now()
	l.Stop()
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)
}

func TestMockClockCadence(t *testing.T) {
	mock := clock.NewMock()
	buf := samplebuf.New()
	l := New(nil, buf, mock, golog.NewTestLogger(t))

	l.Start()
	defer l.Stop()
	// Four channel delays and one cycle delay make up a sweep.
	sweep := 4*DefaultChannelDelay + DefaultCycleDelay
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mock.Add(DefaultChannelDelay)
		test.That(tb, l.Stats().Cycles, test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	test.That(t, mock.Since(time.Unix(0, 0)), test.ShouldBeGreaterThanOrEqualTo, sweep-DefaultChannelDelay)
}
