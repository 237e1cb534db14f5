package motor

import (
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/faults"
	"github.com/lawndon/go-controller/pkg/sensor"
	"github.com/lawndon/go-controller/pkg/tacho"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

const tick = 20 * time.Millisecond

type recordingSink struct {
	values map[actuator.Kind]int
	fail   bool
}

func (r *recordingSink) SetActuator(kind actuator.Kind, value int) error {
	if r.fail {
		return errors.New("bus error")
	}
	r.values[kind] = value
	return nil
}

func testConfig() Config {
	c := DefaultConfig()
	c.SpeedMaxPwm = 255
	c.SpeedMaxRpm = 30
	c.PowerMax = 1
	c.SettleTime = 200 * time.Millisecond
	c.SampleWindow = 100 * time.Millisecond
	c.StallWindows = 3
	c.StallRpm = 1
	c.StuckTime = time.Second
	c.ObstacleRpmRatio = 0.3
	c.ObstacleTicks = 3
	c.SpinUpTime = 200 * time.Millisecond
	c.MowPulsesPerRev = 2
	return c
}

func newModel(t *testing.T) (*Model, *recordingSink) {
	sink := &recordingSink{values: map[actuator.Kind]int{}}
	m := New(testConfig(), sink, golog.NewTestLogger(t))
	m.Reset(t0)
	return m, sink
}

func TestClamp(t *testing.T) {
	m, sink := newModel(t)
	m.SetMotorPwm(1000, -1000)
	m.SetMotorMowPwm(-5)
	expectInt(t, "left set", m.LeftSet(), 255)
	expectInt(t, "right set", m.RightSet(), -255)

	expectNoErr(t, m.Commit(t0, false))
	expectInt(t, "left out", sink.values[actuator.MotorLeft], 255)
	expectInt(t, "right out", sink.values[actuator.MotorRight], -255)
	expectInt(t, "mow out", sink.values[actuator.MotorMow], 0)
}

func TestReversalInsertsZeroTick(t *testing.T) {
	m, sink := newModel(t)
	now := t0

	m.SetMotorPwm(200, 200)
	expectNoErr(t, m.Commit(now, false))
	expectInt(t, "left out", sink.values[actuator.MotorLeft], 200)

	m.SetMotorPwm(-150, 200)
	var sawZero bool
	for i := 0; i < 50; i++ {
		now = now.Add(tick)
		prev := m.LeftOutput()
		expectNoErr(t, m.Commit(now, false))
		out := sink.values[actuator.MotorLeft]
		if prev*out < 0 {
			t.Fatalf("output flipped sign from %d to %d in one tick", prev, out)
		}
		if out == 0 {
			sawZero = true
			if !m.LeftChangeDir() && i == 0 {
				t.Fatal("expected change-dir flag while settling")
			}
		}
		if out == -150 {
			break
		}
	}
	if !sawZero {
		t.Fatal("expected an intermediate zero tick")
	}
	expectInt(t, "left out", m.LeftOutput(), -150)
	expectInt(t, "right out", m.RightOutput(), 200)
	if now.Sub(t0) < testConfig().SettleTime {
		t.Fatalf("reversal applied after %v, before settle time", now.Sub(t0))
	}
}

func TestReversalWithoutSettleTimeStillZeroes(t *testing.T) {
	sink := &recordingSink{values: map[actuator.Kind]int{}}
	cfg := testConfig()
	cfg.SettleTime = 0
	m := New(cfg, sink, golog.NewTestLogger(t))
	m.Reset(t0)

	m.SetMotorPwm(100, 100)
	expectNoErr(t, m.Commit(t0, false))
	m.SetMotorPwm(-100, -100)
	expectNoErr(t, m.Commit(t0.Add(tick), false))
	expectInt(t, "left out", sink.values[actuator.MotorLeft], 0)
	expectInt(t, "right out", sink.values[actuator.MotorRight], 0)
	expectNoErr(t, m.Commit(t0.Add(2*tick), false))
	expectInt(t, "left out", sink.values[actuator.MotorLeft], -100)
}

func TestStoppedWheelReversesDirectly(t *testing.T) {
	m, sink := newModel(t)
	m.SetMotorPwm(100, 100)
	expectNoErr(t, m.Commit(t0, false))
	m.SetMotorPwm(0, 0)
	expectNoErr(t, m.Commit(t0.Add(tick), false))
	expectNoErr(t, m.Commit(t0.Add(tick+time.Second), false))

	m.SetMotorPwm(-100, -100)
	expectNoErr(t, m.Commit(t0.Add(tick+time.Second+tick), false))
	expectInt(t, "left out", sink.values[actuator.MotorLeft], -100)
}

func TestEmergencyZeroesEverything(t *testing.T) {
	m, sink := newModel(t)
	m.SetMotorPwm(200, -200)
	m.SetMowEnable(true)
	m.SetMotorMowPwm(180)
	expectNoErr(t, m.Commit(t0, false))
	expectInt(t, "mow out", sink.values[actuator.MotorMow], 180)

	expectNoErr(t, m.Commit(t0.Add(tick), true))
	for _, k := range []actuator.Kind{actuator.MotorLeft, actuator.MotorRight, actuator.MotorMow} {
		expectInt(t, k.String(), sink.values[k], 0)
	}
}

func TestMowForceOff(t *testing.T) {
	m, sink := newModel(t)
	m.SetMowEnable(true)
	m.SetMotorMowPwm(100)
	m.SetMowForceOff(true)
	expectNoErr(t, m.Commit(t0, false))
	expectInt(t, "mow out", sink.values[actuator.MotorMow], 0)

	m.SetMowForceOff(false)
	m.SetMowEnable(false)
	expectNoErr(t, m.Commit(t0, false))
	expectInt(t, "mow out", sink.values[actuator.MotorMow], 0)
}

func TestMowStallSetAndClear(t *testing.T) {
	m, _ := newModel(t)
	var errs faults.Set
	m.SetMowEnable(true)
	m.SetMotorMowPwm(200)

	now := t0
	expectNoErr(t, m.Commit(now, false))
	for w := 0; w < testConfig().StallWindows; w++ {
		if errs.IsSet(faults.MotorMow) {
			t.Fatalf("fault set after only %d windows", w)
		}
		now = now.Add(testConfig().SampleWindow)
		m.Update(now, sensor.Readings{}, &errs, false)
		expectNoErr(t, m.Commit(now, false))
	}
	if !errs.IsSet(faults.MotorMow) {
		t.Fatal("expected mow fault after stalled windows")
	}

	m.MowCounter().Add(10)
	now = now.Add(testConfig().SampleWindow)
	m.Update(now, sensor.Readings{}, &errs, false)
	if errs.IsSet(faults.MotorMow) {
		t.Fatal("mow fault should clear once pulses resume")
	}
	// 10 pulses / 2 per rev in 100ms.
	if rpm := m.MowRpm(); rpm < 2999 || rpm > 3001 {
		t.Fatalf("mow rpm = %v, want 3000", rpm)
	}
}

func TestMowNotCommandedIsNotAStall(t *testing.T) {
	m, _ := newModel(t)
	var errs faults.Set
	now := t0
	for w := 0; w < 2*testConfig().StallWindows; w++ {
		now = now.Add(testConfig().SampleWindow)
		m.Update(now, sensor.Readings{}, &errs, false)
		expectNoErr(t, m.Commit(now, false))
	}
	if errs.AnySet() {
		t.Fatalf("unexpected faults %v", errs.String())
	}
}

func TestMowFaultHeldWhileForcedOff(t *testing.T) {
	m, _ := newModel(t)
	var errs faults.Set
	m.SetMowEnable(true)
	m.SetMotorMowPwm(200)
	now := t0
	expectNoErr(t, m.Commit(now, false))
	for w := 0; w < testConfig().StallWindows; w++ {
		now = now.Add(testConfig().SampleWindow)
		m.Update(now, sensor.Readings{}, &errs, false)
		expectNoErr(t, m.Commit(now, false))
	}
	if !errs.IsSet(faults.MotorMow) {
		t.Fatal("expected mow fault")
	}

	m.SetMowForceOff(true)
	expectNoErr(t, m.Commit(now, false))
	for w := 0; w < 3*testConfig().StallWindows; w++ {
		now = now.Add(testConfig().SampleWindow)
		m.Update(now, sensor.Readings{}, &errs, false)
		expectNoErr(t, m.Commit(now, false))
	}
	if !errs.IsSet(faults.MotorMow) {
		t.Fatal("mow fault cleared while the blade was off")
	}

	// Pulses while not commanded prove nothing.
	m.MowCounter().Add(10)
	now = now.Add(testConfig().SampleWindow)
	m.Update(now, sensor.Readings{}, &errs, false)
	if !errs.IsSet(faults.MotorMow) {
		t.Fatal("mow fault cleared by pulses the blade was not driven for")
	}

	m.SetMowForceOff(false)
	expectNoErr(t, m.Commit(now, false))
	m.MowCounter().Add(10)
	now = now.Add(testConfig().SampleWindow)
	m.Update(now, sensor.Readings{}, &errs, false)
	if errs.IsSet(faults.MotorMow) {
		t.Fatal("mow fault should clear once the driven blade turns")
	}
}

func TestWheelFaultHeldWhileStopped(t *testing.T) {
	m, _ := newModel(t)
	var errs faults.Set
	m.SetMotorPwm(100, 100)
	now := t0
	expectNoErr(t, m.Commit(now, false))
	for w := 0; w < testConfig().StallWindows; w++ {
		now = now.Add(testConfig().SampleWindow)
		m.Update(now, sensor.Readings{RightRpm: 12}, &errs, false)
		expectNoErr(t, m.Commit(now, false))
	}
	if !errs.IsSet(faults.MotorLeft) {
		t.Fatal("expected left fault")
	}

	m.SetMotorPwm(0, 0)
	expectNoErr(t, m.Commit(now, false))
	for w := 0; w < 3*testConfig().StallWindows; w++ {
		now = now.Add(testConfig().SampleWindow)
		m.Update(now, sensor.Readings{}, &errs, false)
		expectNoErr(t, m.Commit(now, false))
	}
	if !errs.IsSet(faults.MotorLeft) {
		t.Fatal("left fault cleared while the wheel was stopped")
	}

	m.ClearFaults(&errs)
	if errs.AnySet() {
		t.Fatalf("faults after clear: %v", errs.String())
	}
}

func TestPartialStallDroppedWhenIdle(t *testing.T) {
	m, _ := newModel(t)
	var errs faults.Set
	m.SetMowEnable(true)
	m.SetMotorMowPwm(200)
	now := t0
	expectNoErr(t, m.Commit(now, false))
	for w := 0; w < testConfig().StallWindows-1; w++ {
		now = now.Add(testConfig().SampleWindow)
		m.Update(now, sensor.Readings{}, &errs, false)
		expectNoErr(t, m.Commit(now, false))
	}

	m.SetMowEnable(false)
	expectNoErr(t, m.Commit(now, false))
	now = now.Add(testConfig().SampleWindow)
	m.Update(now, sensor.Readings{}, &errs, false)

	m.SetMowEnable(true)
	expectNoErr(t, m.Commit(now, false))
	now = now.Add(testConfig().SampleWindow)
	m.Update(now, sensor.Readings{}, &errs, false)
	if errs.IsSet(faults.MotorMow) {
		t.Fatal("a spin-up window after an idle one should not complete an old stall count")
	}
}

func TestWheelStall(t *testing.T) {
	m, _ := newModel(t)
	var errs faults.Set
	m.SetMotorPwm(100, 100)
	now := t0
	expectNoErr(t, m.Commit(now, false))
	for w := 0; w < testConfig().StallWindows; w++ {
		now = now.Add(testConfig().SampleWindow)
		m.Update(now, sensor.Readings{LeftRpm: 0, RightRpm: 12}, &errs, false)
		expectNoErr(t, m.Commit(now, false))
	}
	if !errs.IsSet(faults.MotorLeft) || errs.IsSet(faults.MotorRight) {
		t.Fatalf("expected only left fault, got %v", errs.String())
	}

	now = now.Add(testConfig().SampleWindow)
	m.Update(now, sensor.Readings{LeftRpm: 12, RightRpm: 12}, &errs, false)
	if errs.IsSet(faults.MotorLeft) {
		t.Fatal("left fault should clear when the wheel turns")
	}
}

func TestStuck(t *testing.T) {
	m, _ := newModel(t)
	var errs faults.Set
	m.SetMotorPwm(100, 100)
	now := t0
	expectNoErr(t, m.Commit(now, false))

	// Not in a drive state: never stuck.
	for now.Sub(t0) <= 2*testConfig().StuckTime {
		now = now.Add(tick)
		m.Update(now, sensor.Readings{LeftRpm: 0.5, RightRpm: 17}, &errs, false)
	}
	if errs.IsSet(faults.Stuck) {
		t.Fatal("stuck without driving")
	}

	start := now
	for now.Sub(start) < testConfig().StuckTime {
		if errs.IsSet(faults.Stuck) {
			t.Fatal("stuck set early")
		}
		now = now.Add(tick)
		m.Update(now, sensor.Readings{}, &errs, true)
	}
	now = now.Add(tick)
	m.Update(now, sensor.Readings{}, &errs, true)
	if !errs.IsSet(faults.Stuck) {
		t.Fatal("expected stuck")
	}

	m.Update(now.Add(tick), sensor.Readings{LeftRpm: 5}, &errs, true)
	if errs.IsSet(faults.Stuck) {
		t.Fatal("stuck should clear once a wheel turns")
	}
}

func TestObstructed(t *testing.T) {
	m, _ := newModel(t)
	var errs faults.Set
	m.SetMotorPwm(255, 255)
	now := t0
	expectNoErr(t, m.Commit(now, false))

	// Slow wheels during spin-up are ignored.
	for now.Sub(t0) < testConfig().SpinUpTime {
		m.Update(now, sensor.Readings{LeftRpm: 1, RightRpm: 1}, &errs, true)
		if m.Obstructed() {
			t.Fatal("obstacle reported during spin-up")
		}
		now = now.Add(tick)
	}

	for i := 0; i < testConfig().ObstacleTicks; i++ {
		if m.Obstructed() {
			t.Fatal("obstacle reported early")
		}
		m.Update(now, sensor.Readings{LeftRpm: 30, RightRpm: 2}, &errs, true)
		now = now.Add(tick)
	}
	if !m.Obstructed() {
		t.Fatal("expected obstacle")
	}

	m.Update(now, sensor.Readings{LeftRpm: 30, RightRpm: 29}, &errs, true)
	if m.Obstructed() {
		t.Fatal("obstacle should clear at speed")
	}
}

func TestSpeedPwm(t *testing.T) {
	m, _ := newModel(t)
	expectInt(t, "full", m.SpeedPwm(30), 255)
	expectInt(t, "half", m.SpeedPwm(15), 128)
	expectInt(t, "over", m.SpeedPwm(100), 255)
	expectInt(t, "reverse", m.SpeedPwm(-30), -255)
}

func TestCommitReportsSinkErrors(t *testing.T) {
	m, sink := newModel(t)
	sink.fail = true
	if err := m.Commit(t0, false); err == nil {
		t.Fatal("expected error from failing sink")
	}
}

func expectInt(t *testing.T, what string, got, want int) {
	t.Helper()
	if got != want {
		t.Fatalf("%s = %d, want %d", what, got, want)
	}
}

func expectNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestUseMowCounter(t *testing.T) {
	m, _ := newModel(t)
	shared := new(tacho.Counter)
	m.UseMowCounter(shared)
	if m.MowCounter() != shared {
		t.Fatal("model should read the shared counter")
	}
	shared.Add(3)
	m.Reset(t0)
	if shared.Peek() != 0 {
		t.Fatalf("reset left %d pulses", shared.Peek())
	}
}
