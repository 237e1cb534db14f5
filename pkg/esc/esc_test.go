package esc

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

type recorder struct {
	pulses []time.Duration
}

func (r *recorder) SetPulse(port int, width time.Duration) error {
	r.pulses = append(r.pulses, width)
	return nil
}

func (r *recorder) last() time.Duration {
	if len(r.pulses) == 0 {
		return 0
	}
	return r.pulses[len(r.pulses)-1]
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestArmSequence(t *testing.T) {
	r := &recorder{}
	e := New(r, 0)

	if err := e.Drive(200); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed, got %v", err)
	}
	expectNoErr(t, e.Arm(t0))
	expectPhase(t, e, Arming)
	expectPulse(t, r, ArmSignal)

	expectNoErr(t, e.Update(t0.Add(ArmTime-time.Millisecond)))
	expectPhase(t, e, Arming)

	expectNoErr(t, e.Update(t0.Add(ArmTime)))
	expectPhase(t, e, Armed)
	expectPulse(t, r, IdleThrottle)
	if !e.Ready() {
		t.Fatal("expected ready")
	}
}

func TestCalibrateSequence(t *testing.T) {
	r := &recorder{}
	e := New(r, 0)

	expectNoErr(t, e.Calibrate(t0))
	expectPulse(t, r, MaxThrottle)

	now := t0.Add(CalibrateHoldTime)
	expectNoErr(t, e.Update(now))
	expectPhase(t, e, CalibrateLow)
	expectPulse(t, r, MinThrottle)

	now = now.Add(CalibrateHoldTime)
	expectNoErr(t, e.Update(now))
	expectPhase(t, e, Arming)

	now = now.Add(ArmTime)
	expectNoErr(t, e.Update(now))
	expectPhase(t, e, Armed)
}

func TestDriveDeadzoneAndFlutter(t *testing.T) {
	r := &recorder{}
	e := armed(t, r)

	expectNoErr(t, e.Drive(50))
	expectPulse(t, r, IdleThrottle)

	expectNoErr(t, e.Drive(300))
	expectPulse(t, r, 1800*time.Microsecond)

	n := len(r.pulses)
	expectNoErr(t, e.Drive(305))
	if len(r.pulses) != n {
		t.Fatal("change under flutter range should be dropped")
	}

	expectNoErr(t, e.Drive(0))
	expectPulse(t, r, IdleThrottle)

	expectNoErr(t, e.Drive(-900))
	expectPulse(t, r, MinThrottle)
}

func TestSpeedForDuty(t *testing.T) {
	for _, test := range []struct {
		duty, max, want int
	}{
		{0, 255, 0},
		{1, 255, DeadzoneRange + 1},
		{255, 255, MaxSpeed},
		{-255, 255, -MaxSpeed},
		{400, 255, MaxSpeed},
		{10, 0, 0},
	} {
		got := SpeedForDuty(test.duty, test.max)
		if got != test.want {
			t.Errorf("SpeedForDuty(%d, %d) = %d, want %d", test.duty, test.max, got, test.want)
		}
		if test.duty != 0 && test.max > 0 && IsDeadzone(got) {
			t.Errorf("SpeedForDuty(%d, %d) landed in the deadzone", test.duty, test.max)
		}
	}
}

func armed(t *testing.T, r *recorder) *ESC {
	t.Helper()
	e := New(r, 0)
	expectNoErr(t, e.Arm(t0))
	expectNoErr(t, e.Update(t0.Add(ArmTime)))
	return e
}

func expectNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func expectPhase(t *testing.T, e *ESC, p Phase) {
	t.Helper()
	if e.Phase() != p {
		t.Fatalf("phase = %v, want %v", e.Phase(), p)
	}
}

func expectPulse(t *testing.T, r *recorder, want time.Duration) {
	t.Helper()
	if r.last() != want {
		t.Fatalf("last pulse = %v, want %v", r.last(), want)
	}
}
