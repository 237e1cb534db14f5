package pca9685

import (
	"testing"
	"time"
)

func TestPulseCounts(t *testing.T) {
	expectCounts(t, 0, 0)
	expectCounts(t, -time.Millisecond, 0)
	expectCounts(t, 1000*time.Microsecond, 204)
	expectCounts(t, 1500*time.Microsecond, 307)
	expectCounts(t, 2000*time.Microsecond, 409)
	expectCounts(t, PWMPeriod, PWMMax)
	expectCounts(t, time.Second, PWMMax)
}

func TestDummyRejectsBadPort(t *testing.T) {
	d := Dummy()
	if err := d.SetPulse(NumPorts, time.Millisecond); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	if err := d.SetPulse(3, 1500*time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if d.Pulse(3) != 1500*time.Microsecond || d.Writes() != 1 {
		t.Fatalf("unexpected dummy state %v %d", d.Pulse(3), d.Writes())
	}
}

func expectCounts(t *testing.T, width time.Duration, want uint16) {
	t.Helper()
	if got := PulseCounts(width); got != want {
		t.Errorf("PulseCounts(%v) = %d, want %d", width, got, want)
	}
}
