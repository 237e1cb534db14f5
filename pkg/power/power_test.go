package power

import (
	"testing"

	"github.com/edaniels/golog"

	"github.com/lawndon/go-controller/pkg/faults"
	"github.com/lawndon/go-controller/pkg/sensor"
)

func TestBatteryHysteresis(t *testing.T) {
	m := New(DefaultConfig(), golog.NewTestLogger(t))
	var errs faults.Set

	for _, step := range []struct {
		volts float64
		fault bool
	}{
		{25, false},
		{21.6, true},
		{21.8, true},
		{22.1, true},
		{22.3, false},
		{21.8, false},
		{20, true},
	} {
		m.Update(sensor.Readings{BatVoltage: step.volts}, &errs)
		if errs.IsSet(faults.Battery) != step.fault {
			t.Fatalf("at %vV battery fault = %v, want %v", step.volts, errs.IsSet(faults.Battery), step.fault)
		}
	}
}

func TestCharging(t *testing.T) {
	m := New(DefaultConfig(), golog.NewTestLogger(t))
	var errs faults.Set
	m.Update(sensor.Readings{BatVoltage: 25, ChgVoltage: 0.2}, &errs)
	if m.Charging() {
		t.Fatal("not on the dock")
	}
	m.Update(sensor.Readings{BatVoltage: 25, ChgVoltage: 29, ChgCurrent: 1.2}, &errs)
	if !m.Charging() || m.ChgCurrent() != 1.2 {
		t.Fatal("expected charging")
	}
}

func TestLevel(t *testing.T) {
	m := New(DefaultConfig(), golog.NewTestLogger(t))
	var errs faults.Set
	m.Update(sensor.Readings{BatVoltage: 40}, &errs)
	if m.Level() != 1 {
		t.Fatalf("level = %v", m.Level())
	}
	m.Update(sensor.Readings{BatVoltage: 10}, &errs)
	if m.Level() != 0 {
		t.Fatalf("level = %v", m.Level())
	}
}

func TestUnreadBatteryIsNotLow(t *testing.T) {
	m := New(DefaultConfig(), golog.NewTestLogger(t))
	var errs faults.Set
	m.Update(sensor.Readings{Missing: sensor.AllKinds}, &errs)
	if errs.IsSet(faults.Battery) {
		t.Fatal("no battery reading yet should not raise a fault")
	}
	m.Update(sensor.Readings{BatVoltage: 20, Missing: sensor.MaskOf(sensor.ChgCurrent)}, &errs)
	if !errs.IsSet(faults.Battery) {
		t.Fatal("expected battery fault once a low voltage is read")
	}
}
