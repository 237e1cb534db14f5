package canbus

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.einride.tech/can"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/sensor"
	"github.com/lawndon/go-controller/pkg/tacho"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type mockTransmitter struct {
	frames []can.Frame
}

func (m *mockTransmitter) TransmitFrame(ctx context.Context, f can.Frame) error {
	m.frames = append(m.frames, f)
	return nil
}

type mockReceiver struct {
	frames []can.Frame
	cur    can.Frame
}

func (m *mockReceiver) Receive() bool {
	if len(m.frames) == 0 {
		return false
	}
	m.cur, m.frames = m.frames[0], m.frames[1:]
	return true
}

func (m *mockReceiver) Frame() can.Frame { return m.cur }
func (m *mockReceiver) Err() error       { return nil }

func newBus(t *testing.T) (*Bus, *mockTransmitter, *tacho.Counter) {
	tx := &mockTransmitter{}
	var pulses tacho.Counter
	b := New(tx, &pulses, golog.NewTestLogger(t))
	b.now = func() time.Time { return t0 }
	return b, tx, &pulses
}

func TestDriveFrame(t *testing.T) {
	b, tx, _ := newBus(t)
	if err := b.SetActuator(actuator.MotorLeft, -200); err != nil {
		t.Fatal(err)
	}
	if err := b.SetActuator(actuator.MotorRight, 150); err != nil {
		t.Fatal(err)
	}
	if err := b.SetActuator(actuator.MotorMow, 90); err != nil {
		t.Fatal(err)
	}
	if err := b.SetActuator(actuator.EmerSw, 1); err != nil {
		t.Fatal(err)
	}
	if len(tx.frames) != 4 {
		t.Fatalf("sent %d frames, want 4", len(tx.frames))
	}
	f := tx.frames[3]
	if f.ID != IDDrive || f.Length != 8 {
		t.Fatalf("unexpected frame header %v", f)
	}
	if f.Data.SignedBitsLittleEndian(0, 16) != -200 ||
		f.Data.SignedBitsLittleEndian(16, 16) != 150 ||
		f.Data.UnsignedBitsLittleEndian(32, 16) != 90 ||
		!f.Data.Bit(48) {
		t.Fatalf("unexpected drive frame %v", f)
	}
}

func TestStatusFrames(t *testing.T) {
	b, _, pulses := newBus(t)

	if _, err := b.ReadSensor(sensor.MotorLeft); !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale error before any frame, got %v", err)
	}
	if !b.EmergencyEngaged() {
		t.Fatal("emergency should read engaged without status frames")
	}

	wheels := can.Frame{ID: IDWheels, Length: 8}
	wheels.Data.SetSignedBitsLittleEndian(0, 16, -123)
	wheels.Data.SetSignedBitsLittleEndian(16, 16, 250)
	wheels.Data.SetUnsignedBitsLittleEndian(32, 16, 7)
	power := can.Frame{ID: IDPower, Length: 8}
	power.Data.SetUnsignedBitsLittleEndian(0, 16, 25200)
	power.Data.SetUnsignedBitsLittleEndian(16, 16, 29000)
	power.Data.SetSignedBitsLittleEndian(32, 16, -1500)

	rx := &mockReceiver{frames: []can.Frame{wheels, power, {ID: 0x7ff}, wheels}}
	if err := b.ReceiveLoop(context.Background(), rx); err != nil {
		t.Fatal(err)
	}

	r, err := sensor.ReadAll(b)
	if err != nil {
		t.Fatal(err)
	}
	expectNear(t, "left", r.LeftRpm, -12.3)
	expectNear(t, "right", r.RightRpm, 25)
	expectNear(t, "battery", r.BatVoltage, 25.2)
	expectNear(t, "charge voltage", r.ChgVoltage, 29)
	expectNear(t, "charge current", r.ChgCurrent, -1.5)
	if got := pulses.ReadAndReset(); got != 14 {
		t.Fatalf("mow pulses = %d, want 14", got)
	}
	if b.EmergencyEngaged() {
		t.Fatal("emergency bit was clear")
	}

	wheels.Data.SetBit(48, true)
	b.HandleFrame(wheels)
	if !b.EmergencyEngaged() {
		t.Fatal("emergency bit was set")
	}

	b.now = func() time.Time { return t0.Add(time.Second) }
	if _, err := b.ReadSensor(sensor.BatVoltage); !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
}

func expectNear(t *testing.T, what string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", what, got, want)
	}
}
