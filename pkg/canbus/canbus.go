// Package canbus drives a motor controller board over SocketCAN.
//
// Out, ID 0x100: left duty int16 (bits 0-15), right duty int16 (16-31), mow duty uint16
// (32-47), emergency (48).
// In, ID 0x200: left and right RPM int16 in 0.1 RPM (0-15, 16-31), mow tach pulses since
// the last frame uint16 (32-47), emergency switch input (48).
// In, ID 0x201: battery mV uint16 (0-15), charge mV uint16 (16-31), charge mA int16 (32-47).
package canbus

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/sensor"
	"github.com/lawndon/go-controller/pkg/tacho"
)

const (
	IDDrive  = 0x100
	IDWheels = 0x200
	IDPower  = 0x201

	rpmScale   = 0.1
	milliScale = 0.001

	// Readings older than this are reported as errors.
	DefaultStaleAfter = 500 * time.Millisecond

	txTimeout = 50 * time.Millisecond
)

var ErrStale = errors.New("canbus: no recent status frame")

type FrameTransmitter interface {
	TransmitFrame(ctx context.Context, f can.Frame) error
}

type FrameReceiver interface {
	Receive() bool
	Frame() can.Frame
	Err() error
}

// Bus is both the actuator sink and the sensor source for the CAN backend.
type Bus struct {
	tx         FrameTransmitter
	logger     golog.Logger
	mowPulses  *tacho.Counter
	now        func() time.Time
	StaleAfter time.Duration

	txLock sync.Mutex
	drive  [4]int

	lock       sync.Mutex
	values     [5]float64
	emergency  bool
	wheelsAt   time.Time
	powerAt    time.Time
	unknownIDs int
}

var (
	_ actuator.Interface = (*Bus)(nil)
	_ sensor.Interface   = (*Bus)(nil)
)

func New(tx FrameTransmitter, mowPulses *tacho.Counter, logger golog.Logger) *Bus {
	return &Bus{
		tx:         tx,
		logger:     logger,
		mowPulses:  mowPulses,
		now:        time.Now,
		StaleAfter: DefaultStaleAfter,
	}
}

// Dial opens iface and starts receiving status frames until ctx is done.
func Dial(ctx context.Context, iface string, mowPulses *tacho.Counter, logger golog.Logger) (*Bus, net.Conn, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	b := New(socketcan.NewTransmitter(conn), mowPulses, logger)
	go func() {
		if err := b.ReceiveLoop(ctx, socketcan.NewReceiver(conn)); err != nil && ctx.Err() == nil {
			logger.Errorw("can receive loop stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return b, conn, nil
}

// SetActuator updates one field of the drive frame and transmits the whole frame.
func (b *Bus) SetActuator(kind actuator.Kind, value int) error {
	if !kind.Valid() {
		return errors.Errorf("unknown actuator %v", kind)
	}
	b.txLock.Lock()
	defer b.txLock.Unlock()
	b.drive[kind] = value

	ctx, cancel := context.WithTimeout(context.Background(), txTimeout)
	defer cancel()
	return errors.Wrap(b.tx.TransmitFrame(ctx, EncodeDrive(
		b.drive[actuator.MotorLeft], b.drive[actuator.MotorRight], b.drive[actuator.MotorMow],
		b.drive[actuator.EmerSw] != 0,
	)), "can transmit drive frame")
}

func EncodeDrive(left, right, mow int, emer bool) can.Frame {
	f := can.Frame{ID: IDDrive, Length: 8}
	f.Data.SetSignedBitsLittleEndian(0, 16, int64(left))
	f.Data.SetSignedBitsLittleEndian(16, 16, int64(right))
	f.Data.SetUnsignedBitsLittleEndian(32, 16, uint64(max(0, mow)))
	f.Data.SetBit(48, emer)
	return f
}

func (b *Bus) ReadSensor(kind sensor.Kind) (float64, error) {
	if !kind.Valid() {
		return 0, errors.Errorf("unknown sensor %v", kind)
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	at := b.powerAt
	if kind == sensor.MotorLeft || kind == sensor.MotorRight {
		at = b.wheelsAt
	}
	if at.IsZero() || b.now().Sub(at) > b.StaleAfter {
		return 0, errors.Wrapf(ErrStale, "%v", kind)
	}
	return b.values[kind], nil
}

// EmergencyEngaged reports the board's emergency input.  Without a recent status frame
// the switch is assumed engaged.
func (b *Bus) EmergencyEngaged() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.wheelsAt.IsZero() || b.now().Sub(b.wheelsAt) > b.StaleAfter {
		return true
	}
	return b.emergency
}

// ReceiveLoop handles frames until the receiver fails or ctx is done.
func (b *Bus) ReceiveLoop(ctx context.Context, rx FrameReceiver) error {
	for rx.Receive() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.HandleFrame(rx.Frame())
	}
	return rx.Err()
}

func (b *Bus) HandleFrame(f can.Frame) {
	now := b.now()
	switch f.ID {
	case IDWheels:
		left := float64(f.Data.SignedBitsLittleEndian(0, 16)) * rpmScale
		right := float64(f.Data.SignedBitsLittleEndian(16, 16)) * rpmScale
		if b.mowPulses != nil {
			b.mowPulses.Add(uint32(f.Data.UnsignedBitsLittleEndian(32, 16)))
		}
		b.lock.Lock()
		b.values[sensor.MotorLeft] = left
		b.values[sensor.MotorRight] = right
		b.emergency = f.Data.Bit(48)
		b.wheelsAt = now
		b.lock.Unlock()
	case IDPower:
		b.lock.Lock()
		b.values[sensor.BatVoltage] = float64(f.Data.UnsignedBitsLittleEndian(0, 16)) * milliScale
		b.values[sensor.ChgVoltage] = float64(f.Data.UnsignedBitsLittleEndian(16, 16)) * milliScale
		b.values[sensor.ChgCurrent] = float64(f.Data.SignedBitsLittleEndian(32, 16)) * milliScale
		b.powerAt = now
		b.lock.Unlock()
	default:
		b.lock.Lock()
		b.unknownIDs++
		n := b.unknownIDs
		b.lock.Unlock()
		if n == 1 {
			b.logger.Debugw("ignoring can frame", "id", f.ID)
		}
	}
}
