package hardware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/periph/host"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/esc"
	"github.com/lawndon/go-controller/pkg/ina219"
	"github.com/lawndon/go-controller/pkg/pca9685"
	"github.com/lawndon/go-controller/pkg/sensor"
	"github.com/lawndon/go-controller/pkg/tacho"
)

var ErrNotReady = errors.New("hardware: no reading yet")

const (
	i2cLoopInterval   = 20 * time.Millisecond
	powerReadInterval = 100 * time.Millisecond
	numDriveActuators = 4
	numSensorReadings = 5
	numESCs           = 3
	// Only every Nth repeated loop failure is logged.
	errorLogEvery = 50
)

// I2C drives the ESCs through a PCA9685, reads power from two INA219s and counts wheel
// and blade tachometer pulses on GPIO.  Writes and reads go through a cache that a
// background loop keeps in step with the hardware.
type I2C struct {
	cfg       Config
	maxDuty   int
	logger    golog.Logger
	mowPulses *tacho.Counter

	pwm        pca9685.Interface
	escs       [numESCs]*esc.ESC
	battery    ina219.Interface
	charge     ina219.Interface
	emergency  *emergencySwitch
	relay      *relay
	leftTach   tacho.Counter
	rightTach  tacho.Counter
	cancelLoop context.CancelFunc
	loopDone   sync.WaitGroup

	lock     sync.Mutex
	desired  [numDriveActuators]int
	readings [numSensorReadings]float64
	readAt   [numSensorReadings]time.Time
}

var _ Interface = (*I2C)(nil)

func NewI2C(cfg Config, maxDuty int, mowPulses *tacho.Counter, logger golog.Logger) *I2C {
	return &I2C{
		cfg:       cfg,
		maxDuty:   maxDuty,
		logger:    logger,
		mowPulses: mowPulses,
	}
}

func (h *I2C) Start(ctx context.Context) (err error) {
	if _, err = host.Init(); err != nil {
		return errors.Wrap(err, "periph init")
	}
	if h.emergency, err = openEmergencySwitch(h.cfg.EmergencyPin, h.cfg.EmergencyActiveLow); err != nil {
		return err
	}
	if h.relay, err = openRelay(h.cfg.RelayPin); err != nil {
		return err
	}

	if h.pwm, err = pca9685.New(h.cfg.I2CDevice, h.cfg.PCA9685Addr); err != nil {
		return err
	}
	if err = h.pwm.Configure(); err != nil {
		return errors.Wrap(err, "configure pca9685")
	}
	now := time.Now()
	for i, port := range []int{h.cfg.ESCPorts.Left, h.cfg.ESCPorts.Right, h.cfg.ESCPorts.Mow} {
		h.escs[i] = esc.New(h.pwm, port)
		if h.cfg.CalibrateESCs {
			err = h.escs[i].Calibrate(now)
		} else {
			err = h.escs[i].Arm(now)
		}
		if err != nil {
			return err
		}
	}

	if h.battery, err = openPowerMonitor(h.cfg.I2CDevice, ina219.AddrBattery, h.cfg.BatteryShuntOhms, h.cfg.BatteryMaxCurrent); err != nil {
		return err
	}
	if h.charge, err = openPowerMonitor(h.cfg.I2CDevice, ina219.AddrCharge, h.cfg.ChargeShuntOhms, h.cfg.ChargeMaxCurrent); err != nil {
		return err
	}

	var loopCtx context.Context
	loopCtx, h.cancelLoop = context.WithCancel(ctx)
	for _, t := range []struct {
		pin     string
		counter *tacho.Counter
	}{
		{h.cfg.TachPins.Left, &h.leftTach},
		{h.cfg.TachPins.Right, &h.rightTach},
		{h.cfg.TachPins.Mow, h.mowPulses},
	} {
		if t.pin == "" || t.counter == nil {
			continue
		}
		pin, err := tachPin(t.pin)
		if err != nil {
			h.cancelLoop()
			return err
		}
		h.loopDone.Add(1)
		go func(counter *tacho.Counter) {
			defer h.loopDone.Done()
			if err := tacho.Watch(loopCtx, pin, counter); err != nil && loopCtx.Err() == nil {
				h.logger.Errorw("tachometer watch failed", "pin", pin.Name(), "error", err)
			}
		}(t.counter)
	}

	h.loopDone.Add(1)
	go h.loop(loopCtx)
	h.logger.Infow("i2c hardware started", "calibrating", h.cfg.CalibrateESCs)
	return nil
}

func openPowerMonitor(dev string, addr int, shunt, maxCurrent float64) (ina219.Interface, error) {
	m, err := ina219.NewI2C(dev, addr)
	if err != nil {
		return nil, err
	}
	if err := m.Configure(shunt, maxCurrent); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (h *I2C) loop(ctx context.Context) {
	defer h.loopDone.Done()
	ticker := time.NewTicker(i2cLoopInterval)
	defer ticker.Stop()

	var lastPowerRead time.Time
	windowStart := time.Now()
	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := h.driveESCs(now); err != nil {
				failures++
				if failures%errorLogEvery == 1 {
					h.logger.Errorw("esc update failed", "error", err, "failures", failures)
				}
			}
			if now.Sub(lastPowerRead) >= powerReadInterval {
				h.readPower(now)
				lastPowerRead = now
			}
			if elapsed := now.Sub(windowStart); elapsed >= h.cfg.RpmWindow {
				h.sampleWheels(now, elapsed)
				windowStart = now
			}
		}
	}
}

func (h *I2C) driveESCs(now time.Time) error {
	h.lock.Lock()
	duties := [numESCs]int{
		h.desired[actuator.MotorLeft],
		h.desired[actuator.MotorRight],
		max(0, h.desired[actuator.MotorMow]),
	}
	h.lock.Unlock()

	var err error
	for i, e := range h.escs {
		err = multierr.Append(err, e.Update(now))
		if e.Ready() {
			err = multierr.Append(err, e.Drive(esc.SpeedForDuty(duties[i], h.maxDuty)))
		}
	}
	return err
}

func (h *I2C) readPower(now time.Time) {
	for _, r := range []struct {
		kind sensor.Kind
		read func() (float64, error)
	}{
		{sensor.BatVoltage, h.battery.ReadBusVoltage},
		{sensor.ChgVoltage, h.charge.ReadBusVoltage},
		{sensor.ChgCurrent, h.charge.ReadCurrent},
	} {
		v, err := r.read()
		if err != nil {
			h.logger.Debugw("power read failed", "kind", r.kind, "error", err)
			continue
		}
		h.lock.Lock()
		h.readings[r.kind] = v
		h.readAt[r.kind] = now
		h.lock.Unlock()
	}
}

// sampleWheels converts the tachometer counts into RPM.  The pulses carry no direction so
// the sign follows the commanded duty.
func (h *I2C) sampleWheels(now time.Time, elapsed time.Duration) {
	left := float64(h.leftTach.ReadAndReset()) / h.cfg.WheelPulsesPerRev / elapsed.Minutes()
	right := float64(h.rightTach.ReadAndReset()) / h.cfg.WheelPulsesPerRev / elapsed.Minutes()
	h.lock.Lock()
	defer h.lock.Unlock()
	h.readings[sensor.MotorLeft] = math.Copysign(left, float64(h.desired[actuator.MotorLeft]))
	h.readings[sensor.MotorRight] = math.Copysign(right, float64(h.desired[actuator.MotorRight]))
	h.readAt[sensor.MotorLeft], h.readAt[sensor.MotorRight] = now, now
}

func (h *I2C) SetActuator(kind actuator.Kind, value int) error {
	if !kind.Valid() {
		return errors.Errorf("unknown actuator %v", kind)
	}
	h.lock.Lock()
	h.desired[kind] = value
	h.lock.Unlock()
	if kind == actuator.EmerSw {
		return h.relay.set(value != 0)
	}
	return nil
}

func (h *I2C) ReadSensor(kind sensor.Kind) (float64, error) {
	if !kind.Valid() {
		return 0, errors.Errorf("unknown sensor %v", kind)
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.readAt[kind].IsZero() {
		return 0, errors.Wrapf(ErrNotReady, "%v", kind)
	}
	return h.readings[kind], nil
}

func (h *I2C) EmergencyEngaged() bool {
	if h.emergency == nil {
		return true
	}
	return h.emergency.EmergencyEngaged()
}

func (h *I2C) Close() error {
	if h.cancelLoop != nil {
		h.cancelLoop()
		h.loopDone.Wait()
	}
	var err error
	if h.pwm != nil {
		for _, e := range h.escs {
			if e != nil && e.Ready() {
				err = multierr.Append(err, e.Drive(0))
			}
		}
		err = multierr.Append(err, h.pwm.Close())
	}
	for _, m := range []ina219.Interface{h.battery, h.charge} {
		if m != nil {
			err = multierr.Append(err, m.Close())
		}
	}
	err = multierr.Append(err, h.relay.set(true))
	return err
}
