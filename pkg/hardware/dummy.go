package hardware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/sensor"
	"github.com/lawndon/go-controller/pkg/tacho"
)

const (
	simBatteryVoltage = 25.2
	simMowPulseEvery  = 20 * time.Millisecond
)

// Dummy is a simulated mower: wheels turn at the speed their duty asks for and the blade
// produces tachometer pulses while it is driven.
type Dummy struct {
	logger    golog.Logger
	sink      *actuator.DummySink
	src       *sensor.DummySource
	mowPulses *tacho.Counter
	maxDuty   int
	rpmAtMax  float64

	emergency atomic.Bool

	stopWG sync.WaitGroup
	cancel context.CancelFunc
}

var _ Interface = (*Dummy)(nil)

func NewDummy(cfg Config, maxDuty int, mowPulses *tacho.Counter, logger golog.Logger) *Dummy {
	d := &Dummy{
		logger:    logger,
		sink:      actuator.Dummy(logger),
		src:       sensor.Dummy(),
		mowPulses: mowPulses,
		maxDuty:   maxDuty,
		rpmAtMax:  cfg.SimRpmAtMax,
	}
	d.src.Set(sensor.BatVoltage, simBatteryVoltage)
	return d
}

func (d *Dummy) Start(ctx context.Context) error {
	d.logger.Infow("dummy hardware started")
	var loopCtx context.Context
	loopCtx, d.cancel = context.WithCancel(ctx)
	d.stopWG.Add(1)
	go d.mowLoop(loopCtx)
	return nil
}

func (d *Dummy) mowLoop(ctx context.Context) {
	defer d.stopWG.Done()
	ticker := time.NewTicker(simMowPulseEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.mowPulses != nil && d.sink.Value(actuator.MotorMow) > 0 {
				d.mowPulses.Pulse()
			}
		}
	}
}

func (d *Dummy) SetActuator(kind actuator.Kind, value int) error {
	if err := d.sink.SetActuator(kind, value); err != nil {
		return err
	}
	if d.maxDuty <= 0 {
		return nil
	}
	rpm := float64(value) * d.rpmAtMax / float64(d.maxDuty)
	switch kind {
	case actuator.MotorLeft:
		d.src.Set(sensor.MotorLeft, rpm)
	case actuator.MotorRight:
		d.src.Set(sensor.MotorRight, rpm)
	}
	return nil
}

func (d *Dummy) ReadSensor(kind sensor.Kind) (float64, error) {
	return d.src.ReadSensor(kind)
}

func (d *Dummy) EmergencyEngaged() bool {
	return d.emergency.Load()
}

// SetEmergency simulates the emergency stop switch.
func (d *Dummy) SetEmergency(engaged bool) {
	d.emergency.Store(engaged)
}

// SetSensor overrides a simulated reading.
func (d *Dummy) SetSensor(kind sensor.Kind, value float64) {
	d.src.Set(kind, value)
}

// Actuator returns the last value written for kind.
func (d *Dummy) Actuator(kind actuator.Kind) int {
	return d.sink.Value(kind)
}

func (d *Dummy) Close() error {
	if d.cancel != nil {
		d.cancel()
		d.stopWG.Wait()
	}
	d.logger.Infow("dummy hardware closed")
	return nil
}
