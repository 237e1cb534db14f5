package hardware

import (
	"context"
	"net"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/canbus"
	"github.com/lawndon/go-controller/pkg/sensor"
	"github.com/lawndon/go-controller/pkg/tacho"
)

// CAN hands everything to a motor controller board on the CAN bus.
type CAN struct {
	cfg       Config
	logger    golog.Logger
	mowPulses *tacho.Counter

	bus    *canbus.Bus
	conn   net.Conn
	cancel context.CancelFunc
}

var _ Interface = (*CAN)(nil)

func NewCAN(cfg Config, mowPulses *tacho.Counter, logger golog.Logger) *CAN {
	return &CAN{cfg: cfg, logger: logger, mowPulses: mowPulses}
}

func (h *CAN) Start(ctx context.Context) error {
	var busCtx context.Context
	busCtx, h.cancel = context.WithCancel(ctx)
	bus, conn, err := canbus.Dial(busCtx, h.cfg.CANInterface, h.mowPulses, h.logger)
	if err != nil {
		h.cancel()
		return err
	}
	h.bus, h.conn = bus, conn
	h.logger.Infow("can hardware started", "interface", h.cfg.CANInterface)
	return nil
}

func (h *CAN) SetActuator(kind actuator.Kind, value int) error {
	if h.bus == nil {
		return errors.New("can hardware not started")
	}
	return h.bus.SetActuator(kind, value)
}

func (h *CAN) ReadSensor(kind sensor.Kind) (float64, error) {
	if h.bus == nil {
		return 0, errors.New("can hardware not started")
	}
	return h.bus.ReadSensor(kind)
}

func (h *CAN) EmergencyEngaged() bool {
	return h.bus == nil || h.bus.EmergencyEngaged()
}

func (h *CAN) Close() error {
	if h.cancel == nil {
		return nil
	}
	var err error
	if h.bus != nil {
		for _, k := range []actuator.Kind{actuator.MotorLeft, actuator.MotorRight, actuator.MotorMow} {
			err = multierr.Append(err, h.bus.SetActuator(k, 0))
		}
	}
	h.cancel()
	return err
}
