package hardware

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/tacho"
)

// Open builds the configured backend.  maxDuty is the motor PWM range; mowPulses receives
// the blade tachometer pulses.
func Open(cfg Config, maxDuty int, mowPulses *tacho.Counter, logger golog.Logger) (Interface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendDummy:
		return NewDummy(cfg, maxDuty, mowPulses, logger), nil
	case BackendI2C:
		return NewI2C(cfg, maxDuty, mowPulses, logger), nil
	case BackendCAN:
		return NewCAN(cfg, mowPulses, logger), nil
	}
	return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
}
