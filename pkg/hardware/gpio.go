package hardware

import (
	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
)

// emergencySwitch reads the emergency stop from a GPIO input.
type emergencySwitch struct {
	pin       gpio.PinIO
	activeLow bool
}

func openEmergencySwitch(name string, activeLow bool) (*emergencySwitch, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no gpio pin %q for emergency switch", name)
	}
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "configure emergency switch on %s", name)
	}
	return &emergencySwitch{pin: pin, activeLow: activeLow}, nil
}

func (s *emergencySwitch) EmergencyEngaged() bool {
	return (s.pin.Read() == gpio.Low) == s.activeLow
}

// relay drives the motor power cut-off.  A nil relay does nothing.
type relay struct {
	pin gpio.PinIO
}

func openRelay(name string) (*relay, error) {
	if name == "" {
		return nil, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no gpio pin %q for relay", name)
	}
	r := &relay{pin: pin}
	return r, r.set(false)
}

// set opens the relay (cutting power) when cut is true.
func (r *relay) set(cut bool) error {
	if r == nil {
		return nil
	}
	level := gpio.Low
	if cut {
		level = gpio.High
	}
	return errors.Wrap(r.pin.Out(level), "set relay")
}

func tachPin(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no gpio pin %q for tachometer", name)
	}
	return pin, nil
}
