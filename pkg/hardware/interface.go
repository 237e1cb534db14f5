package hardware

import (
	"context"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/sensor"
)

// Interface is one hardware backend: everything the control loop writes to and reads from.
type Interface interface {
	actuator.Interface
	sensor.Interface
	EmergencyInput

	// Start brings the hardware up; background loops run until ctx is done.
	Start(ctx context.Context) error
	Close() error
}

type EmergencyInput interface {
	// EmergencyEngaged reads the emergency stop switch.
	EmergencyEngaged() bool
}
