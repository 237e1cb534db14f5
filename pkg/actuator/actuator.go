package actuator

import (
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

type Kind uint8

const (
	EmerSw Kind = iota
	MotorLeft
	MotorRight
	MotorMow

	numKinds
)

var kindNames = map[Kind]string{
	EmerSw:     "emer-sw",
	MotorLeft:  "motor-left",
	MotorRight: "motor-right",
	MotorMow:   "motor-mow",
}

func (k Kind) Valid() bool {
	return k < numKinds
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Interface is the sink for all actuator writes.  For EmerSw the value is 1 (engaged)
// or 0; for the motors it is a signed PWM duty.
type Interface interface {
	SetActuator(kind Kind, value int) error
}

// BoolValue converts an on/off state into the EmerSw value encoding.
func BoolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Dummy returns a sink that logs changes and remembers the last value written per kind.
func Dummy(logger golog.Logger) *DummySink {
	return &DummySink{logger: logger}
}

type DummySink struct {
	logger golog.Logger

	lock   sync.Mutex
	values [numKinds]int
}

var _ Interface = (*DummySink)(nil)

func (d *DummySink) SetActuator(kind Kind, value int) error {
	if !kind.Valid() {
		return errors.Errorf("unknown actuator %v", kind)
	}
	d.lock.Lock()
	changed := d.values[kind] != value
	d.values[kind] = value
	d.lock.Unlock()
	if changed {
		d.logger.Debugw("dummy actuator", "kind", kind, "value", value)
	}
	return nil
}

// Value returns the last value written for kind.
func (d *DummySink) Value(kind Kind) int {
	if !kind.Valid() {
		return 0
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.values[kind]
}
