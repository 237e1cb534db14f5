package sensor

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type Kind uint8

const (
	BatVoltage Kind = iota
	ChgCurrent
	ChgVoltage
	// MotorLeft and MotorRight report the measured wheel speed in RPM.
	MotorLeft
	MotorRight

	numKinds
)

var kindNames = map[Kind]string{
	BatVoltage: "bat-voltage",
	ChgCurrent: "chg-current",
	ChgVoltage: "chg-voltage",
	MotorLeft:  "motor-left",
	MotorRight: "motor-right",
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

type Interface interface {
	ReadSensor(kind Kind) (float64, error)
}

// Mask is a set of sensor kinds.
type Mask uint8

const AllKinds Mask = 1<<numKinds - 1

func MaskOf(kinds ...Kind) Mask {
	var m Mask
	for _, k := range kinds {
		if k.Valid() {
			m |= 1 << k
		}
	}
	return m
}

func (m Mask) Has(k Kind) bool {
	return k.Valid() && m&(1<<k) != 0
}

// Readings is one tick's worth of sensor intake.  Missing holds the kinds that have never
// been read successfully; their fields are zero and mean nothing.
type Readings struct {
	BatVoltage float64
	ChgCurrent float64
	ChgVoltage float64
	LeftRpm    float64
	RightRpm   float64

	Missing Mask
}

// ReadAll reads every sensor once into fresh readings.  Kinds that fail are left at zero
// and marked missing.
func ReadAll(s Interface) (Readings, error) {
	r := Readings{Missing: AllKinds}
	err := ReadInto(s, &r)
	return r, err
}

// ReadInto reads every sensor once and updates only the fields of r whose read succeeded.
// A failed kind keeps its previous value.  Every failure is returned.
func ReadInto(s Interface, r *Readings) error {
	var err error
	for _, f := range []struct {
		kind Kind
		dst  *float64
	}{
		{BatVoltage, &r.BatVoltage},
		{ChgCurrent, &r.ChgCurrent},
		{ChgVoltage, &r.ChgVoltage},
		{MotorLeft, &r.LeftRpm},
		{MotorRight, &r.RightRpm},
	} {
		v, e := s.ReadSensor(f.kind)
		if e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "read %v", f.kind))
			continue
		}
		*f.dst = v
		r.Missing &^= MaskOf(f.kind)
	}
	return err
}

// Dummy returns a sensor source whose readings are set by the caller.
func Dummy() *DummySource {
	return &DummySource{}
}

type DummySource struct {
	lock   sync.Mutex
	values [numKinds]float64
}

var _ Interface = (*DummySource)(nil)

func (d *DummySource) Set(kind Kind, value float64) {
	if !kind.Valid() {
		return
	}
	d.lock.Lock()
	d.values[kind] = value
	d.lock.Unlock()
}

func (d *DummySource) ReadSensor(kind Kind) (float64, error) {
	if !kind.Valid() {
		return 0, errors.Errorf("unknown sensor %v", kind)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.values[kind], nil
}
