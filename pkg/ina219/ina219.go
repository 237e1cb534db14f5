package ina219

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const (
	// Battery monitor on the main supply and charge monitor on the dock contacts.
	AddrBattery = 0x44
	AddrCharge  = 0x45

	RegConfig      = 0
	RegShuntV      = 1
	RegBusV        = 2
	RegPower       = 3
	RegCurrent     = 4
	RegCalibration = 5

	BusVoltageLSB = 0.004
)

type Interface interface {
	Configure(shuntOhms float64, maxCurrent float64) error
	ReadBusVoltage() (float64, error)
	ReadCurrent() (float64, error)
	ReadPower() (float64, error)
	Close() error
}

type port interface {
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) error
	Close() error
}

type INA219 struct {
	currentLSB float64
	dev        port
}

func NewI2C(deviceFile string, addr int) (Interface, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "open ina219 at %#x", addr)
	}
	return &INA219{
		dev: dev,
	}, nil
}

func (m *INA219) Configure(shuntOhms float64, maxCurrent float64) error {
	if shuntOhms <= 0 || maxCurrent <= 0 {
		return errors.Errorf("ina219: bad calibration shunt=%v max=%v", shuntOhms, maxCurrent)
	}
	m.currentLSB = maxCurrent / (1 << 15)
	cval := CalculateCalibrationValue(m.currentLSB, shuntOhms)
	return errors.Wrap(m.dev.WriteReg(RegCalibration, []byte{byte(cval >> 8), byte(cval)}), "ina219 calibration")
}

func (m *INA219) ReadBusVoltage() (float64, error) {
	raw, err := m.Read16(RegBusV)
	if err != nil {
		return 0, err
	}
	return float64(raw>>3) * BusVoltageLSB, nil
}

// ReadCurrent returns the shunt current in amps; negative when flowing into the battery.
func (m *INA219) ReadCurrent() (float64, error) {
	raw, err := m.Read16(RegCurrent)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)) * m.currentLSB, nil
}

func (m *INA219) ReadPower() (float64, error) {
	raw, err := m.Read16(RegPower)
	if err != nil {
		return 0, err
	}
	return float64(raw) * m.currentLSB * 20, nil
}

func (m *INA219) Read16(reg byte) (uint16, error) {
	var buf [2]byte
	if err := m.dev.ReadReg(reg, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "ina219 read reg %d", reg)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (m *INA219) Close() error {
	return m.dev.Close()
}

func CalculateCalibrationValue(currentLSB float64, shuntOhms float64) int16 {
	return int16(0.04096 / (currentLSB * shuntOhms))
}

// Dummy returns a monitor reporting whatever was last passed to Set.
func Dummy(volts, amps float64) *DummyMonitor {
	return &DummyMonitor{volts: volts, amps: amps}
}

type DummyMonitor struct {
	lock        sync.Mutex
	volts, amps float64
}

var _ Interface = (*DummyMonitor)(nil)

func (d *DummyMonitor) Set(volts, amps float64) {
	d.lock.Lock()
	d.volts, d.amps = volts, amps
	d.lock.Unlock()
}

func (*DummyMonitor) Configure(float64, float64) error {
	return nil
}

func (d *DummyMonitor) ReadBusVoltage() (float64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.volts, nil
}

func (d *DummyMonitor) ReadCurrent() (float64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.amps, nil
}

func (d *DummyMonitor) ReadPower() (float64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.volts * d.amps, nil
}

func (*DummyMonitor) Close() error {
	return nil
}
