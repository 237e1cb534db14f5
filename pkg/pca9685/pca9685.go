package pca9685

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const (
	DefaultAddr = 0x40

	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each output has two 16-bit (low byte first) registers: on time then off time.
	RegLEDBase = 0x06

	RegPreScale = 0xfe

	NumPorts = 16

	// 50Hz frame, the standard for hobby ESCs.
	PWMPeriod = 20 * time.Millisecond
	PWMMax    = 4095

	// Pre-scaler for 50Hz from the 25MHz internal oscillator.
	preScale50Hz = 0x79
)

type Interface interface {
	Configure() error
	// SetPulse sets the high time of each 20ms frame on port.
	SetPulse(port int, width time.Duration) error
	// SetPWM sets a raw duty cycle in [0, 1].
	SetPWM(port int, value float64) error
	Close() error
}

type PCA9685 struct {
	dev *i2c.Device
}

func New(deviceFile string, addr int) (Interface, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "open pca9685 at %#x", addr)
	}
	return &PCA9685{
		dev: dev,
	}, nil
}

func (p *PCA9685) Configure() (err error) {
	// Sleep so the pre-scaler can be written.
	if err = p.dev.WriteReg(RegMode1, []byte{0x11}); err != nil {
		return
	}
	if err = p.dev.WriteReg(RegPreScale, []byte{preScale50Hz}); err != nil {
		return
	}
	if err = p.dev.WriteReg(RegMode1, []byte{0x01}); err != nil {
		return
	}
	// Oscillator needs 500us after leaving sleep.
	time.Sleep(1 * time.Millisecond)
	// Restart with register auto-increment.
	err = p.dev.WriteReg(RegMode1, []byte{0xa1})
	return
}

// PulseCounts converts a pulse width into 12-bit off-time counts, clamped to the frame.
func PulseCounts(width time.Duration) uint16 {
	if width <= 0 {
		return 0
	}
	if width >= PWMPeriod {
		return PWMMax
	}
	return uint16(int64(PWMMax) * int64(width) / int64(PWMPeriod))
}

func (p *PCA9685) SetPulse(port int, width time.Duration) error {
	if port < 0 || port >= NumPorts {
		return errors.Errorf("pca9685: port %d out of range", port)
	}
	return p.writeOffCount(port, PulseCounts(width))
}

func (p *PCA9685) SetPWM(port int, value float64) error {
	if port < 0 || port >= NumPorts {
		return errors.Errorf("pca9685: port %d out of range", port)
	}
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}
	return p.writeOffCount(port, uint16(PWMMax*value))
}

func (p *PCA9685) writeOffCount(port int, count uint16) error {
	addr := RegLEDBase + port*4
	return p.dev.WriteReg(byte(addr), []byte{0, 0, byte(count & 0xff), byte(count >> 8)})
}

func (p *PCA9685) Close() error {
	return p.dev.Close()
}

// Dummy returns a controller that remembers the last pulse per port.
func Dummy() *DummyPWM {
	return &DummyPWM{pulses: map[int]time.Duration{}}
}

type DummyPWM struct {
	lock   sync.Mutex
	pulses map[int]time.Duration
	writes int
}

var _ Interface = (*DummyPWM)(nil)

func (*DummyPWM) Configure() error {
	return nil
}

func (d *DummyPWM) SetPulse(port int, width time.Duration) error {
	if port < 0 || port >= NumPorts {
		return errors.Errorf("pca9685: port %d out of range", port)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.pulses[port] = width
	d.writes++
	return nil
}

func (d *DummyPWM) SetPWM(port int, value float64) error {
	return d.SetPulse(port, time.Duration(value*float64(PWMPeriod)))
}

func (*DummyPWM) Close() error {
	return nil
}

// Pulse returns the last pulse width written to port.
func (d *DummyPWM) Pulse(port int) time.Duration {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.pulses[port]
}

// Writes returns the number of writes so far.
func (d *DummyPWM) Writes() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.writes
}
