package hardware

import (
	"time"

	"github.com/pkg/errors"
)

const (
	BackendDummy = "dummy"
	BackendI2C   = "i2c"
	BackendCAN   = "can"
)

var ErrUnknownBackend = errors.New("unknown hardware backend")

type ESCPorts struct {
	Left  int `yaml:"left"`
	Right int `yaml:"right"`
	Mow   int `yaml:"mow"`
}

type TachPins struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
	Mow   string `yaml:"mow"`
}

type Config struct {
	Backend string `yaml:"backend"`

	I2CDevice     string   `yaml:"i2cDevice"`
	PCA9685Addr   int      `yaml:"pca9685Addr"`
	ESCPorts      ESCPorts `yaml:"escPorts"`
	CalibrateESCs bool     `yaml:"calibrateESCs"`

	BatteryShuntOhms  float64 `yaml:"batteryShuntOhms"`
	BatteryMaxCurrent float64 `yaml:"batteryMaxCurrent"`
	ChargeShuntOhms   float64 `yaml:"chargeShuntOhms"`
	ChargeMaxCurrent  float64 `yaml:"chargeMaxCurrent"`

	EmergencyPin       string `yaml:"emergencyPin"`
	EmergencyActiveLow bool   `yaml:"emergencyActiveLow"`
	// Relay that cuts motor power while the emergency stop is engaged.
	RelayPin string `yaml:"relayPin"`

	TachPins          TachPins      `yaml:"tachPins"`
	WheelPulsesPerRev float64       `yaml:"wheelPulsesPerRev"`
	RpmWindow         time.Duration `yaml:"rpmWindow"`

	CANInterface string `yaml:"canInterface"`

	// Wheel speed the dummy backend reports at full duty.
	SimRpmAtMax float64 `yaml:"simRpmAtMax"`
}

func DefaultConfig() Config {
	return Config{
		Backend:     BackendDummy,
		I2CDevice:   "/dev/i2c-1",
		PCA9685Addr: 0x40,
		ESCPorts: ESCPorts{
			Left:  0,
			Right: 1,
			Mow:   2,
		},
		BatteryShuntOhms:   0.1,
		BatteryMaxCurrent:  3.2,
		ChargeShuntOhms:    0.1,
		ChargeMaxCurrent:   3.2,
		EmergencyPin:       "GPIO17",
		EmergencyActiveLow: true,
		RelayPin:           "GPIO27",
		TachPins: TachPins{
			Left:  "GPIO5",
			Right: "GPIO6",
			Mow:   "GPIO13",
		},
		WheelPulsesPerRev: 6,
		RpmWindow:         200 * time.Millisecond,
		CANInterface:      "can0",
		SimRpmAtMax:       33,
	}
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendDummy, BackendCAN:
	case BackendI2C:
		if c.EmergencyPin == "" {
			return errors.New("i2c backend needs an emergencyPin")
		}
		if c.WheelPulsesPerRev <= 0 || c.RpmWindow <= 0 {
			return errors.New("i2c backend needs positive wheelPulsesPerRev and rpmWindow")
		}
	default:
		return errors.Wrapf(ErrUnknownBackend, "%q", c.Backend)
	}
	return nil
}
