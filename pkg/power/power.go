// Package power watches the battery and dock readings.
package power

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/faults"
	"github.com/lawndon/go-controller/pkg/sensor"
)

type Config struct {
	BatteryMinVoltage   float64 `yaml:"batteryMinVoltage"`
	BatteryHysteresis   float64 `yaml:"batteryHysteresis"`
	ChargeDetectVoltage float64 `yaml:"chargeDetectVoltage"`
	// Full-charge voltage, only used to scale the battery gauge.
	BatteryFullVoltage float64 `yaml:"batteryFullVoltage"`
}

func DefaultConfig() Config {
	return Config{
		BatteryMinVoltage:   21.7,
		BatteryHysteresis:   0.5,
		ChargeDetectVoltage: 5,
		BatteryFullVoltage:  29.4,
	}
}

func (c Config) Validate() error {
	if c.BatteryHysteresis < 0 {
		return errors.New("power batteryHysteresis must not be negative")
	}
	if c.BatteryFullVoltage <= c.BatteryMinVoltage {
		return errors.Errorf("power batteryFullVoltage %v must exceed batteryMinVoltage %v",
			c.BatteryFullVoltage, c.BatteryMinVoltage)
	}
	return nil
}

type Monitor struct {
	cfg    Config
	logger golog.Logger

	batVoltage float64
	chgVoltage float64
	chgCurrent float64
	charging   bool
}

func New(cfg Config, logger golog.Logger) *Monitor {
	return &Monitor{cfg: cfg, logger: logger}
}

// Update consumes one tick of readings and maintains faults.Battery.  The battery is not
// judged until its voltage has been read.
func (m *Monitor) Update(r sensor.Readings, errs *faults.Set) {
	m.batVoltage, m.chgVoltage, m.chgCurrent = r.BatVoltage, r.ChgVoltage, r.ChgCurrent

	charging := r.ChgVoltage > m.cfg.ChargeDetectVoltage
	if charging != m.charging {
		m.logger.Infow("charging changed", "charging", charging, "chgVoltage", r.ChgVoltage)
		m.charging = charging
	}

	if r.Missing.Has(sensor.BatVoltage) {
		return
	}
	switch {
	case r.BatVoltage < m.cfg.BatteryMinVoltage && !errs.IsSet(faults.Battery):
		m.logger.Warnw("battery low", "voltage", r.BatVoltage, "min", m.cfg.BatteryMinVoltage)
		errs.Set(faults.Battery)
	case r.BatVoltage >= m.cfg.BatteryMinVoltage+m.cfg.BatteryHysteresis && errs.IsSet(faults.Battery):
		m.logger.Infow("battery recovered", "voltage", r.BatVoltage)
		errs.Clear(faults.Battery)
	}
}

func (m *Monitor) Charging() bool {
	return m.charging
}

func (m *Monitor) BatVoltage() float64 {
	return m.batVoltage
}

func (m *Monitor) ChgCurrent() float64 {
	return m.chgCurrent
}

// Level estimates the remaining charge in [0, 1] from the battery voltage.
func (m *Monitor) Level() float64 {
	l := (m.batVoltage - m.cfg.BatteryMinVoltage) / (m.cfg.BatteryFullVoltage - m.cfg.BatteryMinVoltage)
	return max(0, min(1, l))
}
