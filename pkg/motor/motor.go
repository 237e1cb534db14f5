// Package motor models the two drive wheels and the mow blade: it turns set-points into
// committed PWM duties and watches the RPM feedback for stalls, obstacles and a stuck robot.
package motor

import (
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/faults"
	"github.com/lawndon/go-controller/pkg/sensor"
	"github.com/lawndon/go-controller/pkg/tacho"
)

type Config struct {
	SpeedMaxRpm float64 `yaml:"speedMaxRpm"`
	SpeedMaxPwm int     `yaml:"speedMaxPwm"`
	// PowerMax scales SpeedPwm, in 0..1.
	PowerMax float64 `yaml:"powerMax"`

	// SettleTime is how long a wheel is held at zero before it may reverse.
	SettleTime time.Duration `yaml:"settleTime"`

	SampleWindow time.Duration `yaml:"sampleWindow"`
	StallWindows int           `yaml:"stallWindows"`
	StallRpm     float64       `yaml:"stallRpm"`
	StuckTime    time.Duration `yaml:"stuckTime"`

	ObstacleRpmRatio float64       `yaml:"obstacleRpmRatio"`
	ObstacleTicks    int           `yaml:"obstacleTicks"`
	SpinUpTime       time.Duration `yaml:"spinUpTime"`

	MowPulsesPerRev float64 `yaml:"mowPulsesPerRev"`
}

func DefaultConfig() Config {
	return Config{
		SpeedMaxRpm:      33,
		SpeedMaxPwm:      255,
		PowerMax:         0.75,
		SettleTime:       300 * time.Millisecond,
		SampleWindow:     500 * time.Millisecond,
		StallWindows:     4,
		StallRpm:         1,
		StuckTime:        3 * time.Second,
		ObstacleRpmRatio: 0.3,
		ObstacleTicks:    5,
		SpinUpTime:       time.Second,
		MowPulsesPerRev:  1,
	}
}

func (c Config) Validate() error {
	switch {
	case c.SpeedMaxRpm <= 0:
		return errors.New("motor speedMaxRpm must be positive")
	case c.SpeedMaxPwm <= 0:
		return errors.New("motor speedMaxPwm must be positive")
	case c.PowerMax <= 0 || c.PowerMax > 1:
		return errors.Errorf("motor powerMax %v outside (0, 1]", c.PowerMax)
	case c.SampleWindow <= 0:
		return errors.New("motor sampleWindow must be positive")
	case c.StallWindows <= 0:
		return errors.New("motor stallWindows must be positive")
	case c.ObstacleTicks <= 0:
		return errors.New("motor obstacleTicks must be positive")
	case c.MowPulsesPerRev <= 0:
		return errors.New("motor mowPulsesPerRev must be positive")
	case c.SettleTime < 0 || c.StuckTime < 0 || c.SpinUpTime < 0:
		return errors.New("motor times must not be negative")
	}
	return nil
}

type wheel struct {
	kind  actuator.Kind
	fault faults.Kind

	set int
	out int

	// Sign of the last non-zero output still assumed to be spinning, 0 once settled.
	lastDir   int
	zeroSince time.Time

	changeDir   bool
	settleUntil time.Time

	movingSince time.Time
	rpm         float64
	slowTicks   int
	stalled     int
}

type Model struct {
	cfg    Config
	sink   actuator.Interface
	logger golog.Logger

	left, right wheel

	mowSet      int
	mowOut      int
	mowEnable   bool
	mowForceOff bool
	mowCounter  *tacho.Counter
	mowRpm      float64
	mowStalled  int

	windowStart time.Time
	stuckSince  time.Time
}

func New(cfg Config, sink actuator.Interface, logger golog.Logger) *Model {
	return &Model{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		left:   wheel{kind: actuator.MotorLeft, fault: faults.MotorLeft},
		right:  wheel{kind: actuator.MotorRight, fault: faults.MotorRight},

		mowCounter: new(tacho.Counter),
	}
}

// Reset zeroes every set-point and starts a fresh sampling window.
func (m *Model) Reset(now time.Time) {
	for _, w := range []*wheel{&m.left, &m.right} {
		*w = wheel{kind: w.kind, fault: w.fault, zeroSince: now}
	}
	m.mowSet, m.mowOut, m.mowEnable = 0, 0, false
	m.mowRpm, m.mowStalled = 0, 0
	m.mowCounter.ReadAndReset()
	m.windowStart = now
	m.stuckSince = time.Time{}
}

func (m *Model) Config() Config {
	return m.cfg
}

// MowCounter is where tachometer pulses from the blade motor are accumulated.
func (m *Model) MowCounter() *tacho.Counter {
	return m.mowCounter
}

// UseMowCounter makes the model read blade pulses from c, which the tachometer source
// already feeds.
func (m *Model) UseMowCounter(c *tacho.Counter) {
	m.mowCounter = c
}

// SetMotorPwm records new wheel set-points, clamped to the PWM range.
func (m *Model) SetMotorPwm(left, right int) {
	m.left.set = m.clamp(left)
	m.right.set = m.clamp(right)
}

// SetMotorMowPwm records the blade set-point.  The blade only turns one way.
func (m *Model) SetMotorMowPwm(pwm int) {
	m.mowSet = max(0, min(m.cfg.SpeedMaxPwm, pwm))
}

func (m *Model) SetMowEnable(on bool) {
	m.mowEnable = on
}

func (m *Model) SetMowForceOff(off bool) {
	m.mowForceOff = off
}

func (m *Model) MowEnable() bool   { return m.mowEnable }
func (m *Model) MowForceOff() bool { return m.mowForceOff }

// SpeedPwm converts a wheel speed in RPM into a PWM duty.
func (m *Model) SpeedPwm(rpm float64) int {
	pwm := rpm * float64(m.cfg.SpeedMaxPwm) / m.cfg.SpeedMaxRpm * m.cfg.PowerMax
	return m.clamp(int(math.Round(pwm)))
}

// ExpectedRpm is the wheel speed a PWM duty should produce on open ground.
func (m *Model) ExpectedRpm(pwm int) float64 {
	return float64(pwm) * m.cfg.SpeedMaxRpm / float64(m.cfg.SpeedMaxPwm)
}

// ResetChangeDir drops any pending reversal settle.  A wheel still assumed to be turning
// the other way will start a fresh settle on the next commit.
func (m *Model) ResetChangeDir() {
	m.left.changeDir, m.right.changeDir = false, false
	m.left.settleUntil, m.right.settleUntil = time.Time{}, time.Time{}
}

func (m *Model) LeftSet() int        { return m.left.set }
func (m *Model) RightSet() int       { return m.right.set }
func (m *Model) LeftOutput() int     { return m.left.out }
func (m *Model) RightOutput() int    { return m.right.out }
func (m *Model) MowOutput() int      { return m.mowOut }
func (m *Model) LeftChangeDir() bool  { return m.left.changeDir }
func (m *Model) RightChangeDir() bool { return m.right.changeDir }
func (m *Model) LeftRpm() float64  { return m.left.rpm }
func (m *Model) RightRpm() float64 { return m.right.rpm }
func (m *Model) MowRpm() float64   { return m.mowRpm }

// Obstructed reports whether either wheel has been running well below its expected speed
// for ObstacleTicks consecutive updates.
func (m *Model) Obstructed() bool {
	return m.left.slowTicks >= m.cfg.ObstacleTicks || m.right.slowTicks >= m.cfg.ObstacleTicks
}

// Update consumes one tick of wheel RPM feedback against the outputs committed on the
// previous tick, closes the sampling window when it is due, and reports motor faults.
// driving is true while the behaviour is in a state that moves the robot.
func (m *Model) Update(now time.Time, r sensor.Readings, errs *faults.Set, driving bool) {
	m.left.rpm, m.right.rpm = r.LeftRpm, r.RightRpm
	for _, w := range []*wheel{&m.left, &m.right} {
		m.checkObstacle(now, w)
	}

	if elapsed := now.Sub(m.windowStart); elapsed >= m.cfg.SampleWindow {
		m.closeWindow(elapsed, errs)
		m.windowStart = now
	}

	m.checkStuck(now, errs, driving)
}

func (m *Model) checkObstacle(now time.Time, w *wheel) {
	if w.out == 0 || now.Sub(w.movingSince) < m.cfg.SpinUpTime {
		w.slowTicks = 0
		return
	}
	if math.Abs(w.rpm) < m.cfg.ObstacleRpmRatio*math.Abs(m.ExpectedRpm(w.out)) {
		w.slowTicks++
	} else {
		w.slowTicks = 0
	}
}

func (m *Model) closeWindow(elapsed time.Duration, errs *faults.Set) {
	pulses := m.mowCounter.ReadAndReset()
	m.mowRpm = float64(pulses) / m.cfg.MowPulsesPerRev / elapsed.Minutes()
	m.mowStalled = m.countStall(m.mowStalled, m.mowOut != 0, pulses > 0)
	m.assign(errs, faults.MotorMow, m.mowStalled >= m.cfg.StallWindows)

	for _, w := range []*wheel{&m.left, &m.right} {
		w.stalled = m.countStall(w.stalled, w.out != 0, math.Abs(w.rpm) >= m.cfg.StallRpm)
		m.assign(errs, w.fault, w.stalled >= m.cfg.StallWindows)
	}
}

// countStall advances a stalled-window count.  Only a commanded window can show that a
// motor turns again, so an idle window drops a partial count but keeps a latched one.
func (m *Model) countStall(stalled int, commanded, turning bool) int {
	switch {
	case commanded && !turning:
		return stalled + 1
	case commanded:
		return 0
	case stalled >= m.cfg.StallWindows:
		return stalled
	}
	return 0
}

// ClearFaults drops latched motor stall faults after the operator has acknowledged them.
// A motor that is still dead faults again after StallWindows commanded windows.
func (m *Model) ClearFaults(errs *faults.Set) {
	m.mowStalled = 0
	m.left.stalled, m.right.stalled = 0, 0
	for _, k := range []faults.Kind{faults.MotorLeft, faults.MotorRight, faults.MotorMow} {
		m.assign(errs, k, false)
	}
}

func (m *Model) checkStuck(now time.Time, errs *faults.Set, driving bool) {
	leftStill := math.Abs(m.left.rpm) < m.cfg.StallRpm
	rightStill := math.Abs(m.right.rpm) < m.cfg.StallRpm
	if !leftStill || !rightStill {
		m.stuckSince = time.Time{}
		m.assign(errs, faults.Stuck, false)
		return
	}
	if !driving || m.left.out == 0 || m.right.out == 0 {
		m.stuckSince = time.Time{}
		return
	}
	if m.stuckSince.IsZero() {
		m.stuckSince = now
	}
	if now.Sub(m.stuckSince) >= m.cfg.StuckTime {
		m.assign(errs, faults.Stuck, true)
	}
}

func (m *Model) assign(errs *faults.Set, k faults.Kind, active bool) {
	if errs.IsSet(k) == active {
		return
	}
	if active {
		m.logger.Warnw("motor fault", "fault", k)
	} else {
		m.logger.Infow("motor fault cleared", "fault", k)
	}
	errs.Assign(k, active)
}

// Commit resolves every output for this tick and writes it to the actuator sink.  With
// emer engaged every output is zero.
func (m *Model) Commit(now time.Time, emer bool) error {
	for _, w := range []*wheel{&m.left, &m.right} {
		out := m.resolve(now, w)
		if emer {
			out = 0
		}
		m.track(now, w, out)
	}

	m.mowOut = m.mowSet
	if emer || m.mowForceOff || !m.mowEnable {
		m.mowOut = 0
	}

	var err error
	for _, o := range []struct {
		kind  actuator.Kind
		value int
	}{
		{actuator.MotorLeft, m.left.out},
		{actuator.MotorRight, m.right.out},
		{actuator.MotorMow, m.mowOut},
	} {
		if e := m.sink.SetActuator(o.kind, o.value); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "set %v", o.kind))
		}
	}
	return err
}

// resolve runs the per-wheel reversal sub-state: request, then zero until settled, then apply.
func (m *Model) resolve(now time.Time, w *wheel) int {
	want := sign(w.set)
	if w.changeDir {
		if now.Before(w.settleUntil) {
			return 0
		}
		w.changeDir = false
		w.lastDir = 0
		return w.set
	}
	if want != 0 && w.lastDir != 0 && want != w.lastDir {
		w.changeDir = true
		w.settleUntil = now.Add(m.cfg.SettleTime)
		m.logger.Debugw("wheel reversing", "wheel", w.kind, "settle", m.cfg.SettleTime)
		return 0
	}
	return w.set
}

func (m *Model) track(now time.Time, w *wheel, out int) {
	if out == 0 {
		if w.out != 0 {
			w.zeroSince = now
		}
		if !w.changeDir && now.Sub(w.zeroSince) >= m.cfg.SettleTime {
			w.lastDir = 0
		}
	} else {
		if w.out == 0 {
			w.movingSince = now
		}
		w.lastDir = sign(out)
	}
	w.out = out
}

func (m *Model) clamp(pwm int) int {
	return max(-m.cfg.SpeedMaxPwm, min(m.cfg.SpeedMaxPwm, pwm))
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
