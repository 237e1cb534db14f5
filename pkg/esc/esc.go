// Package esc sequences hobby brushless speed controllers: throttle range calibration,
// arming and speed output.  Every phase is timed against the caller's clock and advanced
// by Update, so nothing here ever sleeps.
package esc

import (
	"time"

	"github.com/pkg/errors"
)

const (
	MinThrottle  = 1000 * time.Microsecond
	MaxThrottle  = 2000 * time.Microsecond
	IdleThrottle = 1500 * time.Microsecond

	ArmSignal = 1000 * time.Microsecond
	ArmTime   = 2000 * time.Millisecond

	// How long each end of the range is held during calibration.
	CalibrateHoldTime = 2000 * time.Millisecond

	MaxSpeed      = 500
	DeadzoneRange = 100
	FlutterRange  = 10
)

var ErrNotArmed = errors.New("esc not armed")

type PulseWriter interface {
	SetPulse(port int, width time.Duration) error
}

type Phase uint8

const (
	Disarmed Phase = iota
	CalibrateHigh
	CalibrateLow
	Arming
	Armed
)

var phaseNames = map[Phase]string{
	Disarmed:      "disarmed",
	CalibrateHigh: "calibrate-high",
	CalibrateLow:  "calibrate-low",
	Arming:        "arming",
	Armed:         "armed",
}

func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return "unknown"
}

type ESC struct {
	out  PulseWriter
	port int

	phase      Phase
	phaseStart time.Time

	lastSpeed int
	driven    bool
}

func New(out PulseWriter, port int) *ESC {
	return &ESC{
		out:  out,
		port: port,
	}
}

func (e *ESC) Phase() Phase {
	return e.phase
}

func (e *ESC) Ready() bool {
	return e.phase == Armed
}

// Calibrate starts the throttle range learning sequence: full throttle, then minimum, then
// the normal arming sequence.  The ESC must be powered up while the high pulse is present.
func (e *ESC) Calibrate(now time.Time) error {
	return e.enter(CalibrateHigh, now, MaxThrottle)
}

// Arm starts the arming sequence.  The ESC is ready once Update has seen ArmTime pass.
func (e *ESC) Arm(now time.Time) error {
	return e.enter(Arming, now, ArmSignal)
}

// Disarm drops back to the arm signal.
func (e *ESC) Disarm(now time.Time) error {
	return e.enter(Disarmed, now, ArmSignal)
}

// Update advances any timed phase.
func (e *ESC) Update(now time.Time) error {
	elapsed := now.Sub(e.phaseStart)
	switch e.phase {
	case CalibrateHigh:
		if elapsed >= CalibrateHoldTime {
			return e.enter(CalibrateLow, now, MinThrottle)
		}
	case CalibrateLow:
		if elapsed >= CalibrateHoldTime {
			return e.enter(Arming, now, ArmSignal)
		}
	case Arming:
		if elapsed >= ArmTime {
			return e.enter(Armed, now, IdleThrottle)
		}
	}
	return nil
}

// Drive sets the speed in [-MaxSpeed, MaxSpeed].  Speeds inside the deadzone drive idle.
// Changes smaller than the flutter range are dropped unless they start or stop the motor.
func (e *ESC) Drive(speed int) error {
	if e.phase != Armed {
		return ErrNotArmed
	}
	speed = max(-MaxSpeed, min(MaxSpeed, speed))
	if IsDeadzone(speed) {
		speed = 0
	}
	if e.driven && speed != 0 && e.lastSpeed != 0 && abs(speed-e.lastSpeed) < FlutterRange {
		return nil
	}
	if err := e.out.SetPulse(e.port, SpeedPulse(speed)); err != nil {
		return errors.Wrapf(err, "esc on port %d", e.port)
	}
	e.lastSpeed = speed
	e.driven = true
	return nil
}

// IsDeadzone reports whether speed is too small to move the motor.
func IsDeadzone(speed int) bool {
	return abs(speed) < DeadzoneRange
}

// SpeedPulse maps a speed onto the pulse width either side of idle.
func SpeedPulse(speed int) time.Duration {
	speed = max(-MaxSpeed, min(MaxSpeed, speed))
	return IdleThrottle + time.Duration(speed)*time.Microsecond
}

// SpeedForDuty maps a signed duty in [-maxDuty, maxDuty] onto an ESC speed, skipping the
// deadzone so that any non-zero duty moves the motor.
func SpeedForDuty(duty, maxDuty int) int {
	if duty == 0 || maxDuty <= 0 {
		return 0
	}
	mag := min(abs(duty), maxDuty)
	speed := DeadzoneRange + mag*(MaxSpeed-DeadzoneRange)/maxDuty
	if duty < 0 {
		return -speed
	}
	return speed
}

func (e *ESC) enter(p Phase, now time.Time, pulse time.Duration) error {
	e.phase = p
	e.phaseStart = now
	e.driven = false
	e.lastSpeed = 0
	if err := e.out.SetPulse(e.port, pulse); err != nil {
		return errors.Wrapf(err, "esc on port %d entering %v", e.port, p)
	}
	return nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
