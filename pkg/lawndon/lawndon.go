// Package lawndon is the mower's behaviour controller.  One Lawndon owns the state machine
// and is driven by a single control loop calling Tick.
package lawndon

import (
	"math"
	"math/rand"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/lawndon/go-controller/pkg/actuator"
	"github.com/lawndon/go-controller/pkg/faults"
	"github.com/lawndon/go-controller/pkg/link"
	"github.com/lawndon/go-controller/pkg/locate"
	"github.com/lawndon/go-controller/pkg/motor"
	"github.com/lawndon/go-controller/pkg/power"
	"github.com/lawndon/go-controller/pkg/radio"
	"github.com/lawndon/go-controller/pkg/remote"
	"github.com/lawndon/go-controller/pkg/sensor"
)

// EmergencyInput reports the physical stop switch on the mower.
type EmergencyInput interface {
	EmergencyEngaged() bool
}

// Locator finds the way back to the home beacon.
type Locator interface {
	Update(now time.Time)
	Fix(now time.Time) (locate.Fix, bool)
	Reached(f locate.Fix) bool
	Steer(now time.Time, f locate.Fix) (left, right int)
	Reset()
	Config() locate.Config
}

var _ Locator = (*locate.Tracker)(nil)

// Observer is told about every committed state transition.
type Observer interface {
	OnTransition(from, to State)
}

// Deps are the collaborators a Lawndon drives.  All but Locator are required.
type Deps struct {
	Motor     *motor.Model
	Link      *link.Monitor
	Power     *power.Monitor
	Emergency EmergencyInput
	Sensors   sensor.Interface
	// Receives the EmerSw state.  The motors are written through Motor.
	Actuators actuator.Interface
	// Optional; without one the Locate mode is refused.
	Locator Locator
}

type Lawndon struct {
	StateCurrent State
	StateLast    State
	StateNext    State
	// StateEndTime is the deadline of a timed state, zero otherwise.
	StateStartTime time.Time
	StateEndTime   time.Time

	EmerSwitch bool
	Errors     faults.Set

	cfg       Config
	logger    golog.Logger
	motor     *motor.Model
	lora      *link.Monitor
	power     *power.Monitor
	emergency EmergencyInput
	sensors   sensor.Interface
	actuators actuator.Interface
	locator   Locator
	mix       remote.Mixer
	observers []Observer

	readings     sensor.Readings
	sensorFailed bool

	rollDir   RollDir
	rollCount int
	rng       *rand.Rand
	// Obstacles met since Forward last ran its full time.
	obstacles int
}

// New validates cfg and builds a controller in Off.  Call Setup before the first Tick.
func New(cfg Config, d Deps, logger golog.Logger) (*Lawndon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Motor == nil || d.Link == nil || d.Power == nil || d.Emergency == nil || d.Sensors == nil || d.Actuators == nil {
		return nil, errors.New("lawndon: missing collaborator")
	}
	mix, err := remote.ByName(cfg.RemoteMix)
	if err != nil {
		return nil, err
	}
	return &Lawndon{
		cfg:       cfg,
		logger:    logger,
		motor:     d.Motor,
		lora:      d.Link,
		power:     d.Power,
		emergency: d.Emergency,
		sensors:   d.Sensors,
		actuators: d.Actuators,
		locator:   d.Locator,
		mix:       mix,
		rng:       rand.New(rand.NewSource(cfg.RollSeed)),
		readings:  sensor.Readings{Missing: sensor.AllKinds},
	}, nil
}

func (l *Lawndon) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

// Setup zeroes the motors, reads the emergency switch and starts in Off.
func (l *Lawndon) Setup(now time.Time) error {
	l.EmerSwitch = l.emergency.EmergencyEngaged()
	l.StateCurrent, l.StateLast, l.StateNext = Off, Off, Off
	l.StateStartTime, l.StateEndTime = now, time.Time{}
	l.motor.Reset(now)
	l.motor.SetMowForceOff(false)
	l.logger.Infow("controller setup", "emergency", l.EmerSwitch)

	err := errors.Wrap(l.actuators.SetActuator(actuator.EmerSw, actuator.BoolValue(l.EmerSwitch)), "set emergency switch")
	return multierr.Append(err, l.motor.Commit(now, l.EmerSwitch))
}

// Tick runs one control-loop pass.  The error is the actuator write failure, if any; the
// state machine has still advanced.
func (l *Lawndon) Tick(now time.Time) error {
	var err error

	emer := l.emergency.EmergencyEngaged()
	if emer != l.EmerSwitch {
		l.EmerSwitch = emer
		l.logger.Infow("emergency switch", "engaged", emer, "state", l.StateCurrent)
		err = errors.Wrap(l.actuators.SetActuator(actuator.EmerSw, actuator.BoolValue(emer)), "set emergency switch")
		if !emer && l.StateCurrent == Error {
			// Cycling the stop switch at the mower acknowledges latched motor faults.
			l.logger.Infow("motor faults acknowledged", "errors", l.Errors.String())
			l.motor.ClearFaults(&l.Errors)
		}
	}

	l.readSensors()
	l.lora.Update(now, &l.Errors)
	l.power.Update(l.readings, &l.Errors)
	l.motor.Update(now, l.readings, &l.Errors, l.StateCurrent.Drive())
	if l.locator != nil {
		l.locator.Update(now)
	}

	l.StateNext = l.evaluate(now)
	if !l.StateNext.Valid() {
		l.logger.Errorw("invalid next state", "state", l.StateCurrent, "next", l.StateNext)
		l.StateNext = Error
	}
	if l.StateNext != l.StateCurrent {
		l.transition(now)
	}
	l.run(now)

	l.motor.SetMowForceOff(l.StateCurrent == Error || l.power.Charging())
	return multierr.Append(err, l.motor.Commit(now, l.EmerSwitch))
}

// readSensors refreshes every channel that answers and keeps the last value of any that
// fail.
func (l *Lawndon) readSensors() {
	err := sensor.ReadInto(l.sensors, &l.readings)
	if err != nil {
		if !l.sensorFailed {
			l.logger.Warnw("sensor read failed, holding last readings", "error", err)
		}
		l.sensorFailed = true
		return
	}
	if l.sensorFailed {
		l.logger.Infow("sensor read recovered")
	}
	l.sensorFailed = false
}

// evaluate picks the next state.  The emergency switch has already been applied: while it
// is engaged only error precedence is evaluated and outputs are forced to zero at commit.
func (l *Lawndon) evaluate(now time.Time) State {
	cur := l.StateCurrent
	if l.Errors.AnySet() {
		return Error
	}
	if cur == Error {
		if l.EmerSwitch {
			return Error
		}
		return Off
	}
	if l.EmerSwitch {
		return cur
	}

	cmd, haveCmd := l.lora.Command(now)
	if cur.Autonomous() && haveCmd {
		switch cmd.Mode {
		case radio.ModeOff:
			return Off
		case radio.ModeRemote:
			return Remote
		}
	}

	switch cur {
	case Off:
		if haveCmd && cmd.Mode == radio.ModeRemote {
			return Remote
		}
	case Remote:
		if !haveCmd {
			return Off
		}
		return l.remoteMode(cmd)
	case Forward:
		if l.expired(now) {
			return Roll
		}
		if l.motor.Obstructed() {
			return Reverse
		}
	case Reverse:
		if l.expired(now) {
			return Roll
		}
	case Roll:
		if l.expired(now) {
			return Forward
		}
	case Circle:
		if l.expired(now) || l.motor.Obstructed() {
			return Forward
		}
	case LocateFind:
		if l.expired(now) {
			l.logger.Warnw("no locate fix", "waited", now.Sub(l.StateStartTime))
			return Error
		}
		if _, ok := l.locator.Fix(now); ok {
			return LocateTrack
		}
	case LocateTrack:
		f, ok := l.locator.Fix(now)
		if !ok {
			return LocateFind
		}
		if l.locator.Reached(f) {
			return Off
		}
	}
	return cur
}

func (l *Lawndon) remoteMode(cmd radio.Command) State {
	switch cmd.Mode {
	case radio.ModeOff:
		return Off
	case radio.ModeAuto:
		if l.lora.ScheduleAllows() {
			return Forward
		}
	case radio.ModeCircle:
		return Circle
	case radio.ModeLocate:
		if l.locator != nil {
			return LocateFind
		}
	}
	return Remote
}

func (l *Lawndon) expired(now time.Time) bool {
	return !l.StateEndTime.IsZero() && !now.Before(l.StateEndTime)
}

func (l *Lawndon) transition(now time.Time) {
	from, to := l.StateCurrent, l.StateNext
	l.StateLast, l.StateCurrent = from, to
	l.StateStartTime, l.StateEndTime = now, time.Time{}

	if from.Drive() && !to.Drive() && l.Errors.IsSet(faults.Stuck) {
		l.logger.Infow("stuck cleared leaving drive state")
		l.Errors.Clear(faults.Stuck)
	}
	if to.Drive() {
		l.motor.ResetChangeDir()
	}
	l.enter(now, from, to)

	l.logger.Infow("state change", "from", from, "to", to, "errors", l.Errors.String())
	for _, o := range l.observers {
		o.OnTransition(from, to)
	}
}

// enter runs the entry action of to.
func (l *Lawndon) enter(now time.Time, from, to State) {
	switch to {
	case Off, Error:
		l.stopAll()
	case Remote:
		l.motor.SetMotorPwm(0, 0)
	case Forward:
		pwm := l.motor.SpeedPwm(l.cfg.CruiseRpm)
		l.motor.SetMotorPwm(pwm, pwm)
		l.mowOn()
		l.StateEndTime = now.Add(l.cfg.ForwardTimeMax)
	case Reverse:
		l.obstacles++
		pwm := l.motor.SpeedPwm(l.cfg.ReverseRpm)
		l.motor.SetMotorPwm(-pwm, -pwm)
		l.StateEndTime = now.Add(l.cfg.ReverseTime)
	case Roll:
		n := 1
		if from == Reverse {
			n = l.obstacles
		} else {
			l.obstacles = 0
		}
		l.rollDir = l.nextRollDir()
		pwm := l.motor.SpeedPwm(l.cfg.RollRpm)
		if l.rollDir == RollLeft {
			l.motor.SetMotorPwm(-pwm, pwm)
		} else {
			l.motor.SetMotorPwm(pwm, -pwm)
		}
		d := l.rollDuration(n)
		l.StateEndTime = now.Add(d)
		l.logger.Debugw("rolling", "dir", l.rollDir, "duration", d, "obstacles", n)
	case Circle:
		outer := l.motor.SpeedPwm(l.cfg.CircleRpm)
		inner := int(math.Round(float64(outer) * l.cfg.CircleInnerRatio))
		l.motor.SetMotorPwm(inner, outer)
		l.mowOn()
		l.StateEndTime = now.Add(l.cfg.CircleTime)
	case LocateFind:
		l.stopAll()
		l.locator.Reset()
		l.StateEndTime = now.Add(l.locator.Config().FindTimeout)
	case LocateTrack:
		l.motor.SetMowEnable(false)
		l.motor.SetMotorMowPwm(0)
	}
}

// run applies the per-tick actions of states that follow live input.
func (l *Lawndon) run(now time.Time) {
	switch l.StateCurrent {
	case Remote:
		cmd, ok := l.lora.Command(now)
		if !ok {
			l.motor.SetMotorPwm(0, 0)
			l.motor.SetMowEnable(false)
			return
		}
		maxPwm := l.motor.Config().SpeedMaxPwm
		left, right := l.mix(cmd.Throttle, cmd.Steer, maxPwm)
		l.motor.SetMotorPwm(left, right)
		l.motor.SetMowEnable(cmd.Mow > 0)
		l.motor.SetMotorMowPwm(int(cmd.Mow) * maxPwm / radio.MaxMow)
	case LocateTrack:
		if f, ok := l.locator.Fix(now); ok {
			l.motor.SetMotorPwm(l.locator.Steer(now, f))
		}
	}
}

func (l *Lawndon) stopAll() {
	l.motor.SetMotorPwm(0, 0)
	l.motor.SetMowEnable(false)
	l.motor.SetMotorMowPwm(0)
}

func (l *Lawndon) mowOn() {
	l.motor.SetMotorMowPwm(l.cfg.MowPwm)
	l.motor.SetMowEnable(true)
}

func (l *Lawndon) nextRollDir() RollDir {
	l.rollCount++
	if l.cfg.RollPolicy == RollRandom {
		return RollDir(l.rng.Intn(2))
	}
	if l.rollCount%2 == 1 {
		return RollLeft
	}
	return RollRight
}

// rollDuration grows from RollTimeMin to RollTimeMax over the first four consecutive
// obstacles.
func (l *Lawndon) rollDuration(obstacles int) time.Duration {
	step := min(max(obstacles-1, 0), 3)
	return l.cfg.RollTimeMin + (l.cfg.RollTimeMax-l.cfg.RollTimeMin)*time.Duration(step)/3
}

// Status is a snapshot for displays.
type Status struct {
	State     State
	LastState State
	Since     time.Time

	Errors    []faults.Kind
	Emergency bool

	Charging     bool
	BatVoltage   float64
	BatteryLevel float64

	LeftRpm, RightRpm, MowRpm          float64
	LeftOutput, RightOutput, MowOutput int

	LinkEstablished bool
	RSSI            int
}

func (l *Lawndon) Status() Status {
	return Status{
		State:           l.StateCurrent,
		LastState:       l.StateLast,
		Since:           l.StateStartTime,
		Errors:          l.Errors.Active(),
		Emergency:       l.EmerSwitch,
		Charging:        l.power.Charging(),
		BatVoltage:      l.power.BatVoltage(),
		BatteryLevel:    l.power.Level(),
		LeftRpm:         l.motor.LeftRpm(),
		RightRpm:        l.motor.RightRpm(),
		MowRpm:          l.motor.MowRpm(),
		LeftOutput:      l.motor.LeftOutput(),
		RightOutput:     l.motor.RightOutput(),
		MowOutput:       l.motor.MowOutput(),
		LinkEstablished: l.lora.Established(),
		RSSI:            l.lora.RSSI(),
	}
}
