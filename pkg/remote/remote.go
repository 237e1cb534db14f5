// Package remote turns operator stick positions into wheel duties.
package remote

import (
	"math"

	"github.com/pkg/errors"
)

const (
	ThrottleExpo = 1.6
	SteerExpo    = 2.5

	// Full stick deflection in a radio command.
	MaxStick = 100
)

// Mixer maps throttle and steer in [-MaxStick, MaxStick] to left and right duties in
// [-maxPwm, maxPwm].  Positive steer turns right.
type Mixer func(throttle, steer int8, maxPwm int) (left, right int)

func MixAggressive(throttle, steer int8, maxPwm int) (left, right int) {
	return mix(throttle, steer, float64(maxPwm))
}

// MixGentle limits the output to a quarter of the range for manoeuvring near obstacles.
func MixGentle(throttle, steer int8, maxPwm int) (left, right int) {
	return mix(throttle, steer, float64(maxPwm)/4)
}

// ByName looks up a mixer by its configured name.
func ByName(name string) (Mixer, error) {
	switch name {
	case "", "aggressive":
		return MixAggressive, nil
	case "gentle":
		return MixGentle, nil
	}
	return nil, errors.Errorf("unknown remote mix %q", name)
}

func mix(throttle, steer int8, multiplier float64) (left, right int) {
	// Put the values into the range (-1, 1) and apply expo.
	throttleExpo := applyExpo(float64(throttle)/MaxStick, ThrottleExpo)
	steerExpo := applyExpo(float64(steer)/MaxStick, SteerExpo)

	l := throttleExpo + steerExpo
	r := throttleExpo - steerExpo

	// Scale down both sides together so steering survives full throttle.
	m := math.Max(math.Abs(l), math.Abs(r))
	scale := 1.0
	if m > 1 {
		scale = 1.0 / m
	}

	left = scaleAndClamp(l*scale, multiplier)
	right = scaleAndClamp(r*scale, multiplier)
	return
}

// StickPercent converts a raw joystick axis value to [-MaxStick, MaxStick].
func StickPercent(v int16) int8 {
	p := int(v) * MaxStick / math.MaxInt16
	return int8(max(-MaxStick, min(MaxStick, p)))
}

func applyExpo(value float64, expo float64) float64 {
	absVal := math.Min(math.Abs(value), 1)
	absExpo := math.Pow(absVal, expo)
	return math.Copysign(absExpo, value)
}

func scaleAndClamp(value, multiplier float64) int {
	multiplied := value * multiplier
	if multiplied <= -multiplier {
		return int(-multiplier)
	}
	if multiplied >= multiplier {
		return int(multiplier)
	}
	return int(multiplied)
}
