package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/joystick"
	"github.com/lawndon/go-controller/pkg/radio"
	"github.com/lawndon/go-controller/pkg/remote"
	"github.com/lawndon/go-controller/pkg/schedule"
)

var modeButtons = map[uint8]radio.Mode{
	joystick.ButtonCross:    radio.ModeRemote,
	joystick.ButtonTriangle: radio.ModeAuto,
	joystick.ButtonCircle:   radio.ModeCircle,
	joystick.ButtonSquare:   radio.ModeLocate,
	joystick.ButtonOptions:  radio.ModeOff,
}

// pad turns joystick events into the operator command.
type pad struct {
	state joystick.State
	mode  radio.Mode
	mow   bool
	seq   uint8

	mowPercent uint8
}

func newPad(mowPercent uint8) *pad {
	return &pad{mode: radio.ModeOff, mowPercent: mowPercent}
}

// apply returns true if the event changed the mode or the blade.
func (p *pad) apply(e *joystick.Event) bool {
	if !p.state.Apply(e) {
		return false
	}
	if m, ok := modeButtons[e.Number]; ok {
		p.mode = m
		return true
	}
	if e.Number == joystick.ButtonR1 {
		p.mow = !p.mow
		return true
	}
	return false
}

func (p *pad) command() radio.Command {
	c := radio.Command{
		Mode:     p.mode,
		Throttle: remote.StickPercent(-p.state.Axis(joystick.AxisLStickY)),
		Steer:    remote.StickPercent(p.state.Axis(joystick.AxisRStickX)),
		Sequence: p.seq,
	}
	if p.mow {
		c.Mow = p.mowPercent
	}
	p.seq++
	return c
}

// parseTimer reads "HH:MM-HH:MM" with a weekday bitmask.  An empty window gives an
// inactive timer.
func parseTimer(window string, days uint8) (schedule.Timer, error) {
	if window == "" {
		return schedule.Timer{}, nil
	}
	start, stop, ok := strings.Cut(window, "-")
	if !ok {
		return schedule.Timer{}, errors.Errorf("timer window %q is not HH:MM-HH:MM", window)
	}
	t := schedule.Timer{Active: true, DaysOfWeek: days}
	var err error
	if t.Start, err = parseHM(start); err != nil {
		return schedule.Timer{}, err
	}
	if t.Stop, err = parseHM(stop); err != nil {
		return schedule.Timer{}, err
	}
	if !t.Valid() {
		return schedule.Timer{}, errors.Errorf("timer %q days %#x out of range", window, days)
	}
	return t, nil
}

func parseHM(s string) (schedule.TimeHM, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return schedule.TimeHM{}, errors.Wrapf(err, "bad time of day %q", s)
	}
	return schedule.TimeHM{Hour: uint8(t.Hour()), Minute: uint8(t.Minute())}, nil
}
