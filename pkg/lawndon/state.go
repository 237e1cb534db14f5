package lawndon

import "fmt"

type State uint8

const (
	Off State = iota
	Remote
	Forward
	Reverse
	Roll
	Circle
	Error
	LocateFind
	LocateTrack

	numStates
)

var stateNames = [numStates]string{
	Off:         "off",
	Remote:      "remote",
	Forward:     "forward",
	Reverse:     "reverse",
	Roll:        "roll",
	Circle:      "circle",
	Error:       "error",
	LocateFind:  "locate-find",
	LocateTrack: "locate-track",
}

func (s State) Valid() bool {
	return s < numStates
}

func (s State) String() string {
	if s.Valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// Drive reports whether the state moves the robot under its own control.
func (s State) Drive() bool {
	switch s {
	case Forward, Reverse, Roll, Circle, LocateTrack:
		return true
	}
	return false
}

// Autonomous reports whether the state runs without the operator's sticks.
func (s State) Autonomous() bool {
	return s.Drive() || s == LocateFind
}

// RollDir is the way the mower pivots during a Roll.
type RollDir uint8

const (
	RollLeft RollDir = iota
	RollRight
)

func (d RollDir) String() string {
	if d == RollLeft {
		return "left"
	}
	return "right"
}
