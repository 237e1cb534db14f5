package joystick

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Button and pad mappings:
//
// Buttons
//
//    Square    = 3
//    Cross     = 0
//    Circle    = 1
//    Triangle  = 2
//    L1        = 4
//    R1        = 5
//    L2        = 6 (also an axis)
//    R2        = 7 (also an axis)
//    Share     = 8
//    Options   = 9
//    PS        = 10
//    L stick   = 11
//    R stick   = 12
//
// Axes
//
//    D-pad   u/d = 7 (up = -32767; down = +32767)
//            l/r = 6 (left = -32767; right = +32767)
//    L stick u/d = 1 (up = -32767; down = +32767)
//            l/r = 0 (left = -32767; right = +32767)
//    R stick u/d = 4 (up = -32767; down = +32767)
//            l/r = 3 (left = -32767; right = +32767)
//    L2          = 2 (unpressed = -32767; fully-pressed = 32767)
//    R2          = 5 (unpressed = -32767; fully-pressed = 32767)

type EventType uint8

const (
	EventTypeButton EventType = 1
	EventTypeAxis   EventType = 2
)

const (
	ButtonSquare   = 3
	ButtonCross    = 0
	ButtonCircle   = 1
	ButtonTriangle = 2
	ButtonL1       = 4
	ButtonR1       = 5
	ButtonL2       = 6
	ButtonR2       = 7
	ButtonShare    = 8
	ButtonOptions  = 9
	ButtonLStick   = 11
	ButtonRStick   = 12
	ButtonPS       = 10

	AxisLStickX = 0
	AxisLStickY = 1
	AxisL2      = 2
	AxisRStickX = 3
	AxisRStickY = 4
	AxisR2      = 5
	AxisDPadX   = 6
	AxisDPadY   = 7

	numButtons = 16
	numAxes    = 8
)

func (e EventType) String() string {
	switch e {
	case EventTypeAxis:
		return "axis"
	case EventTypeButton:
		return "button"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

type Joystick struct {
	device io.ReadCloser

	deviceEpoch    uint32
	wallclockEpoch time.Time
}

type rawEvent struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

type Event struct {
	Time   time.Time
	Value  int16
	Type   EventType
	Number uint8
}

func (e *Event) String() string {
	return fmt.Sprintf("%v(%v)=%v", e.Type, e.Number, e.Value)
}

func NewJoystick(device string) (*Joystick, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, errors.Wrapf(err, "open joystick %s", device)
	}
	return newJoystick(f), nil
}

func newJoystick(r io.ReadCloser) *Joystick {
	return &Joystick{device: r}
}

func (j *Joystick) ReadEvent() (*Event, error) {
	var rawEvent rawEvent
	err := binary.Read(j.device, binary.LittleEndian, &rawEvent)
	if err != nil {
		return nil, errors.Wrap(err, "read joystick event")
	}

	if j.deviceEpoch == 0 {
		j.deviceEpoch = rawEvent.Time
		j.wallclockEpoch = time.Now()
	}

	return &Event{
		Time:   j.wallclockEpoch.Add(time.Duration(rawEvent.Time-j.deviceEpoch) * time.Millisecond),
		Value:  rawEvent.Value,
		Type:   EventType(rawEvent.Type & 0x7f),
		Number: rawEvent.Number,
	}, nil
}

// ReadEvents forwards events until ctx is done or the device fails.  events is closed on
// return.
func (j *Joystick) ReadEvents(ctx context.Context, events chan<- *Event) error {
	defer close(events)
	for ctx.Err() == nil {
		event, err := j.ReadEvent()
		if err != nil {
			return err
		}
		select {
		case events <- event:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

func (j *Joystick) Close() error {
	return j.device.Close()
}

// State is the latest position of every axis and button.
type State struct {
	axes    [numAxes]int16
	buttons [numButtons]bool
}

// Apply records e and reports whether it was a button being pressed.
func (s *State) Apply(e *Event) (pressed bool) {
	switch e.Type {
	case EventTypeAxis:
		if int(e.Number) < numAxes {
			s.axes[e.Number] = e.Value
		}
	case EventTypeButton:
		if int(e.Number) < numButtons {
			down := e.Value != 0
			pressed = down && !s.buttons[e.Number]
			s.buttons[e.Number] = down
		}
	}
	return pressed
}

func (s *State) Axis(n uint8) int16 {
	if int(n) >= numAxes {
		return 0
	}
	return s.axes[n]
}

func (s *State) Button(n uint8) bool {
	return int(n) < numButtons && s.buttons[n]
}
