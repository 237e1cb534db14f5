// Package radio encodes and decodes the 8-byte payloads exchanged with the remote over LoRa.
//
// Every frame carries a 4-bit frame type in bits 0-3 and a checksum in byte 7 that makes
// the byte sum of the frame zero.  Fields are little-endian bit fields.
package radio

import (
	"fmt"

	"github.com/pkg/errors"
	"go.einride.tech/can"

	"github.com/lawndon/go-controller/pkg/schedule"
)

const FrameLen = 8

var (
	ErrLength    = errors.New("radio: bad frame length")
	ErrChecksum  = errors.New("radio: checksum mismatch")
	ErrFrameType = errors.New("radio: unknown frame type")
	ErrRange     = errors.New("radio: field out of range")
)

type FrameType uint8

const (
	FrameCommand FrameType = 1
	FrameClock   FrameType = 2
	FrameTimer   FrameType = 3
)

func (f FrameType) String() string {
	switch f {
	case FrameCommand:
		return "command"
	case FrameClock:
		return "clock"
	case FrameTimer:
		return "timer"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// Mode is the operator's mode selection.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeRemote
	ModeAuto
	ModeCircle
	ModeLocate

	numModes
)

var modeNames = map[Mode]string{
	ModeOff:    "off",
	ModeRemote: "remote",
	ModeAuto:   "auto",
	ModeCircle: "circle",
	ModeLocate: "locate",
}

func (m Mode) Valid() bool {
	return m < numModes
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(m))
}

const (
	MaxStick = 100
	MaxMow   = 100
)

// Command is the operator's steering and mode request.  Throttle and Steer are
// percentages in [-MaxStick, MaxStick], Mow is a percentage in [0, MaxMow].
type Command struct {
	Mode     Mode
	Throttle int8
	Steer    int8
	Mow      uint8
	Sequence uint8
}

func (c Command) validate() error {
	if !c.Mode.Valid() {
		return errors.Wrapf(ErrRange, "mode %d", c.Mode)
	}
	if c.Throttle < -MaxStick || c.Throttle > MaxStick {
		return errors.Wrapf(ErrRange, "throttle %d", c.Throttle)
	}
	if c.Steer < -MaxStick || c.Steer > MaxStick {
		return errors.Wrapf(ErrRange, "steer %d", c.Steer)
	}
	if c.Mow > MaxMow {
		return errors.Wrapf(ErrRange, "mow %d", c.Mow)
	}
	return nil
}

// Payload is a decoded frame; only the member selected by Type is meaningful.
type Payload struct {
	Type    FrameType
	Command Command
	Clock   schedule.Datetime
	Timer   schedule.Timer
}

const yearBase = 2000

// Bit layout.
const (
	typeStart, typeLen = 0, 4

	cmdModeStart, cmdModeLen   = 4, 4
	cmdThrottleStart, cmdByte  = 8, 8
	cmdSteerStart              = 16
	cmdMowStart                = 24
	cmdSeqStart                = 32
	clkHourStart, clkHourLen   = 4, 5
	clkMinStart, clkMinLen     = 9, 6
	clkDowStart, clkDowLen     = 15, 3
	clkDayStart, clkDayLen     = 18, 5
	clkMonthStart, clkMonthLen = 23, 4
	clkYearStart, clkYearLen   = 27, 7
	tmrActiveBit               = 4
	tmrStartHourStart          = 5
	tmrStartMinStart           = 10
	tmrStopHourStart           = 16
	tmrStopMinStart            = 21
	tmrDaysStart, tmrDaysLen   = 27, 7
	checksumIndex              = 7
)

// Decode validates the frame checksum, type and field ranges.  A frame that fails any
// check returns an error wrapping ErrLength, ErrChecksum, ErrFrameType or ErrRange.
func Decode(raw []byte) (Payload, error) {
	if len(raw) != FrameLen {
		return Payload{}, errors.Wrapf(ErrLength, "got %d bytes", len(raw))
	}
	if sum(raw) != 0 {
		return Payload{}, ErrChecksum
	}
	var d can.Data
	copy(d[:], raw)

	p := Payload{Type: FrameType(d.UnsignedBitsLittleEndian(typeStart, typeLen))}
	switch p.Type {
	case FrameCommand:
		p.Command = Command{
			Mode:     Mode(d.UnsignedBitsLittleEndian(cmdModeStart, cmdModeLen)),
			Throttle: int8(d.SignedBitsLittleEndian(cmdThrottleStart, cmdByte)),
			Steer:    int8(d.SignedBitsLittleEndian(cmdSteerStart, cmdByte)),
			Mow:      uint8(d.UnsignedBitsLittleEndian(cmdMowStart, cmdByte)),
			Sequence: uint8(d.UnsignedBitsLittleEndian(cmdSeqStart, cmdByte)),
		}
		if err := p.Command.validate(); err != nil {
			return Payload{}, err
		}
	case FrameClock:
		p.Clock = schedule.Datetime{
			Time: schedule.TimeHM{
				Hour:   uint8(d.UnsignedBitsLittleEndian(clkHourStart, clkHourLen)),
				Minute: uint8(d.UnsignedBitsLittleEndian(clkMinStart, clkMinLen)),
			},
			Date: schedule.Date{
				DayOfWeek: uint8(d.UnsignedBitsLittleEndian(clkDowStart, clkDowLen)),
				Day:       uint8(d.UnsignedBitsLittleEndian(clkDayStart, clkDayLen)),
				Month:     uint8(d.UnsignedBitsLittleEndian(clkMonthStart, clkMonthLen)),
				Year:      yearBase + uint16(d.UnsignedBitsLittleEndian(clkYearStart, clkYearLen)),
			},
		}
		if !p.Clock.Valid() {
			return Payload{}, errors.Wrapf(ErrRange, "clock %+v", p.Clock)
		}
	case FrameTimer:
		p.Timer = schedule.Timer{
			Active: d.Bit(tmrActiveBit),
			Start: schedule.TimeHM{
				Hour:   uint8(d.UnsignedBitsLittleEndian(tmrStartHourStart, clkHourLen)),
				Minute: uint8(d.UnsignedBitsLittleEndian(tmrStartMinStart, clkMinLen)),
			},
			Stop: schedule.TimeHM{
				Hour:   uint8(d.UnsignedBitsLittleEndian(tmrStopHourStart, clkHourLen)),
				Minute: uint8(d.UnsignedBitsLittleEndian(tmrStopMinStart, clkMinLen)),
			},
			DaysOfWeek: uint8(d.UnsignedBitsLittleEndian(tmrDaysStart, tmrDaysLen)),
		}
		if !p.Timer.Valid() {
			return Payload{}, errors.Wrapf(ErrRange, "timer %+v", p.Timer)
		}
	default:
		return Payload{}, errors.Wrapf(ErrFrameType, "type %d", p.Type)
	}
	return p, nil
}

func EncodeCommand(c Command) ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	var d can.Data
	d.SetUnsignedBitsLittleEndian(typeStart, typeLen, uint64(FrameCommand))
	d.SetUnsignedBitsLittleEndian(cmdModeStart, cmdModeLen, uint64(c.Mode))
	d.SetSignedBitsLittleEndian(cmdThrottleStart, cmdByte, int64(c.Throttle))
	d.SetSignedBitsLittleEndian(cmdSteerStart, cmdByte, int64(c.Steer))
	d.SetUnsignedBitsLittleEndian(cmdMowStart, cmdByte, uint64(c.Mow))
	d.SetUnsignedBitsLittleEndian(cmdSeqStart, cmdByte, uint64(c.Sequence))
	return seal(d), nil
}

func EncodeClock(dt schedule.Datetime) ([]byte, error) {
	if !dt.Valid() || dt.Date.Year < yearBase || dt.Date.Year >= yearBase+1<<clkYearLen {
		return nil, errors.Wrapf(ErrRange, "clock %+v", dt)
	}
	var d can.Data
	d.SetUnsignedBitsLittleEndian(typeStart, typeLen, uint64(FrameClock))
	d.SetUnsignedBitsLittleEndian(clkHourStart, clkHourLen, uint64(dt.Time.Hour))
	d.SetUnsignedBitsLittleEndian(clkMinStart, clkMinLen, uint64(dt.Time.Minute))
	d.SetUnsignedBitsLittleEndian(clkDowStart, clkDowLen, uint64(dt.Date.DayOfWeek))
	d.SetUnsignedBitsLittleEndian(clkDayStart, clkDayLen, uint64(dt.Date.Day))
	d.SetUnsignedBitsLittleEndian(clkMonthStart, clkMonthLen, uint64(dt.Date.Month))
	d.SetUnsignedBitsLittleEndian(clkYearStart, clkYearLen, uint64(dt.Date.Year-yearBase))
	return seal(d), nil
}

func EncodeTimer(t schedule.Timer) ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrRange, "timer %+v", t)
	}
	var d can.Data
	d.SetUnsignedBitsLittleEndian(typeStart, typeLen, uint64(FrameTimer))
	d.SetBit(tmrActiveBit, t.Active)
	d.SetUnsignedBitsLittleEndian(tmrStartHourStart, clkHourLen, uint64(t.Start.Hour))
	d.SetUnsignedBitsLittleEndian(tmrStartMinStart, clkMinLen, uint64(t.Start.Minute))
	d.SetUnsignedBitsLittleEndian(tmrStopHourStart, clkHourLen, uint64(t.Stop.Hour))
	d.SetUnsignedBitsLittleEndian(tmrStopMinStart, clkMinLen, uint64(t.Stop.Minute))
	d.SetUnsignedBitsLittleEndian(tmrDaysStart, tmrDaysLen, uint64(t.DaysOfWeek))
	return seal(d), nil
}

func seal(d can.Data) []byte {
	out := make([]byte, FrameLen)
	copy(out, d[:])
	out[checksumIndex] = 0
	out[checksumIndex] = -sum(out)
	return out
}

func sum(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}
