package link

import (
	"time"

	"github.com/edaniels/golog"

	"github.com/lawndon/go-controller/pkg/faults"
	"github.com/lawndon/go-controller/pkg/radio"
	"github.com/lawndon/go-controller/pkg/schedule"
)

// Monitor tracks the health of the remote-control radio link.  It is fed one Receive per
// radio message and polled once per control tick; it is not safe for concurrent use.
type Monitor struct {
	FreshTimeout time.Duration

	logger golog.Logger

	established  bool
	lastReceived time.Time
	lastValid    bool
	lastErr      error
	rssi         int

	command     radio.Command
	haveCommand bool
	commandAt   time.Time
	clock       schedule.Datetime
	haveClock   bool
	timer       schedule.Timer
}

func New(freshTimeout time.Duration, logger golog.Logger) *Monitor {
	return &Monitor{
		FreshTimeout: freshTimeout,
		logger:       logger,
	}
}

// Message is one frame as delivered by the radio transport.
type Message struct {
	From       int
	ReceivedAt time.Time
	Payload    []byte
	RSSI       int
}

// Receive records a message that arrived at the given time.  Freshness counts any
// arrival, valid or not; the decoded content is only kept if it validates.
func (m *Monitor) Receive(msg Message) {
	m.established = true
	m.lastReceived = msg.ReceivedAt
	m.rssi = msg.RSSI

	p, err := radio.Decode(msg.Payload)
	if err != nil {
		if m.lastValid {
			m.logger.Warnw("invalid radio frame", "error", err)
		}
		m.lastValid = false
		m.lastErr = err
		return
	}
	m.lastValid = true
	m.lastErr = nil

	switch p.Type {
	case radio.FrameCommand:
		m.command = p.Command
		m.haveCommand = true
		m.commandAt = msg.ReceivedAt
	case radio.FrameClock:
		m.clock = p.Clock
		m.haveClock = true
	case radio.FrameTimer:
		m.timer = p.Timer
	}
}

// IsFresh reports whether a message has arrived within FreshTimeout of now.
func (m *Monitor) IsFresh(now time.Time) bool {
	return m.established && now.Sub(m.lastReceived) < m.FreshTimeout
}

// IsValid reports whether the most recent message passed the checksum and range checks.
func (m *Monitor) IsValid() bool {
	return m.established && m.lastValid
}

// Established reports whether any message has been received since boot.
func (m *Monitor) Established() bool {
	return m.established
}

// Update refreshes the link fault flags.  A link that has never carried a message is
// not considered lost.
func (m *Monitor) Update(now time.Time, errs *faults.Set) {
	lost := m.established && !m.IsFresh(now)
	if lost && !errs.IsSet(faults.LoraComm) {
		m.logger.Warnw("radio link lost", "since", now.Sub(m.lastReceived))
	} else if !lost && errs.IsSet(faults.LoraComm) {
		m.logger.Infow("radio link restored")
	}
	errs.Assign(faults.LoraComm, lost)
	errs.Assign(faults.LoraData, m.established && !m.lastValid)
}

// Command returns the latest valid operator command if it is fresh.
func (m *Monitor) Command(now time.Time) (radio.Command, bool) {
	if !m.haveCommand || !m.IsFresh(now) || !m.IsValid() {
		return radio.Command{}, false
	}
	if now.Sub(m.commandAt) >= m.FreshTimeout {
		return radio.Command{}, false
	}
	return m.command, true
}

// Clock returns the most recent date and time sent by the remote.
func (m *Monitor) Clock() (schedule.Datetime, bool) {
	return m.clock, m.haveClock
}

// Timer returns the most recent mowing timer; the zero Timer (inactive) until one arrives.
func (m *Monitor) Timer() schedule.Timer {
	return m.timer
}

// ScheduleAllows reports whether the remote's timer permits autonomous mowing at the
// remote's last reported time.  Without a clock only an inactive timer allows.
func (m *Monitor) ScheduleAllows() bool {
	if !m.timer.Active {
		return true
	}
	if !m.haveClock {
		return false
	}
	return m.timer.Allows(m.clock)
}

func (m *Monitor) RSSI() int {
	return m.rssi
}

func (m *Monitor) LastError() error {
	return m.lastErr
}
