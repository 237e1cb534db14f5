// Package locate finds the mower from UWB anchor ranges and steers it to the home beacon.
package locate

import (
	"math"
	"sort"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/uwb"
)

type Config struct {
	Anchors map[string]Point `yaml:"anchors"`
	Home    Point            `yaml:"home"`

	ReachedDistance float64       `yaml:"reachedDistance"`
	FindTimeout     time.Duration `yaml:"findTimeout"`
	SignalTimeout   time.Duration `yaml:"signalTimeout"`
	// Distance travelled before the heading estimate is refreshed.
	MinMove float64 `yaml:"minMove"`

	TrackPwm int       `yaml:"trackPwm"`
	PID      PIDConfig `yaml:"pid"`
}

func DefaultConfig() Config {
	return Config{
		Anchors: map[string]Point{
			"1786": {X: 0, Y: 0},
			"1783": {X: 18.4, Y: 0},
		},
		Home:            Point{X: 0.5, Y: 1},
		ReachedDistance: 0.5,
		FindTimeout:     30 * time.Second,
		SignalTimeout:   2 * time.Second,
		MinMove:         0.3,
		TrackPwm:        120,
		PID: PIDConfig{
			Kp:            2,
			Ki:            0.2,
			Kd:            0.05,
			IntegralLimit: 50,
			OutputLimit:   100,
		},
	}
}

func (c Config) Validate() error {
	if len(c.Anchors) < 2 {
		return errors.Errorf("locate needs at least 2 anchors, have %d", len(c.Anchors))
	}
	if c.SignalTimeout <= 0 || c.FindTimeout <= 0 {
		return errors.New("locate timeouts must be positive")
	}
	if c.ReachedDistance <= 0 {
		return errors.New("locate reachedDistance must be positive")
	}
	return nil
}

type RangeSource interface {
	Ranges() []uwb.Range
}

// Fix is one position estimate and the way home from it.
type Fix struct {
	Position Point
	At       time.Time

	// Heading is only known once the mower has moved MinMove since the last estimate.
	Heading     Heading
	HaveHeading bool

	Bearing  Heading
	Distance float64
}

type Tracker struct {
	cfg    Config
	src    RangeSource
	logger golog.Logger
	pid    *PID

	fix     Fix
	haveFix bool

	headingFrom     Point
	haveHeadingFrom bool
	heading         Heading
	haveHeading     bool

	lastSteer time.Time
}

func NewTracker(cfg Config, src RangeSource, logger golog.Logger) *Tracker {
	return &Tracker{
		cfg:    cfg,
		src:    src,
		logger: logger,
		pid:    NewPID(cfg.PID),
	}
}

func (t *Tracker) Config() Config {
	return t.cfg
}

// Reset forgets the heading and steering history, keeping the last fix.
func (t *Tracker) Reset() {
	t.pid.Reset()
	t.haveHeadingFrom = false
	t.haveHeading = false
	t.lastSteer = time.Time{}
}

// Update takes a fix from the ranges that are still fresh, if there are enough of them.
func (t *Tracker) Update(now time.Time) {
	var anchors []Point
	var ranges []float64
	var ids []string
	fresh := map[string]uwb.Range{}
	for _, r := range t.src.Ranges() {
		if _, known := t.cfg.Anchors[r.Anchor]; known && now.Sub(r.ReceivedAt) <= t.cfg.SignalTimeout {
			fresh[r.Anchor] = r
		}
	}
	for id := range fresh {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		anchors = append(anchors, t.cfg.Anchors[id])
		ranges = append(ranges, fresh[id].Distance)
	}
	if len(anchors) < 2 {
		return
	}

	pos, err := Trilaterate(anchors, ranges)
	if err != nil {
		t.logger.Debugw("no fix", "error", err)
		return
	}

	if !t.haveHeadingFrom {
		t.headingFrom, t.haveHeadingFrom = pos, true
	} else if moved := pos.Sub(t.headingFrom); math.Hypot(moved.X, moved.Y) >= t.cfg.MinMove {
		t.heading = moved.Direction()
		t.haveHeading = true
		t.headingFrom = pos
	}

	toHome := t.cfg.Home.Sub(pos)
	t.fix = Fix{
		Position:    pos,
		At:          now,
		Heading:     t.heading,
		HaveHeading: t.haveHeading,
		Bearing:     toHome.Direction(),
		Distance:    pos.Dist(t.cfg.Home),
	}
	t.haveFix = true
}

// Fix returns the latest fix if it is recent enough to steer by.
func (t *Tracker) Fix(now time.Time) (Fix, bool) {
	if !t.haveFix || now.Sub(t.fix.At) > t.cfg.SignalTimeout {
		return Fix{}, false
	}
	return t.fix, true
}

func (t *Tracker) Reached(f Fix) bool {
	return f.Distance <= t.cfg.ReachedDistance
}

// Steer returns wheel duties that turn the mower towards home.  Until a heading is known
// it drives straight to learn one.
func (t *Tracker) Steer(now time.Time, f Fix) (left, right int) {
	base := float64(t.cfg.TrackPwm)
	if !f.HaveHeading {
		return t.cfg.TrackPwm, t.cfg.TrackPwm
	}
	var dt float64
	if !t.lastSteer.IsZero() {
		dt = now.Sub(t.lastSteer).Seconds()
	}
	t.lastSteer = now

	headingError := f.Heading.TurnFrom(f.Bearing)
	correction := t.pid.Update(headingError, dt)
	// Positive error is a left turn.
	return int(math.Round(base - correction)), int(math.Round(base + correction))
}
