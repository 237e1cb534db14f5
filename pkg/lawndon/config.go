package lawndon

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/remote"
)

const (
	RollAlternate = "alternate"
	RollRandom    = "random"
)

type Config struct {
	CruiseRpm  float64 `yaml:"cruiseRpm"`
	ReverseRpm float64 `yaml:"reverseRpm"`
	RollRpm    float64 `yaml:"rollRpm"`
	CircleRpm  float64 `yaml:"circleRpm"`
	// Inner wheel speed as a fraction of the outer one while circling.
	CircleInnerRatio float64 `yaml:"circleInnerRatio"`

	ForwardTimeMax time.Duration `yaml:"forwardTimeMax"`
	ReverseTime    time.Duration `yaml:"reverseTime"`
	RollTimeMin    time.Duration `yaml:"rollTimeMin"`
	RollTimeMax    time.Duration `yaml:"rollTimeMax"`
	CircleTime     time.Duration `yaml:"circleTime"`

	RollPolicy string `yaml:"rollPolicy"`
	RollSeed   int64  `yaml:"rollSeed"`

	MowPwm    int    `yaml:"mowPwm"`
	RemoteMix string `yaml:"remoteMix"`
}

func DefaultConfig() Config {
	return Config{
		CruiseRpm:        25,
		ReverseRpm:       20,
		RollRpm:          15,
		CircleRpm:        25,
		CircleInnerRatio: 0.4,
		ForwardTimeMax:   60 * time.Second,
		ReverseTime:      2 * time.Second,
		RollTimeMin:      time.Second,
		RollTimeMax:      3 * time.Second,
		CircleTime:       30 * time.Second,
		RollPolicy:       RollAlternate,
		RollSeed:         1,
		MowPwm:           200,
		RemoteMix:        "aggressive",
	}
}

func (c Config) Validate() error {
	switch {
	case c.CruiseRpm <= 0 || c.ReverseRpm <= 0 || c.RollRpm <= 0 || c.CircleRpm <= 0:
		return errors.New("behavior speeds must be positive")
	case c.CircleInnerRatio < 0 || c.CircleInnerRatio >= 1:
		return errors.Errorf("behavior circleInnerRatio %v outside [0, 1)", c.CircleInnerRatio)
	case c.ForwardTimeMax <= 0 || c.ReverseTime <= 0 || c.CircleTime <= 0:
		return errors.New("behavior manoeuvre times must be positive")
	case c.RollTimeMin <= 0:
		return errors.New("behavior rollTimeMin must be positive")
	case c.RollTimeMin > c.RollTimeMax:
		return errors.Errorf("behavior rollTimeMin %v exceeds rollTimeMax %v", c.RollTimeMin, c.RollTimeMax)
	case c.RollPolicy != RollAlternate && c.RollPolicy != RollRandom:
		return errors.Errorf("unknown behavior rollPolicy %q", c.RollPolicy)
	case c.MowPwm < 0:
		return errors.New("behavior mowPwm must not be negative")
	}
	_, err := remote.ByName(c.RemoteMix)
	return err
}
