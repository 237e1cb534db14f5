// Package config loads the controller settings: defaults in code, overlaid from a YAML
// file, with the effective settings written back next to it.
package config

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v2"

	"github.com/lawndon/go-controller/pkg/hardware"
	"github.com/lawndon/go-controller/pkg/lawndon"
	"github.com/lawndon/go-controller/pkg/locate"
	"github.com/lawndon/go-controller/pkg/motor"
	"github.com/lawndon/go-controller/pkg/power"
	"github.com/lawndon/go-controller/pkg/web"
)

const DefaultPath = "/cfg/lawndon.yaml"

var ErrUnknownBackend = hardware.ErrUnknownBackend

type LinkConfig struct {
	FreshTimeout time.Duration `yaml:"freshTimeout"`
	LoraDevice   string        `yaml:"loraDevice"`
	LoraBaud     int           `yaml:"loraBaud"`
	// Address of the remote's LoRa module.
	RemoteAddress int    `yaml:"remoteAddress"`
	UWBAddr       string `yaml:"uwbAddr"`
}

type LogConfig struct {
	Production bool `yaml:"production"`
	Debug      bool `yaml:"debug"`
}

type DisplayConfig struct {
	Screen      bool   `yaml:"screen"`
	Framebuffer string `yaml:"framebuffer"`
	Sound       bool   `yaml:"sound"`
	SoundDir    string `yaml:"soundDir"`
}

type Config struct {
	TickInterval time.Duration `yaml:"tickInterval"`

	Behavior lawndon.Config  `yaml:"behavior"`
	Motor    motor.Config    `yaml:"motor"`
	Link     LinkConfig      `yaml:"link"`
	Power    power.Config    `yaml:"power"`
	Locate   locate.Config   `yaml:"locate"`
	Hardware hardware.Config `yaml:"hardware"`
	Display  DisplayConfig   `yaml:"display"`
	Web      web.Config      `yaml:"web"`
	Log      LogConfig       `yaml:"log"`
}

func Default() Config {
	return Config{
		TickInterval: 20 * time.Millisecond,
		Behavior:     lawndon.DefaultConfig(),
		Motor:        motor.DefaultConfig(),
		Link: LinkConfig{
			FreshTimeout:  time.Second,
			LoraDevice:    "/dev/ttyS0",
			LoraBaud:      115200,
			RemoteAddress: 2,
			UWBAddr:       ":8080",
		},
		Power:    power.DefaultConfig(),
		Locate:   locate.DefaultConfig(),
		Hardware: hardware.DefaultConfig(),
		Display: DisplayConfig{
			Framebuffer: "/dev/fb1",
			SoundDir:    "/sounds",
		},
		Web: web.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	var err error
	if c.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("tickInterval must be positive"))
	}
	if c.Link.FreshTimeout <= 0 {
		err = multierr.Append(err, errors.New("link freshTimeout must be positive"))
	}
	for _, v := range []interface{ Validate() error }{
		c.Behavior, c.Motor, c.Power, c.Locate, c.Hardware, c.Web,
	} {
		err = multierr.Append(err, v.Validate())
	}
	return err
}

// InUsePath is where the effective settings for path are written.
func InUsePath(path string) string {
	return strings.TrimSuffix(path, ".yaml") + "-in-use.yaml"
}

// Load returns the defaults overlaid with path, if it exists, and writes the result to
// InUsePath(path).  A missing file is not an error; a malformed or invalid one is.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, errors.Wrapf(err, "read config %s", path)
	default:
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return cfg, errors.Wrap(err, "marshal config")
	}
	if err := ioutil.WriteFile(InUsePath(path), out, 0666); err != nil {
		return cfg, errors.Wrapf(err, "write %s", InUsePath(path))
	}
	return cfg, nil
}
