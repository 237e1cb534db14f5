package config

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lawndon.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TickInterval != Default().TickInterval {
		t.Fatalf("tick interval = %v", cfg.TickInterval)
	}
	if _, err := ioutil.ReadFile(InUsePath(path)); err != nil {
		t.Fatalf("in-use config not written: %v", err)
	}
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lawndon.yaml")
	writeFile(t, path, `
behavior:
  rollPolicy: random
  reverseTime: 1500ms
motor:
  speedMaxPwm: 200
hardware:
  backend: can
  canInterface: vcan0
web:
  enabled: true
  addr: 127.0.0.1:5001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Behavior.RollPolicy != "random" || cfg.Behavior.ReverseTime != 1500*time.Millisecond {
		t.Fatalf("behavior not overlaid: %+v", cfg.Behavior)
	}
	if cfg.Motor.SpeedMaxPwm != 200 || cfg.Motor.SpeedMaxRpm != Default().Motor.SpeedMaxRpm {
		t.Fatalf("motor not overlaid onto defaults: %+v", cfg.Motor)
	}
	if cfg.Hardware.Backend != "can" || cfg.Hardware.CANInterface != "vcan0" {
		t.Fatalf("hardware not overlaid: %+v", cfg.Hardware)
	}
	if !cfg.Web.Enabled || cfg.Web.Addr != "127.0.0.1:5001" || cfg.Web.StatusInterval != Default().Web.StatusInterval {
		t.Fatalf("web not overlaid: %+v", cfg.Web)
	}

	// The in-use copy round-trips to the same settings.
	raw, err := ioutil.ReadFile(filepath.Join(dir, "lawndon-in-use.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var again Config
	if err := yaml.Unmarshal(raw, &again); err != nil {
		t.Fatal(err)
	}
	if again.Behavior.ReverseTime != cfg.Behavior.ReverseTime || again.Hardware.Backend != "can" {
		t.Fatalf("in-use copy differs: %+v", again)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "backend.yaml")
	writeFile(t, path, "hardware:\n  backend: telepathy\n")
	if _, err := Load(path); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}

	path = filepath.Join(dir, "roll.yaml")
	writeFile(t, path, "behavior:\n  rollTimeMin: 5s\n  rollTimeMax: 1s\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "roll") {
		t.Fatalf("expected roll time error, got %v", err)
	}

	path = filepath.Join(dir, "web.yaml")
	writeFile(t, path, "web:\n  enabled: true\n  addr: \"\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "web addr") {
		t.Fatalf("expected web addr error, got %v", err)
	}

	path = filepath.Join(dir, "typo.yaml")
	writeFile(t, path, "behaviour:\n  rollPolicy: random\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := ioutil.WriteFile(path, []byte(content), 0666); err != nil {
		t.Fatal(err)
	}
}
