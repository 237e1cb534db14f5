package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/lawndon/go-controller/pkg/config"
	"github.com/lawndon/go-controller/pkg/hardware"
	"github.com/lawndon/go-controller/pkg/lawndon"
	"github.com/lawndon/go-controller/pkg/link"
	"github.com/lawndon/go-controller/pkg/locate"
	"github.com/lawndon/go-controller/pkg/lora"
	"github.com/lawndon/go-controller/pkg/motor"
	"github.com/lawndon/go-controller/pkg/power"
	"github.com/lawndon/go-controller/pkg/screen"
	"github.com/lawndon/go-controller/pkg/sound"
	"github.com/lawndon/go-controller/pkg/tacho"
	"github.com/lawndon/go-controller/pkg/uwb"
	"github.com/lawndon/go-controller/pkg/web"
)

// Only every Nth consecutive tick failure is logged.
const tickErrorLogEvery = 50

func main() {
	configPath := flag.String("config", config.DefaultPath, "controller settings")
	flag.Parse()

	fmt.Print("---- Lawndon ----\n\n")
	fmt.Println("GOMAXPROCS", runtime.GOMAXPROCS(0))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registerSignalHandlers(cancel, logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorw("controller failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) golog.Logger {
	switch {
	case cfg.Debug:
		return golog.NewDebugLogger("lawndon")
	case cfg.Production:
		return golog.NewLogger("lawndon")
	}
	return golog.NewDevelopmentLogger("lawndon")
}

func run(ctx context.Context, cfg config.Config, logger golog.Logger) (err error) {
	mowPulses := new(tacho.Counter)
	hw, err := hardware.Open(cfg.Hardware, cfg.Motor.SpeedMaxPwm, mowPulses, logger)
	if err != nil {
		return err
	}
	if err := hw.Start(ctx); err != nil {
		return multierr.Append(err, hw.Close())
	}
	defer func() {
		logger.Infow("zeroing motors")
		err = multierr.Append(err, hw.Close())
	}()
	m := motor.New(cfg.Motor, hw, logger)
	m.UseMowCounter(mowPulses)

	radio := lora.New(lora.SerialDialer(cfg.Link.LoraDevice, cfg.Link.LoraBaud), logger)
	radio.Start(ctx)
	defer radio.Stop()

	var dash *web.Server
	if cfg.Web.Enabled {
		dash = web.New(cfg.Web, cfg.Locate, logger)
		if err := dash.Start(ctx); err != nil {
			logger.Warnw("dashboard unavailable", "error", err)
			dash = nil
		} else {
			defer dash.Stop()
		}
	}

	ranges := uwb.New(logger)
	if dash != nil {
		ranges.OnReport(dash.PublishRanges)
	}
	var locator lawndon.Locator
	if err := ranges.Start(ctx, cfg.Link.UWBAddr); err != nil {
		logger.Warnw("uwb listener unavailable, locate disabled", "error", err)
	} else {
		defer ranges.Stop()
		locator = locate.NewTracker(cfg.Locate, ranges, logger)
	}

	monitor := link.New(cfg.Link.FreshTimeout, logger)
	ctrl, err := lawndon.New(cfg.Behavior, lawndon.Deps{
		Motor:     m,
		Link:      monitor,
		Power:     power.New(cfg.Power, logger),
		Emergency: hw,
		Sensors:   hw,
		Actuators: hw,
		Locator:   locator,
	}, logger)
	if err != nil {
		return err
	}

	var display *screen.Screen
	if cfg.Display.Screen {
		display = screen.New(cfg.Display.Framebuffer, logger)
		go func() {
			if err := display.Loop(ctx); err != nil {
				logger.Warnw("screen stopped", "error", err)
			}
		}()
	}
	if cfg.Display.Sound {
		annunciator := sound.New(cfg.Display.SoundDir, logger)
		ctrl.AddObserver(annunciator)
		go annunciator.Loop(ctx)
	}

	if err := ctrl.Setup(time.Now()); err != nil {
		return err
	}
	logger.Infow("controller running", "tick", cfg.TickInterval, "backend", cfg.Hardware.Backend)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	var failures int
	for {
		select {
		case <-ctx.Done():
			logger.Infow("context done, shutting down")
			return nil
		case now := <-ticker.C:
			drain(radio.Messages(), cfg.Link.RemoteAddress, monitor, logger)
			if err := ctrl.Tick(now); err != nil {
				failures++
				if failures%tickErrorLogEvery == 1 {
					logger.Errorw("tick failed", "error", err, "failures", failures)
				}
			} else {
				failures = 0
			}
			if display != nil {
				display.Update(ctrl.Status())
			}
			if dash != nil {
				dash.PublishStatus(now, ctrl.Status())
				if locator != nil {
					if f, ok := locator.Fix(now); ok {
						dash.PublishFix(f)
					}
				}
			}
		}
	}
}

// drain hands every queued radio message from the paired remote to the link monitor.
func drain(messages <-chan link.Message, remote int, monitor *link.Monitor, logger golog.Logger) {
	for {
		select {
		case msg := <-messages:
			if msg.From != remote {
				logger.Debugw("ignoring frame from another sender", "from", msg.From)
				continue
			}
			monitor.Receive(msg)
		default:
			return
		}
	}
}

func registerSignalHandlers(cancel context.CancelFunc, logger golog.Logger) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		logger.Infow("signal", "signal", s)
		cancel()
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()
}
