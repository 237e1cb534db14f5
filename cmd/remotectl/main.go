package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edaniels/golog"

	"github.com/lawndon/go-controller/pkg/joystick"
	"github.com/lawndon/go-controller/pkg/lora"
	"github.com/lawndon/go-controller/pkg/radio"
	"github.com/lawndon/go-controller/pkg/schedule"
)

const (
	commandInterval = 100 * time.Millisecond
	clockInterval   = 10 * time.Second
)

func main() {
	device := flag.String("lora", "/dev/ttyUSB0", "LoRa module serial port")
	baud := flag.Int("baud", lora.DefaultBaud, "LoRa module baud rate")
	mower := flag.Int("mower", 1, "LoRa address of the mower")
	mowPercent := flag.Uint("mow", radio.MaxMow, "blade speed percentage when R1 turns it on")
	window := flag.String("timer", "", "mowing window HH:MM-HH:MM; empty disables the timer")
	days := flag.Uint("days", uint(schedule.AllDays), "weekday bitmask for the mowing window, bit 0 = Sunday")
	flag.Parse()

	logger := golog.NewDevelopmentLogger("remotectl")

	timer, err := parseTimer(*window, uint8(*days))
	if err != nil {
		fmt.Println("Bad timer:", err)
		os.Exit(1)
	}
	if *mowPercent > radio.MaxMow {
		fmt.Println("Expected -mow <= ", radio.MaxMow)
		os.Exit(1)
	}

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hook Ctrl-C etc.
	registerSignalHandlers(cancel)

	radioLink := lora.New(lora.SerialDialer(*device, *baud), logger)
	radioLink.Start(ctx)
	defer radioLink.Stop()

	// Wait for the joystick and kick off a background thread to read from it.
	joystickEvents := initJoystick(ctx, cancel)
	ticker := time.NewTicker(commandInterval)
	defer ticker.Stop()
	clockTicker := time.NewTicker(clockInterval)
	defer clockTicker.Stop()

	send := func(frame []byte, err error) {
		if err == nil {
			err = radioLink.Send(*mower, frame)
		}
		if err != nil {
			logger.Debugw("send failed", "error", err)
		}
	}
	send(radio.EncodeTimer(timer))

	p := newPad(uint8(*mowPercent))
	for {
		select {
		case <-ctx.Done():
			return
		case je, ok := <-joystickEvents:
			if !ok {
				return
			}
			if p.apply(je) {
				fmt.Printf("Mode %v, mow %v\n", p.mode, p.mow)
			}
		case <-ticker.C:
			send(radio.EncodeCommand(p.command()))
		case now := <-clockTicker.C:
			send(radio.EncodeClock(schedule.FromTime(now)))
			send(radio.EncodeTimer(timer))
		case msg := <-radioLink.Messages():
			logger.Debugw("heard", "from", msg.From, "rssi", msg.RSSI)
		}
	}
}

func initJoystick(ctx context.Context, cancel context.CancelFunc) chan *joystick.Event {
	joystickEvents := make(chan *joystick.Event)
	firstLog := true
	for ctx.Err() == nil {
		jDev := os.Getenv("JOYSTICK_DEVICE")
		if jDev == "" {
			jDev = "/dev/input/js0"
		}
		j, err := joystick.NewJoystick(jDev)
		if err != nil {
			if firstLog {
				fmt.Printf("Waiting for joystick: %v.\n", err)
				firstLog = false
			}
			time.Sleep(1 * time.Second)
			continue
		}

		fmt.Printf("Opened joystick\n")
		go func() {
			defer cancel()
			defer j.Close()
			err := j.ReadEvents(ctx, joystickEvents)
			fmt.Printf("Joystick failed: %v\n", err)
		}()
		break
	}
	return joystickEvents
}

func registerSignalHandlers(cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		fmt.Println("Signal: ", s)
		cancelFunc()
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()
}
