package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lawndon/go-controller/pkg/esc"
	"github.com/lawndon/go-controller/pkg/pca9685"
)

func main() {
	device := flag.String("i2c", "/dev/i2c-1", "I2C bus the PCA9685 is on")
	addr := flag.Int("addr", pca9685.DefaultAddr, "PCA9685 address")
	flag.Parse()

	pwmController, err := pca9685.New(*device, *addr)
	if err != nil {
		fmt.Println("Failed to open PCA9685", err)
		return
	}
	defer pwmController.Close()

	err = pwmController.Configure()
	if err != nil {
		fmt.Println("Failed to configure PCA9685", err)
		return
	}

	fmt.Println(
		`Commands:
    c <n>            # Calibrate throttle range; power the ESC up straight after
    a <n>            # Arm
    d <n> <speed>    # Drive once armed
    x <n>            # Disarm
    p <n> <micros>   # Raw pulse width
    q                # Quit

<n>       Port number 0-15
<speed>   -500..500; |speed| < 100 is idle
<micros>  Pulse high time in microseconds, 1000-2000`)

	lines := make(chan string)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				fmt.Println("\nFailed to read stdin: ", err)
				return
			}
			lines <- line
		}
	}()

	escs := map[int]*esc.ESC{}
	phases := map[int]esc.Phase{}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	fmt.Print("> ")
	for {
		select {
		case now := <-ticker.C:
			for n, e := range escs {
				if err := e.Update(now); err != nil {
					fmt.Println("Failed to write to PCA9685: ", err)
					return
				}
				if p := e.Phase(); p != phases[n] {
					fmt.Printf("\nESC %d: %v\n> ", n, p)
					phases[n] = p
				}
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(strings.Fields(line), pwmController, escs); quit {
				return
			}
			fmt.Print("> ")
		}
	}
}

func handle(parts []string, pwmController pca9685.Interface, escs map[int]*esc.ESC) (quit bool) {
	if len(parts) == 0 {
		return false
	}
	if parts[0] == "q" {
		return true
	}
	if len(parts) < 2 {
		fmt.Println("Not enough parameters")
		return false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		fmt.Println("Expected int, not ", parts[1])
		return false
	}
	if n < 0 || n >= pca9685.NumPorts {
		fmt.Println("Expected 0 <= n < 16")
		return false
	}
	e := escs[n]
	if e == nil {
		e = esc.New(pwmController, n)
		escs[n] = e
	}

	now := time.Now()
	switch parts[0] {
	case "c":
		fmt.Printf("Calibrating ESC %d\n", n)
		err = e.Calibrate(now)
	case "a":
		fmt.Printf("Arming ESC %d\n", n)
		err = e.Arm(now)
	case "x":
		fmt.Printf("Disarming ESC %d\n", n)
		err = e.Disarm(now)
	case "d", "p":
		if len(parts) < 3 {
			fmt.Println("Not enough parameters")
			return false
		}
		v, convErr := strconv.Atoi(parts[2])
		if convErr != nil {
			fmt.Println("Expected int, not ", parts[2])
			return false
		}
		if parts[0] == "d" {
			fmt.Printf("Driving ESC %d at %d (%v)\n", n, v, esc.SpeedPulse(v))
			err = e.Drive(v)
		} else {
			fmt.Printf("Setting port %d pulse to %dus\n", n, v)
			err = pwmController.SetPulse(n, time.Duration(v)*time.Microsecond)
		}
	default:
		fmt.Println("Unknown command", parts[0])
		return false
	}
	if err != nil {
		fmt.Println("Failed: ", err)
	}
	return false
}
