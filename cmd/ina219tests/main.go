package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/lawndon/go-controller/pkg/hardware"
	"github.com/lawndon/go-controller/pkg/ina219"
)

func main() {
	defaults := hardware.DefaultConfig()
	device := flag.String("i2c", defaults.I2CDevice, "I2C bus the monitors are on")
	flag.Parse()

	battery, err := ina219.NewI2C(*device, ina219.AddrBattery)
	if err != nil {
		fmt.Println("Failed to open battery monitor", err)
		return
	}
	defer battery.Close()
	charge, err := ina219.NewI2C(*device, ina219.AddrCharge)
	if err != nil {
		fmt.Println("Failed to open charge monitor", err)
		return
	}
	defer charge.Close()

	err = battery.Configure(defaults.BatteryShuntOhms, defaults.BatteryMaxCurrent)
	if err != nil {
		fmt.Println("Failed to configure battery monitor", err)
		return
	}
	err = charge.Configure(defaults.ChargeShuntOhms, defaults.ChargeMaxCurrent)
	if err != nil {
		fmt.Println("Failed to configure charge monitor", err)
		return
	}

	for range time.NewTicker(500 * time.Millisecond).C {
		printMonitor("Battery", battery)
		printMonitor("Charge", charge)
	}
}

func printMonitor(name string, m ina219.Interface) {
	voltage, err := m.ReadBusVoltage()
	fmt.Printf("%s: %.2fV %v ", name, voltage, err)
	current, err := m.ReadCurrent()
	fmt.Printf("%s: %.3fA %v ", name, current, err)
	power, err := m.ReadPower()
	fmt.Printf("%s: %.3fW %v\n", name, power, err)
}
