//go:build linux

package main

import (
	"fmt"
	"os"

	"cartdump/bus"
	"cartdump/bus/gpiochip"
)

func openGPIOBoard() (*bus.Board, func() error, func(), error) {
	pins := os.Getenv("CARTDUMP_PINS")
	if pins == "" {
		return nil, nil, nil, fmt.Errorf("CARTDUMP_PINS is not set; the gpiochip backend needs a name=line map")
	}
	m, err := gpiochip.ParsePinMap(pins)
	if err != nil {
		return nil, nil, nil, err
	}

	dev := orElse(os.Getenv("CARTDUMP_GPIODEV"), "/dev/gpiochip0")
	chip, err := gpiochip.Open(dev, m)
	if err != nil {
		return nil, nil, nil, err
	}
	return bus.New(chip.Pins()), chip.Err, func() { chip.Close() }, nil
}
