//go:build !linux

package main

import (
	"fmt"

	"cartdump/bus"
)

func openGPIOBoard() (*bus.Board, func() error, func(), error) {
	return nil, nil, nil, fmt.Errorf("the gpiochip backend needs linux; set CARTDUMP_BOARD=sim")
}
