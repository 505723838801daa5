package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cartdump/bus"
	"cartdump/sim"
)

// openBoard builds the pin backend. The health func reports a backend
// failure after a session; the close func releases the pins.
func openBoard(name string) (board *bus.Board, health func() error, closeBoard func(), err error) {
	switch name {
	case "gpiochip":
		return openGPIOBoard()
	case "sim":
		cart, err := simCart(os.Getenv("CARTDUMP_ROM"))
		if err != nil {
			return nil, nil, nil, err
		}
		return sim.NewSlot(cart).Board(), func() error { return nil }, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown board %q; want gpiochip or sim", name)
}

// simCart loads an image file into the cartridge model its header
// describes. An empty path is an empty slot.
func simCart(path string) (sim.Cart, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("sim slot: %s (%d bytes)\n", path, len(b))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".nes":
		return nesCart(b)
	case ".sfc", ".smc":
		return snesCart(b), nil
	}
	return nil, fmt.Errorf("cannot tell a cartridge model from %q; want .nes, .sfc or .smc", path)
}

func nesCart(b []byte) (sim.Cart, error) {
	if len(b) < 16 || string(b[:4]) != "NES\x1A" {
		return nil, fmt.Errorf("not an iNES image")
	}
	prgLen := int(b[4]) << 14
	chrLen := int(b[5]) << 13
	if len(b) < 16+prgLen+chrLen {
		return nil, fmt.Errorf("iNES image truncated: %d bytes, header says %d", len(b), 16+prgLen+chrLen)
	}
	prg := b[16 : 16+prgLen]
	chr := b[16+prgLen : 16+prgLen+chrLen]

	mapper := b[6]>>4 | b[7]&0xF0
	switch mapper {
	case 0:
		return &sim.NROM{PRG: prg, CHR: chr}, nil
	case 1:
		return sim.NewMMC1(prg), nil
	case 4:
		return &sim.MMC3{PRG: prg, CHR: chr}, nil
	}
	return nil, fmt.Errorf("no cartridge model for mapper %d", mapper)
}

func snesCart(b []byte) sim.Cart {
	// strip a copier header if the size betrays one
	if len(b)%0x8000 == 512 {
		b = b[512:]
	}
	// mode byte: LoROM carries 0x20/0x30 at the LoROM header offset,
	// HiROM 0x21/0x31 at its own
	if len(b) > 0xFFD5 && b[0xFFD5]&0x21 == 0x21 {
		return &sim.HiROM{ROM: b}
	}
	return &sim.LoROM{ROM: b}
}
