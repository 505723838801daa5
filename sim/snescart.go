package sim

import (
	"github.com/alttpo/snes/mapping/lorom"
)

// LoROM serves a .sfc image through the standard LoROM bus layout.
// Reads outside the read posture, or at bus addresses the layout does
// not map, see open bus.
type LoROM struct {
	ROM []byte
}

func (c *LoROM) Edge(*Slot, Event) {}

func (c *LoROM) ReadData(*Slot) (byte, bool) { return 0, false }

func (c *LoROM) ReadSNES(s *Slot) (byte, bool) {
	if !s.SNESReadPosture() || len(c.ROM) == 0 {
		return 0, false
	}
	busAddr := uint32(s.SNESBank())<<16 | uint32(s.SNESAddr())
	off, err := lorom.BusAddressToPak(busAddr)
	if err != nil {
		return 0, false
	}
	return c.ROM[int(off)%len(c.ROM)], true
}

// HiROM serves a .sfc image through the HiROM bus layout: the bank's
// low six bits select a linear 64KB page of the image.
type HiROM struct {
	ROM []byte
}

func (c *HiROM) Edge(*Slot, Event) {}

func (c *HiROM) ReadData(*Slot) (byte, bool) { return 0, false }

func (c *HiROM) ReadSNES(s *Slot) (byte, bool) {
	if !s.SNESReadPosture() || len(c.ROM) == 0 {
		return 0, false
	}
	off := uint32(s.SNESBank()&0x3F)<<16 | uint32(s.SNESAddr())
	return c.ROM[int(off)%len(c.ROM)], true
}
