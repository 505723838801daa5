// Package sim provides simulated cartridge slots for exercising dump
// sequences without hardware. A Slot implements the pin interfaces of
// package bus, records every line level the board drives, and routes
// data-line reads to a cartridge model that answers combinationally
// from the current net state.
package sim

import (
	"time"

	"cartdump/bus"
)

// Event is a slot transition a cartridge model may care about. Only
// the edges the mapper models latch on are reported.
type Event int

const (
	EventROMSELRise Event = iota
	EventROMSELFall
	EventM2Rise
	EventM2Fall
	// EventWait fires when the board pauses between transitions.
	// Models use it to detect edges that were not back to back.
	EventWait
)

// Cart is a cartridge model plugged into a Slot.
type Cart interface {
	// Edge is called on the slot transitions listed above, after the
	// slot state has been updated.
	Edge(s *Slot, e Event)
	// ReadData returns the byte the cartridge drives on the NES data
	// lines, or ok=false for open bus.
	ReadData(s *Slot) (v byte, ok bool)
	// ReadSNES returns the byte the cartridge drives on the spliced
	// SNES data lines, or ok=false for open bus.
	ReadSNES(s *Slot) (v byte, ok bool)
}

type line int

const (
	lineM2 line = iota
	lineROMSEL
	lineCHRWR
	lineCHRRD
	linePRGRW
	lineCIRAMCE
	lineIRQ
	lineA15
	lineReset
	lineCS
	lineWR
	lineRD
	lineRefresh
	lineExpand
	lineIRQSNES
	lineCIRAMA10

	lineAddr0     // 16 consecutive address lines
	lineData0     = lineAddr0 + 16
	lineDataSNES0 = lineData0 + 8
	lineCount     = lineDataSNES0 + 7
)

// Slot is one simulated cartridge slot. It is not safe for concurrent
// use; like the board it serves, exactly one goroutine drives it.
type Slot struct {
	cart Cart

	level  [lineCount]bool
	output [lineCount]bool
	pull   [lineCount]bus.Pull

	// Waits counts board pauses, one per Wait call.
	Waits int
}

// NewSlot returns a slot with the given cartridge inserted. A nil cart
// is an empty slot; every read sees open bus.
func NewSlot(cart Cart) *Slot {
	return &Slot{cart: cart}
}

// Pins exposes the slot as a set of board pins.
func (s *Slot) Pins() bus.Pins {
	p := bus.Pins{
		M2:       slotPin{s, lineM2},
		ROMSEL:   slotPin{s, lineROMSEL},
		CHRWR:    slotPin{s, lineCHRWR},
		CHRRD:    slotPin{s, lineCHRRD},
		PRGRW:    slotPin{s, linePRGRW},
		CIRAMCE:  slotFlex{slotPin{s, lineCIRAMCE}},
		IRQ:      slotFlex{slotPin{s, lineIRQ}},
		CIRAMA10: slotFlex{slotPin{s, lineCIRAMA10}},
		A15:      slotPin{s, lineA15},
		Reset:    slotPin{s, lineReset},
		CS:       slotPin{s, lineCS},
		WR:       slotPin{s, lineWR},
		RD:       slotPin{s, lineRD},
		Refresh:  slotPin{s, lineRefresh},
		Expand:   slotFlex{slotPin{s, lineExpand}},
		IRQSNES:  slotFlex{slotPin{s, lineIRQSNES}},
	}
	for i := 0; i < 16; i++ {
		p.Addr[i] = slotPin{s, lineAddr0 + line(i)}
	}
	for i := 0; i < 8; i++ {
		p.Data[i] = slotFlex{slotPin{s, lineData0 + line(i)}}
	}
	for i := 0; i < 7; i++ {
		p.DataSNES[i] = slotFlex{slotPin{s, lineDataSNES0 + line(i)}}
	}
	return p
}

// Board wires the slot into a bus.Board whose waits advance the
// simulation instead of spinning.
func (s *Slot) Board() *bus.Board {
	b := bus.New(s.Pins())
	b.Wait = s.Wait
	return b
}

// Wait stands in for the board's busy-wait.
func (s *Slot) Wait(time.Duration) {
	s.Waits++
	if s.cart != nil {
		s.cart.Edge(s, EventWait)
	}
}

func (s *Slot) set(l line, high bool) {
	old := s.level[l]
	s.level[l] = high
	if old == high || s.cart == nil {
		return
	}
	switch l {
	case lineROMSEL:
		if high {
			s.cart.Edge(s, EventROMSELRise)
		} else {
			s.cart.Edge(s, EventROMSELFall)
		}
	case lineM2:
		if high {
			s.cart.Edge(s, EventM2Rise)
		} else {
			s.cart.Edge(s, EventM2Fall)
		}
	}
}

func (s *Slot) get(l line) bool {
	switch {
	case l >= lineData0 && l < lineData0+8:
		if v, ok := s.readData(); ok {
			return v&(1<<(l-lineData0)) != 0
		}
	case l >= lineDataSNES0 && l < lineDataSNES0+7:
		// inverse of the board's data splice: the first two lines
		// carry bits 0-1, the rest carry bits 3-7
		if v, ok := s.readSNES(); ok {
			bit := int(l - lineDataSNES0)
			if bit >= 2 {
				bit++
			}
			return v&(1<<bit) != 0
		}
	case l == lineCIRAMA10:
		if v, ok := s.readSNES(); ok {
			return v&(1<<2) != 0
		}
	}
	return s.pull[l] == bus.PullUp
}

func (s *Slot) readData() (byte, bool) {
	if s.cart == nil {
		return 0, false
	}
	return s.cart.ReadData(s)
}

func (s *Slot) readSNES() (byte, bool) {
	if s.cart == nil {
		return 0, false
	}
	return s.cart.ReadSNES(s)
}

// CPUAddr returns the CPU address lines A0-A14.
func (s *Slot) CPUAddr() uint16 {
	var a uint16
	for i := 0; i < 15; i++ {
		if s.level[lineAddr0+line(i)] {
			a |= 1 << i
		}
	}
	return a
}

// PPUAddr returns the PPU address lines A0-A13.
func (s *Slot) PPUAddr() uint16 {
	var a uint16
	for i := 0; i < 14; i++ {
		if s.level[lineAddr0+line(i)] {
			a |= 1 << i
		}
	}
	return a
}

// SNESAddr reconstructs the 16-bit in-bank address from the lines the
// board shares between the two slots.
func (s *Slot) SNESAddr() uint16 {
	var a uint16
	if s.level[lineM2] {
		a |= 1 << 0
	}
	if s.level[lineROMSEL] {
		a |= 1 << 1
	}
	if s.level[lineCHRWR] {
		a |= 1 << 2
	}
	if s.level[lineCIRAMCE] {
		a |= 1 << 3
	}
	if s.level[lineAddr0+15] {
		a |= 1 << 4
	}
	if s.level[lineCHRRD] {
		a |= 1 << 5
	}
	if s.level[lineIRQ] {
		a |= 1 << 6
	}
	if s.level[linePRGRW] {
		a |= 1 << 7
	}
	for i := 0; i < 8; i++ {
		if s.level[lineData0+line(i)] {
			a |= 1 << (8 + i)
		}
	}
	return a
}

// SNESBank returns the bank byte latched on the low address lines.
func (s *Slot) SNESBank() byte {
	var b byte
	for i := 0; i < 8; i++ {
		if s.level[lineAddr0+line(i)] {
			b |= 1 << i
		}
	}
	return b
}

// DataOut returns the byte currently driven on the NES data lines.
func (s *Slot) DataOut() byte {
	var v byte
	for i := 0; i < 8; i++ {
		if s.level[lineData0+line(i)] {
			v |= 1 << i
		}
	}
	return v
}

// DataDriven reports whether the board drives all NES data lines.
func (s *Slot) DataDriven() bool {
	for i := 0; i < 8; i++ {
		if !s.output[lineData0+line(i)] {
			return false
		}
	}
	return true
}

// PRGSelected reports /ROMSEL asserted.
func (s *Slot) PRGSelected() bool { return !s.level[lineROMSEL] }

// PRGWrite reports the CPU R/W line in its write state.
func (s *Slot) PRGWrite() bool { return !s.level[linePRGRW] }

// CHRRead reports the PPU read strobe asserted.
func (s *Slot) CHRRead() bool { return !s.level[lineCHRRD] }

// SNESReadPosture reports whether the control lines sit in the posture
// a SNES cartridge answers to. Anything else reads open bus.
func (s *Slot) SNESReadPosture() bool {
	return s.level[lineReset] && s.level[lineWR] &&
		!s.level[lineCS] && !s.level[lineRD] && !s.level[lineRefresh]
}

type slotPin struct {
	s *Slot
	l line
}

func (p slotPin) Set(high bool) { p.s.set(p.l, high) }

type slotFlex struct {
	slotPin
}

func (p slotFlex) Get() bool { return p.s.get(p.l) }

func (p slotFlex) SetInput(pull bus.Pull) {
	p.s.output[p.l] = false
	p.s.pull[p.l] = pull
}

func (p slotFlex) SetOutput() {
	p.s.output[p.l] = true
}
