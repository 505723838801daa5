package sim

import (
	"testing"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	x := seed
	for i := range b {
		x = x*31 + 7
		b[i] = x
	}
	return b
}

func TestNROMReads(t *testing.T) {
	prg := pattern(0x8000, 1)
	chr := pattern(0x2000, 2)
	b := NewSlot(&NROM{PRG: prg, CHR: chr}).Board()

	if got := b.ReadPRGByte(0x8123); got != prg[0x0123] {
		t.Fatalf("prg $8123: got %02x, want %02x", got, prg[0x0123])
	}
	if got := b.ReadPRGByte(0xC000); got != prg[0x4000] {
		t.Fatalf("prg $C000: got %02x, want %02x", got, prg[0x4000])
	}
	if got := b.ReadCHRByte(0x0456); got != chr[0x0456] {
		t.Fatalf("chr $0456: got %02x, want %02x", got, chr[0x0456])
	}
	if got := b.ReadPRGByte(0x1234); got != 0xFF {
		t.Fatalf("unselected read: got %02x, want open bus", got)
	}
}

func TestNROMMirrors16K(t *testing.T) {
	prg := pattern(0x4000, 3)
	b := NewSlot(&NROM{PRG: prg}).Board()
	if got := b.ReadPRGByte(0xC010); got != prg[0x0010] {
		t.Fatalf("mirror $C010: got %02x, want %02x", got, prg[0x0010])
	}
}

func TestEmptySlotOpenBus(t *testing.T) {
	b := NewSlot(nil).Board()
	if got := b.ReadPRGByte(0x8000); got != 0xFF {
		t.Fatalf("empty slot: got %02x, want ff", got)
	}
}

func TestMMC1BankSwitch(t *testing.T) {
	prg := pattern(0x20000, 4) // 128KB, 8 banks
	cart := NewMMC1(prg)
	b := NewSlot(cart).Board()

	b.WritePRGByte(0x8000, 0x80) // reset
	for k := 0; k < 5; k++ {
		b.WritePRGByte(0x8000, 0x0C>>k)
	}
	for k := 0; k < 5; k++ {
		b.WriteRegisterByte(0xE000, 5>>k)
	}

	if cart.Corrupted {
		t.Fatal("paired-edge register writes must not trip the hazard")
	}
	if got := b.ReadPRGByte(0x8000); got != prg[5*0x4000] {
		t.Fatalf("switched bank: got %02x, want %02x", got, prg[5*0x4000])
	}
	if got := b.ReadPRGByte(0xC000); got != prg[7*0x4000] {
		t.Fatalf("fixed bank: got %02x, want %02x", got, prg[7*0x4000])
	}
}

func TestMMC1TimedWriteTripsHazard(t *testing.T) {
	cart := NewMMC1(pattern(0x8000, 5))
	b := NewSlot(cart).Board()

	b.WritePRGByte(0x8000, 0x00)
	if cart.Corrupted {
		t.Fatal("write below $E000 must not trip the hazard")
	}
	b.WritePRGByte(0xE000, 0x00)
	if !cart.Corrupted {
		t.Fatal("timed write at $E000 must trip the hazard")
	}
}

func TestMMC3Banks(t *testing.T) {
	prg := pattern(0x10000, 6) // 64KB, 8 banks
	chr := pattern(0x4000, 7)
	b := NewSlot(&MMC3{PRG: prg, CHR: chr}).Board()

	b.WritePRGByte(0x8000, 0x06)
	b.WritePRGByte(0x8001, 3)
	if got := b.ReadPRGByte(0x8000); got != prg[3*0x2000] {
		t.Fatalf("R6 bank: got %02x, want %02x", got, prg[3*0x2000])
	}
	if got := b.ReadPRGByte(0xC000); got != prg[6*0x2000] {
		t.Fatalf("fixed bank -2: got %02x, want %02x", got, prg[6*0x2000])
	}
	if got := b.ReadPRGByte(0xE010); got != prg[7*0x2000+0x10] {
		t.Fatalf("fixed bank -1: got %02x, want %02x", got, prg[7*0x2000+0x10])
	}

	b.WritePRGByte(0x8000, 0x02)
	b.WritePRGByte(0x8001, 9)
	if got := b.ReadCHRByte(0x1000); got != chr[9*0x400] {
		t.Fatalf("R2 chr bank: got %02x, want %02x", got, chr[9*0x400])
	}
	if got := b.ReadCHRByte(0x13FF); got != chr[9*0x400+0x3FF] {
		t.Fatalf("R2 chr bank end: got %02x, want %02x", got, chr[9*0x400+0x3FF])
	}
}

func TestSNESPostureGating(t *testing.T) {
	rom := pattern(0x10000, 8)
	b := NewSlot(&HiROM{ROM: rom}).Board()

	b.SNESBusTakeover()
	b.SetResetHigh()
	b.SNESControlRead()
	b.SNESDataIn()
	b.SNESSetBank(0)
	b.SNESSetAddress(0x1234)

	// /REFRESH still high from the idle posture
	if got := b.SNESReadData(); got != 0xFF {
		t.Fatalf("read with /REFRESH high: got %02x, want open bus", got)
	}

	b.SetRefreshLow()
	if got := b.SNESReadData(); got != rom[0x1234] {
		t.Fatalf("read: got %02x, want %02x", got, rom[0x1234])
	}
}

func TestLoROMMapping(t *testing.T) {
	rom := pattern(0x40000, 9) // 256KB
	b := NewSlot(&LoROM{ROM: rom}).Board()

	b.SNESBusTakeover()
	b.SetResetHigh()
	b.SNESControlRead()
	b.SetRefreshLow()
	b.SNESDataIn()

	b.SNESSetBank(2)
	b.SNESSetAddress(0x8010)
	if got := b.SNESReadData(); got != rom[2*0x8000+0x10] {
		t.Fatalf("bank 2: got %02x, want %02x", got, rom[2*0x8000+0x10])
	}

	// header window at bank 0 $FFB0 lives at file offset $7FB0
	b.SNESSetBank(0)
	b.SNESSetAddress(0xFFB0)
	if got := b.SNESReadData(); got != rom[0x7FB0] {
		t.Fatalf("header byte: got %02x, want %02x", got, rom[0x7FB0])
	}
}

func TestHiROMMapping(t *testing.T) {
	rom := pattern(0x20000, 10) // 128KB
	b := NewSlot(&HiROM{ROM: rom}).Board()

	b.SNESBusTakeover()
	b.SetResetHigh()
	b.SNESControlRead()
	b.SetRefreshLow()
	b.SNESDataIn()

	b.SNESSetBank(193)
	b.SNESSetAddress(0x0040)
	if got := b.SNESReadData(); got != rom[0x10040] {
		t.Fatalf("bank 193: got %02x, want %02x", got, rom[0x10040])
	}
}
