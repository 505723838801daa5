package bus

import "time"

// ByteReadRetries is the default sample count for majority-vote reads.
const ByteReadRetries = 1

// Pins names every line of the cartridge slot. The NES and SNES sides share
// physical lines: during SNES operation the NES control lines and data lines
// are repurposed as the low half of the SNES address bus.
type Pins struct {
	M2      Pin // CPU phase 2 clock
	ROMSEL  Pin // PRG /CE
	CHRWR   Pin
	CHRRD   Pin
	PRGRW   Pin
	CIRAMCE FlexPin
	IRQ     FlexPin

	// Addr[0..14] are CPU address lines; Addr[15] carries PPU /A13, the
	// inversion of address bit 13.
	Addr     [16]Pin
	CIRAMA10 FlexPin
	Data     [8]FlexPin

	A15     Pin
	Reset   Pin
	CS      Pin
	WR      Pin
	RD      Pin
	Refresh Pin
	Expand  FlexPin

	DataSNES [7]FlexPin
	IRQSNES  FlexPin
}

// Board sequences the slot lines. Methods are not safe for concurrent use;
// exactly one goroutine owns a Board.
type Board struct {
	Pins Pins

	// Wait pauses between line transitions. The default busy-waits so that
	// sub-microsecond pauses are honored; time.Sleep cannot hold a 375ns
	// pause.
	Wait func(time.Duration)

	// Retries is the sample count for majority-vote byte reads.
	Retries int
}

// New drives every line to its idle level and returns the board.
func New(pins Pins) *Board {
	b := &Board{
		Pins:    pins,
		Wait:    SpinWait,
		Retries: ByteReadRetries,
	}

	pins.M2.Set(true)
	pins.ROMSEL.Set(true)
	pins.CHRWR.Set(true)
	pins.CHRRD.Set(true)
	pins.PRGRW.Set(true)
	for i := 0; i < 15; i++ {
		pins.Addr[i].Set(false)
	}
	pins.Addr[15].Set(true) // PPU /A13 idle
	pins.A15.Set(true)
	pins.Reset.Set(true)
	pins.CS.Set(true)
	pins.WR.Set(true)
	pins.RD.Set(true)
	pins.Refresh.Set(true)

	// never driven, held floating:
	pins.Expand.SetInput(PullNone)
	pins.IRQSNES.SetInput(PullNone)

	return b
}

// SpinWait busy-waits for d. The dump sequences pause for 375ns to 1µs
// between edges, well below what the scheduler can honor with a sleep.
func SpinWait(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d {
	}
}

// SetAddress drives the CPU address lines. Addr[15] gets the inversion of
// bit 13 (PPU /A13).
func (b *Board) SetAddress(addr uint16) {
	for i := 0; i < 15; i++ {
		b.Pins.Addr[i].Set(addr&(1<<i) != 0)
	}
	b.Pins.Addr[15].Set(addr&(1<<13) == 0)
}

// SetReadMode releases the data lines to pulled-up inputs.
func (b *Board) SetReadMode() {
	for _, p := range b.Pins.Data {
		p.SetInput(PullUp)
	}
}

// SetWriteMode drives the data lines, forcing each low before enabling its
// driver.
func (b *Board) SetWriteMode() {
	for _, p := range b.Pins.Data {
		p.Set(false)
		p.SetOutput()
	}
}

func (b *Board) SetPRGRead()  { b.Pins.PRGRW.Set(true) }
func (b *Board) SetPRGWrite() { b.Pins.PRGRW.Set(false) }

func (b *Board) SetROMSELLow()  { b.Pins.ROMSEL.Set(false) }
func (b *Board) SetROMSELHigh() { b.Pins.ROMSEL.Set(true) }

// SetROMSEL asserts /ROMSEL only for cartridge-space addresses.
func (b *Board) SetROMSEL(addr uint16) {
	if addr&0x8000 != 0 {
		b.SetROMSELLow()
	} else {
		b.SetROMSELHigh()
	}
}

func (b *Board) SetM2High() { b.Pins.M2.Set(true) }
func (b *Board) SetM2Low()  { b.Pins.M2.Set(false) }

func (b *Board) SetCHRReadLow()  { b.Pins.CHRRD.Set(false) }
func (b *Board) SetCHRReadHigh() { b.Pins.CHRRD.Set(true) }

// setROMSELLowM2High and setROMSELHighM2Low keep the two edges back to back
// with nothing in between. Register writes at $E000-$FFFF corrupt PRG RAM at
// $6000-$7FFF when /ROMSEL and M2 switch more than ~33ns apart.
func (b *Board) setROMSELLowM2High() {
	b.Pins.M2.Set(true)
	b.Pins.ROMSEL.Set(false)
}

func (b *Board) setROMSELHighM2Low() {
	b.Pins.M2.Set(false)
	b.Pins.ROMSEL.Set(true)
}

// ReadData assembles a byte from the data lines, bit i from line i.
func (b *Board) ReadData() byte {
	var data byte
	for i, p := range b.Pins.Data {
		if p.Get() {
			data |= 1 << i
		}
	}
	return data
}

// WriteData drives a byte onto the data lines, bit i to line i.
func (b *Board) WriteData(data byte) {
	for i, p := range b.Pins.Data {
		p.Set(data&(1<<i) != 0)
	}
}

// ReadPRGByte reads one byte from CPU space.
func (b *Board) ReadPRGByte(addr uint16) byte {
	b.SetReadMode()
	b.SetPRGRead()
	b.SetROMSELHigh()
	b.SetAddress(addr)
	b.SetM2High()
	b.SetROMSEL(addr)
	b.Wait(time.Microsecond)
	return b.retryRead(b.ReadData)
}

// ReadCHRByte reads one byte from PPU space using the CHR read strobe.
func (b *Board) ReadCHRByte(addr uint16) byte {
	b.SetReadMode()
	b.SetM2High()
	b.SetROMSELHigh()
	b.SetAddress(addr)
	b.SetCHRReadLow()
	b.Wait(time.Microsecond)
	data := b.retryRead(b.ReadData)
	b.SetCHRReadHigh()
	return data
}

// WritePRGByte performs a timed CPU-space write, then restores read posture.
func (b *Board) WritePRGByte(addr uint16, data byte) {
	b.SetM2Low()
	b.SetROMSELHigh()
	b.SetWriteMode()
	b.SetPRGWrite()
	b.WriteData(data)

	b.SetAddress(addr) // M2 low, /ROMSEL still high
	b.SetM2High()
	b.SetROMSEL(addr)
	b.Wait(time.Microsecond) // writing
	b.SetM2Low()
	b.Wait(time.Microsecond)
	b.SetROMSELHigh()

	// back to read mode; M2 high keeps the cartridge out of reset:
	b.SetPRGRead()
	b.SetReadMode()
	b.SetAddress(0)
	b.SetM2High()
}

// WriteRegisterByte writes a mapper register using the paired /ROMSEL and M2
// transitions instead of a timed M2 pulse.
func (b *Board) WriteRegisterByte(addr uint16, data byte) {
	b.SetM2Low()
	b.SetROMSELHigh()
	b.SetWriteMode()
	b.SetPRGWrite()
	b.WriteData(data)

	b.SetAddress(addr)
	b.setROMSELLowM2High()
	b.setROMSELHighM2Low()
	b.Wait(time.Microsecond)

	// back to read mode; M2 high keeps the cartridge out of reset:
	b.SetPRGRead()
	b.SetReadMode()
	b.SetAddress(0)
	b.SetM2High()
}

// NESBusIdle releases the cartridge-driven lines to pulled-up inputs.
func (b *Board) NESBusIdle() {
	for _, p := range b.Pins.Data {
		p.SetInput(PullUp)
	}
	b.Pins.CIRAMCE.SetInput(PullUp)
	b.Pins.IRQ.SetInput(PullUp)
}
