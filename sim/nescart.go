package sim

// NROM is a mapper-0 cartridge: PRG mirrored across the CPU window,
// up to 8KB of CHR behind the PPU read strobe.
type NROM struct {
	PRG []byte
	CHR []byte
}

func (c *NROM) Edge(*Slot, Event) {}

func (c *NROM) ReadData(s *Slot) (byte, bool) {
	if s.CHRRead() {
		return chrAt(c.CHR, s)
	}
	if !s.PRGSelected() || s.PRGWrite() || len(c.PRG) == 0 {
		return 0, false
	}
	return c.PRG[int(s.CPUAddr())%len(c.PRG)], true
}

func (c *NROM) ReadSNES(*Slot) (byte, bool) { return 0, false }

// chrAt serves a CHR byte when the PPU address selects the pattern
// region (A13 low).
func chrAt(chr []byte, s *Slot) (byte, bool) {
	a := s.PPUAddr()
	if a&0x2000 != 0 || len(chr) == 0 {
		return 0, false
	}
	return chr[int(a&0x1FFF)%len(chr)], true
}

// MMC1 is a mapper-1 cartridge: a 5-bit shift register feeding four
// registers, modeled in the fixed-last-bank PRG mode the dump sequence
// configures. CHR0 bit 4 selects the upper 256KB page on 512KB boards.
//
// The model also watches the timing of register writes at 0xE000 and
// above: a write whose clock-low and select-high edges are not back to
// back trips the Corrupted flag, the hazard that smashes work RAM on
// real boards.
type MMC1 struct {
	PRG []byte

	shift uint8
	count int
	ctrl  uint8
	chr0  uint8
	chr1  uint8
	prg   uint8

	armed bool
	// Corrupted records that a register write exposed the work RAM
	// corruption hazard.
	Corrupted bool
}

func NewMMC1(prg []byte) *MMC1 {
	return &MMC1{PRG: prg, ctrl: 0x0C}
}

func (c *MMC1) Edge(s *Slot, e Event) {
	switch e {
	case EventM2Fall:
		if s.PRGSelected() && s.PRGWrite() && s.CPUAddr() >= 0x6000 {
			c.armed = true
		}
	case EventWait:
		if c.armed {
			c.Corrupted = true
		}
	case EventROMSELRise:
		c.armed = false
		if s.PRGWrite() && s.DataDriven() {
			c.write(s.CPUAddr(), s.DataOut())
		}
	}
}

func (c *MMC1) write(addr uint16, v byte) {
	if v&0x80 != 0 {
		c.shift, c.count = 0, 0
		c.ctrl |= 0x0C
		return
	}
	c.shift |= (v & 1) << c.count
	c.count++
	if c.count < 5 {
		return
	}
	reg := c.shift
	c.shift, c.count = 0, 0
	switch addr >> 13 { // A14-A13 select the register
	case 0:
		c.ctrl = reg
	case 1:
		c.chr0 = reg
	case 2:
		c.chr1 = reg
	case 3:
		c.prg = reg
	}
}

func (c *MMC1) ReadData(s *Slot) (byte, bool) {
	if !s.PRGSelected() || s.PRGWrite() || len(c.PRG) == 0 {
		return 0, false
	}
	addr := s.CPUAddr()
	page := uint32(c.chr0 & 0x10)
	var bank uint32
	if addr < 0x4000 {
		bank = page | uint32(c.prg&0x0F)
	} else {
		bank = page | 0x0F
	}
	off := (bank*0x4000 + uint32(addr&0x3FFF)) % uint32(len(c.PRG))
	return c.PRG[off], true
}

func (c *MMC1) ReadSNES(*Slot) (byte, bool) { return 0, false }

// MMC3 is a mapper-4 cartridge: bank-select and bank-data registers,
// 8KB PRG banks with the top two fixed, 2KB+1KB CHR banks in the
// layout the dump sequence selects.
type MMC3 struct {
	PRG []byte
	CHR []byte

	sel byte
	r   [8]byte
}

func (c *MMC3) Edge(s *Slot, e Event) {
	if e != EventROMSELRise || !s.PRGWrite() || !s.DataDriven() {
		return
	}
	addr := s.CPUAddr()
	v := s.DataOut()
	switch {
	case addr < 0x2000 && addr&1 == 0: // $8000: bank select
		c.sel = v
	case addr < 0x2000: // $8001: bank data
		c.r[c.sel&7] = v
	}
	// $A000-$BFFF mirroring and RAM protect registers are ignored
}

func (c *MMC3) ReadData(s *Slot) (byte, bool) {
	if s.CHRRead() {
		return c.chrRead(s)
	}
	if !s.PRGSelected() || s.PRGWrite() || len(c.PRG) == 0 {
		return 0, false
	}
	banks := len(c.PRG) / 0x2000
	var bank int
	addr := s.CPUAddr()
	switch addr >> 13 {
	case 0:
		bank = int(c.r[6])
	case 1:
		bank = int(c.r[7])
	case 2:
		bank = banks - 2
	default:
		bank = banks - 1
	}
	return c.PRG[(bank*0x2000+int(addr&0x1FFF))%len(c.PRG)], true
}

func (c *MMC3) chrRead(s *Slot) (byte, bool) {
	a := s.PPUAddr()
	if a&0x2000 != 0 || len(c.CHR) == 0 {
		return 0, false
	}
	var off int
	switch {
	case a < 0x0800:
		off = int(c.r[0]&0xFE)*0x400 + int(a&0x7FF)
	case a < 0x1000:
		off = int(c.r[1]&0xFE)*0x400 + int(a&0x7FF)
	case a < 0x1400:
		off = int(c.r[2])*0x400 + int(a&0x3FF)
	case a < 0x1800:
		off = int(c.r[3])*0x400 + int(a&0x3FF)
	case a < 0x1C00:
		off = int(c.r[4])*0x400 + int(a&0x3FF)
	default:
		off = int(c.r[5])*0x400 + int(a&0x3FF)
	}
	return c.CHR[off%len(c.CHR)], true
}

func (c *MMC3) ReadSNES(*Slot) (byte, bool) { return 0, false }
