package bus

// SNESBusTakeover drives the shared flex lines low so they can carry SNES
// address bits. Each line is forced low before its driver is enabled.
func (b *Board) SNESBusTakeover() {
	b.Pins.CIRAMCE.Set(false)
	b.Pins.CIRAMCE.SetOutput()
	b.Pins.IRQ.Set(false)
	b.Pins.IRQ.SetOutput()
	for _, p := range b.Pins.Data {
		p.Set(false)
		p.SetOutput()
	}
}

// SNESSetAddress drives the 16-bit in-bank address. The slot shares lines
// with the NES side: bits 0-7 ride the NES control lines and bits 8-15 ride
// the NES data lines, which must be outputs here.
func (b *Board) SNESSetAddress(addr uint16) {
	b.Pins.M2.Set(addr&(1<<0) != 0)
	b.Pins.ROMSEL.Set(addr&(1<<1) != 0)
	b.Pins.CHRWR.Set(addr&(1<<2) != 0)
	b.Pins.CIRAMCE.Set(addr&(1<<3) != 0)
	b.Pins.Addr[15].Set(addr&(1<<4) != 0)
	b.Pins.CHRRD.Set(addr&(1<<5) != 0)
	b.Pins.IRQ.Set(addr&(1<<6) != 0)
	b.Pins.PRGRW.Set(addr&(1<<7) != 0)
	for i, p := range b.Pins.Data {
		p.Set(addr&(1<<(8+i)) != 0)
	}
}

// SNESSetBank latches the bank byte onto the low NES address lines.
func (b *Board) SNESSetBank(bank byte) {
	for i := 0; i < 8; i++ {
		b.Pins.Addr[i].Set(bank&(1<<i) != 0)
	}
}

// SNESDataIn releases the SNES data lines to pulled-up inputs.
func (b *Board) SNESDataIn() {
	for _, p := range b.Pins.DataSNES {
		p.SetInput(PullUp)
	}
	b.Pins.CIRAMA10.SetInput(PullUp)
}

// SNESReadData assembles a data byte from the spliced lines: the first two
// data lines carry bits 0 and 1, CIRAM A10 carries bit 2, and the remaining
// data lines carry bits 3-7.
func (b *Board) SNESReadData() byte {
	var data byte
	for i, p := range b.Pins.DataSNES {
		bit := i
		if i >= 2 {
			bit = i + 1
		}
		if p.Get() {
			data |= 1 << bit
		}
	}
	if b.Pins.CIRAMA10.Get() {
		data |= 1 << 2
	}
	return data
}

// SNESControlRead puts the control lines into read posture.
func (b *Board) SNESControlRead() {
	b.SetWRHigh()
	b.SetCSLow()
	b.SetRDLow()
}

func (b *Board) SetResetHigh() { b.Pins.Reset.Set(true) }
func (b *Board) SetResetLow()  { b.Pins.Reset.Set(false) }

func (b *Board) SetWRHigh() { b.Pins.WR.Set(true) }
func (b *Board) SetWRLow()  { b.Pins.WR.Set(false) }

func (b *Board) SetRDHigh() { b.Pins.RD.Set(true) }
func (b *Board) SetRDLow()  { b.Pins.RD.Set(false) }

func (b *Board) SetCSHigh() { b.Pins.CS.Set(true) }
func (b *Board) SetCSLow()  { b.Pins.CS.Set(false) }

func (b *Board) SetRefreshHigh() { b.Pins.Refresh.Set(true) }
func (b *Board) SetRefreshLow()  { b.Pins.Refresh.Set(false) }
