package dumper

import (
	"errors"
	"log"
	"time"
)

// ErrBankOverflow is returned when a mapper's bank count cannot be
// addressed through its 8-bit bank-select register. The dump cannot
// continue; the engine stops.
var ErrBankOverflow = errors.New("dumper: bank count exceeds 256")

// prgBase is the CPU-space window where PRG ROM appears.
const prgBase = 0x8000

// INESHeader builds the 16-byte .nes image header for the config.
func INESHeader(c Config) (hdr [16]byte) {
	hdr[0] = 0x4E
	hdr[1] = 0x45
	hdr[2] = 0x53
	hdr[3] = 0x1A
	hdr[4] = uint8(c.PRGKB / 16)
	hdr[5] = uint8(c.CHRKB / 8)
	hdr[6] = (c.Mapper & 0xF) << 4
	return hdr
}

// dumpNES emits the iNES header followed by PRG and (if configured)
// CHR contents, sized entirely from the current config.
func (e *Engine) dumpNES() error {
	e.board.NESBusIdle()

	e.sendSetup(e.cfg.ImageSize())

	hdr := INESHeader(e.cfg)
	copy(e.buf[:], hdr[:])
	e.sendChunk(16)

	if err := e.readPRG(); err != nil {
		return err
	}
	if e.cfg.CHRSizeExp > 0 {
		if err := e.readCHR(); err != nil {
			return err
		}
	}
	e.sendEnd()
	return nil
}

// readPRG walks CPU space according to the configured mapper. Unknown
// mappers emit nothing and skip the finalize step, leaving the bus
// exactly as the dispatch found it.
func (e *Engine) readPRG() error {
	e.board.SetAddress(0)
	e.board.Wait(time.Microsecond)

	switch e.cfg.Mapper {
	case 0:
		banks := uint32(1) << e.cfg.PRGSizeExp
		e.dumpBankPRG(0, 0x4000*banks, prgBase)

	case 1:
		if e.cfg.PRGSizeExp == 1 {
			e.board.WritePRGByte(0x8000, 0x80)
			e.dumpBankPRG(0, 0x8000, prgBase)
			break
		}
		banks := uint32(1) << e.cfg.PRGSizeExp
		for i := uint32(0); i < banks; i++ {
			e.board.WritePRGByte(0x8000, 0x80) // reset shift register and control
			e.writeMMC1Serial(0x8000, 0x0C)
			if e.cfg.PRGSizeExp > 4 {
				e.writeMMC1Serial(0xA000, 0x0C)
			}
			if i > 15 {
				e.writeMMC1Serial(0xA000, 0x10)
			}
			e.writeMMC1Serial(0xE000, uint8(i))
			e.dumpBankPRG(0, 0x4000, prgBase)
		}

	case 4:
		banks := (1 << e.cfg.PRGSizeExp) * 2
		if banks > 256 {
			return ErrBankOverflow
		}
		e.board.WritePRGByte(0xA001, 0x80) // PRG RAM enable, writable
		for i := 0; i < banks; i++ {
			e.board.WritePRGByte(0x8000, 0x06) // select PRG bank at $8000-$9FFF
			e.board.WritePRGByte(0x8001, uint8(i))
			e.dumpBankPRG(0, 0x2000, prgBase)
		}

	default:
		log.Printf("dumper: mapper %d has no PRG sequence, nothing dumped\n", e.cfg.Mapper)
		return nil
	}

	e.board.SetAddress(0)
	e.board.SetM2High()
	e.board.SetROMSELHigh()
	return nil
}

// readCHR walks PPU space. Only mappers 0 and 4 carry CHR sequences.
func (e *Engine) readCHR() error {
	e.board.SetAddress(0)
	e.board.Wait(time.Microsecond)

	switch e.cfg.Mapper {
	case 0:
		e.dumpBankCHR(0, 0x2000)

	case 4:
		banks := (1 << e.cfg.CHRSizeExp) * 4
		if banks > 256 {
			return ErrBankOverflow
		}
		e.board.WritePRGByte(0xA001, 0x80)
		for i := 0; i < banks; i++ {
			e.board.WritePRGByte(0x8000, 0x02) // select CHR bank at $1000-$13FF
			e.board.WritePRGByte(0x8001, uint8(i))
			e.dumpBankCHR(0x1000, 0x1400)
		}

	default:
		log.Printf("dumper: mapper %d has no CHR sequence, nothing dumped\n", e.cfg.Mapper)
	}
	return nil
}

// writeMMC1Serial clocks one value into an MMC1 register, five writes
// of one bit each. Registers at 0xE000 and above go through the paired
// edge write; a slow edge there corrupts work RAM at 0x6000-0x7FFF.
func (e *Engine) writeMMC1Serial(addr uint16, data uint8) {
	if addr >= 0xE000 {
		for i := 0; i < 5; i++ {
			e.board.WriteRegisterByte(addr, data>>i)
		}
		return
	}
	for i := 0; i < 5; i++ {
		e.board.WritePRGByte(addr, data>>i)
	}
}

// dumpBankPRG reads [from, to) offsets against base in 32-byte chunks.
// Offsets past 0xFFFF wrap through the 16-bit address lines.
func (e *Engine) dumpBankPRG(from, to uint32, base uint16) {
	for addr := from; addr < to; addr += ChunkSize {
		e.dumpPRG(base, uint16(addr))
	}
}

func (e *Engine) dumpBankCHR(from, to uint16) {
	for addr := uint32(from); addr < uint32(to); addr += ChunkSize {
		e.dumpCHR(uint16(addr))
	}
}

func (e *Engine) dumpPRG(base, addr uint16) {
	for i := range e.buf {
		e.buf[i] = e.board.ReadPRGByte(base + addr + uint16(i))
	}
	e.sendChunk(len(e.buf))
}

func (e *Engine) dumpCHR(addr uint16) {
	for i := range e.buf {
		e.buf[i] = e.board.ReadCHRByte(addr + uint16(i))
	}
	e.sendChunk(len(e.buf))
}
