package dumper

import (
	"fmt"
	"log"
	"time"
)

type snesROMType uint8

const (
	snesLoROM   snesROMType = 0
	snesHiROM   snesROMType = 1
	snesSA1ROM  snesROMType = 3
	snesExHiROM snesROMType = 4
)

func (t snesROMType) String() string {
	switch t {
	case snesLoROM:
		return "LoROM"
	case snesHiROM:
		return "HiROM"
	case snesSA1ROM:
		return "SA-1"
	case snesExHiROM:
		return "ExHiROM"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// dumpSNES takes over the shared slot lines, detects the cartridge from
// its header, and streams the ROM. /REFRESH stays low for the whole
// dump: the bus has no independent DRAM refresh while we drive it.
func (e *Engine) dumpSNES() error {
	e.board.SNESBusTakeover()
	e.board.SetResetHigh()
	e.board.SNESControlRead()
	e.board.SetRefreshLow()

	banks, typ := e.cartInfoSNES()

	var romSize uint32
	switch typ {
	case snesLoROM:
		romSize = (0x10000 - 0x8000) * uint32(banks)
	case snesHiROM:
		romSize = 0x10000 * uint32(banks)
	}
	log.Printf("dumper: detected %s cartridge, %d banks, %d bytes\n", typ, banks, romSize)

	e.sendSetup(romSize)
	e.readSNESROM(banks, typ)
	e.sendEnd()
	return nil
}

// cartInfoSNES scans 1024 addresses without sampling to let the bus
// stabilize, then reads and classifies the header.
func (e *Engine) cartInfoSNES() (banks uint8, typ snesROMType) {
	e.board.SNESSetBank(0b11000000)
	for addr := 0; addr < 1024; addr++ {
		e.board.SNESSetAddress(uint16(addr))
		e.board.Wait(375 * time.Nanosecond)
	}
	return e.checkCartSNES()
}

func (e *Engine) checkCartSNES() (banks uint8, typ snesROMType) {
	e.board.SNESDataIn()

	var window [snesHeaderLen]byte
	e.board.SNESSetBank(0x00)
	for i := range window {
		e.board.SNESSetAddress(uint16(snesHeaderBase + i))
		e.board.Wait(750 * time.Nanosecond)
		window[i] = e.board.SNESReadData()
	}

	if info, err := ParseSNESCartInfo(window[:]); err == nil {
		log.Printf("dumper: cartridge header: %s\n", info)
	}

	typ = classifySNESROM(window[0xFFD5-snesHeaderBase])
	banks = snesBankCount(window[0xFFD7-snesHeaderBase], typ)
	return banks, typ
}

func classifySNESROM(v byte) snesROMType {
	switch {
	case v == 0x35:
		return snesExHiROM
	case v == 0x3A:
		return snesHiROM
	case v>>5 != 1:
		return snesLoROM
	default:
		return snesROMType(v & 1)
	}
}

// snesBankCount sizes the cartridge from the header's ROM size byte,
// log2 of the size in Mbit biased by 7. A garbage byte under the bias
// shifts past the word width and yields zero banks, so the dump is
// empty rather than wild.
func snesBankCount(sizeByte byte, typ snesROMType) uint8 {
	exp := sizeByte - 7
	mbit := uint64(1) << exp
	return uint8(mbit * 1024 * 1024 / 8 / (0x8000 + 0x8000*uint64(typ)))
}

func (e *Engine) readSNESROM(banks uint8, typ snesROMType) {
	e.board.SNESDataIn()
	e.board.SNESControlRead()
	switch typ {
	case snesLoROM:
		e.readSNESBanks(0, int(banks), 0x8000)
	case snesHiROM:
		e.readSNESBanks(192, 192+int(banks), 0x0000)
	}
}

// readSNESBanks walks banks [start, end), scanning each from windowFrom
// through 0xFFFF in 32-byte chunks, 375ns settle per byte.
func (e *Engine) readSNESBanks(start, end, windowFrom int) {
	for bank := start; bank < end; bank++ {
		e.board.SNESSetBank(uint8(bank))
		for chunk := windowFrom; chunk <= 0xFFFF; chunk += ChunkSize {
			n := 0x10000 - chunk
			if n > ChunkSize {
				n = ChunkSize
			}
			for i := 0; i < n; i++ {
				e.board.SNESSetAddress(uint16(chunk + i))
				e.board.Wait(375 * time.Nanosecond)
				e.buf[i] = e.board.SNESReadData()
			}
			e.sendChunk(n)
		}
	}
}
