package dumper

import (
	"fmt"
	"hash/crc32"

	"cartdump/bus"
)

// Fingerprint holds checksums of two 512-byte CPU-space windows,
// sampled at boot before any host traffic. The pair identifies the
// inserted NES cartridge: 0x8000 is the first visible PRG bank and
// 0xE000 sits in the fixed bank on the common banked mappers.
type Fingerprint struct {
	Low   uint32 // window at 0x8000
	Fixed uint32 // window at 0xE000
}

// ReadFingerprint samples both windows, interleaved byte by byte.
func ReadFingerprint(b *bus.Board) Fingerprint {
	b.SetReadMode()
	b.SetAddress(0)

	var low, fixed [512]byte
	for c := 0; c < 512; c++ {
		low[c] = b.ReadPRGByte(uint16(0x8000 + c))
		fixed[c] = b.ReadPRGByte(uint16(0xE000 + c))
	}
	return Fingerprint{
		Low:   crc32.ChecksumIEEE(low[:]),
		Fixed: crc32.ChecksumIEEE(fixed[:]),
	}
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%08X-%08X", f.Low, f.Fixed)
}
