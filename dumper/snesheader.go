package dumper

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
)

const (
	// snesHeaderBase is the bus address of the cartridge header window,
	// running through the emulated vectors at the top of the bank.
	snesHeaderBase = 0xFFB0
	snesHeaderLen  = 80
)

// SNESHeader is the cartridge header at $FFB0.
type SNESHeader struct {
	MakerCode          uint16
	GameCode           uint32
	Fixed1             [7]byte
	ExpansionRAMSize   byte
	SpecialVersion     byte
	CartridgeSubType   byte
	Title              [21]byte
	MapMode            byte
	CartridgeType      byte
	ROMSize            byte
	RAMSize            byte
	DestinationCode    byte
	Fixed2             byte
	MaskROMVersion     byte
	ComplementCheckSum uint16
	CheckSum           uint16
}

type SNESNativeVectors struct {
	Unused1 [4]byte
	COP     uint16
	BRK     uint16
	ABORT   uint16
	NMI     uint16
	Unused2 uint16
	IRQ     uint16
}

type SNESEmulatedVectors struct {
	Unused1 [4]byte
	COP     uint16
	Unused2 uint16
	ABORT   uint16
	NMI     uint16
	RESET   uint16
	IRQBRK  uint16
}

// SNESCartInfo is the decoded 80-byte header window.
type SNESCartInfo struct {
	Header          SNESHeader
	NativeVectors   SNESNativeVectors
	EmulatedVectors SNESEmulatedVectors
}

// ParseSNESCartInfo decodes the header window as read off the bus.
func ParseSNESCartInfo(window []byte) (info *SNESCartInfo, err error) {
	if len(window) < snesHeaderLen {
		return nil, fmt.Errorf("dumper: header window too short: %d bytes", len(window))
	}

	b := bytes.NewReader(window[:snesHeaderLen])
	info = &SNESCartInfo{}
	err = readBinaryStruct(b, &info.Header)
	if err != nil {
		return nil, err
	}
	err = readBinaryStruct(b, &info.NativeVectors)
	if err != nil {
		return nil, err
	}
	err = readBinaryStruct(b, &info.EmulatedVectors)
	if err != nil {
		return nil, err
	}

	return
}

func readBinaryStruct(b *bytes.Reader, into interface{}) (err error) {
	hv := reflect.ValueOf(into).Elem()
	for i := 0; i < hv.NumField(); i++ {
		f := hv.Field(i)
		if !f.CanAddr() {
			panic(fmt.Errorf("error handling struct field %s of type %s; cannot take address of field", hv.Type().Field(i).Name, hv.Type().Name()))
		}

		p := f.Addr().Interface()
		err = binary.Read(b, binary.LittleEndian, p)
		if err != nil {
			return fmt.Errorf("error reading struct field %s of type %s: %w", hv.Type().Field(i).Name, hv.Type().Name(), err)
		}
	}
	return
}

// TitleString returns the padded ASCII title with trailing blanks
// removed.
func (h *SNESHeader) TitleString() string {
	return strings.TrimRight(string(h.Title[:]), " \x00")
}

// ROMSizeBytes interprets the header's ROM size byte.
func (h *SNESHeader) ROMSizeBytes() uint32 {
	return 1024 << h.ROMSize
}

// RAMSizeBytes interprets the header's RAM size byte.
func (h *SNESHeader) RAMSizeBytes() uint32 {
	return 1024 << h.RAMSize
}

func (info *SNESCartInfo) String() string {
	h := &info.Header
	return fmt.Sprintf("%q map=$%02x type=$%02x rom=%dKB ram=%dKB reset=$%04x",
		h.TitleString(), h.MapMode, h.CartridgeType,
		h.ROMSizeBytes()/1024, h.RAMSizeBytes()/1024,
		info.EmulatedVectors.RESET)
}
