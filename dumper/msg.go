// Package dumper walks a NES or SNES cartridge over a bus.Board and
// streams the ROM image out as a sequence of messages. One Engine owns
// the board and the cartridge configuration; the protocol side talks to
// it over a pair of channels so only one dump is ever in flight.
package dumper

// Console selects which cartridge slot a dump walks.
type Console uint8

const (
	ConsoleNES Console = iota
	ConsoleSNES
)

func (c Console) String() string {
	switch c {
	case ConsoleNES:
		return "NES"
	case ConsoleSNES:
		return "SNES"
	}
	return "unknown"
}

// MsgKind discriminates Msg. Start and ConfigChanged travel toward the
// engine; Setup, Data and End travel back.
type MsgKind uint8

const (
	MsgStart MsgKind = iota
	MsgConfigChanged
	MsgSetup
	MsgData
	MsgEnd
)

// ChunkSize is the largest number of ROM bytes carried by one MsgData.
const ChunkSize = 32

// Msg is the channel payload between the protocol session and the
// engine. Only the fields named by the Kind are meaningful.
type Msg struct {
	Kind    MsgKind
	Console Console     // Start
	ROMSize uint32      // Setup: total image bytes to follow
	Field   ConfigField // ConfigChanged
	Value   uint32      // ConfigChanged
	Length  int         // Data: bytes used in Data
	Data    [ChunkSize]byte
}

// A dump stream is exactly one Setup, zero or more Data messages in
// strictly increasing address order, then one End.
