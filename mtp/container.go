package mtp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the fixed container header size: length u32, type u16,
// code u16, transaction id u32, all little-endian.
const HeaderLen = 12

// Container types.
const (
	ContainerCommand  = 1
	ContainerData     = 2
	ContainerResponse = 3
	ContainerEvent    = 4
)

var (
	ErrContainerShort  = errors.New("mtp: container shorter than its header")
	ErrContainerLength = errors.New("mtp: container length field out of range")
)

// ContainerTypeError reports a container whose type field does not match
// the phase it arrived in.
type ContainerTypeError struct {
	Type uint16
}

func (e *ContainerTypeError) Error() string {
	return fmt.Sprintf("mtp: unexpected container type %d", e.Type)
}

// Header is the decoded container header. Length counts the header
// itself plus the payload.
type Header struct {
	Length        uint32
	Type          uint16
	Code          uint16
	TransactionID uint32
}

// ParseHeader decodes the first HeaderLen bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrContainerShort
	}
	h := Header{
		Length:        binary.LittleEndian.Uint32(b[0:4]),
		Type:          binary.LittleEndian.Uint16(b[4:6]),
		Code:          binary.LittleEndian.Uint16(b[6:8]),
		TransactionID: binary.LittleEndian.Uint32(b[8:12]),
	}
	if h.Length < HeaderLen {
		return Header{}, ErrContainerLength
	}
	return h, nil
}

// PutHeader encodes h into the first HeaderLen bytes of b.
func PutHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Length)
	binary.LittleEndian.PutUint16(b[4:6], h.Type)
	binary.LittleEndian.PutUint16(b[6:8], h.Code)
	binary.LittleEndian.PutUint32(b[8:12], h.TransactionID)
}

// command is a request parsed out of a single packet. params aliases the
// packet buffer and is only valid until the next read.
type command struct {
	op     uint16
	tid    uint32
	params []byte
}

// parseCommand decodes one command container. Requests always fit a
// single packet, so a length field running past the packet is an error.
func parseCommand(b []byte) (command, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return command{}, err
	}
	if h.Type != ContainerCommand {
		return command{}, &ContainerTypeError{h.Type}
	}
	if int(h.Length) > len(b) {
		return command{}, ErrContainerLength
	}
	return command{op: h.Code, tid: h.TransactionID, params: b[HeaderLen:h.Length]}, nil
}

// param returns the i'th u32 parameter, zero when the request carried
// fewer.
func (c command) param(i int) uint32 {
	off := 4 * i
	if off+4 > len(c.params) {
		return 0
	}
	return binary.LittleEndian.Uint32(c.params[off:])
}
