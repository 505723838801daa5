// Package mtp implements the device side of the media transfer protocol
// the dumper speaks: a virtual filesystem with a folder per console, a
// ROM image per console, and a writable dump configuration file. ROM
// reads stream live from the dump engine; everything else is answered
// from the fixed object table.
package mtp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"cartdump/dumper"
	"cartdump/transport"
)

// Packet I/O failures are retried a few times before the session is
// abandoned.
const (
	ioRetries    = 5
	ioRetryDelay = time.Millisecond
)

var (
	errDataTooLarge  = errors.New("mtp: data container exceeds capacity")
	errDataMalformed = errors.New("mtp: malformed data container")
	errEngineStopped = errors.New("mtp: dump engine stopped mid-transfer")
)

// Server answers requests on one packet link. It owns the link and the
// engine channel pair for the lifetime of Serve and runs on a single
// goroutine.
type Server struct {
	// Identity and Now may be replaced before Serve is called.
	Identity DeviceIdentity
	Now      func() time.Time

	conn transport.Conn
	to   chan<- dumper.Msg
	from <-chan dumper.Msg

	config        []byte
	configDeleted bool
	configMtime   time.Time
	bootTime      time.Time

	rbuf []byte
	wbuf []byte
}

// NewServer wires a server to its link and its engine channels. The
// config file starts out holding the engine's default config.
func NewServer(conn transport.Conn, to chan<- dumper.Msg, from <-chan dumper.Msg) *Server {
	s := &Server{
		Identity: DefaultIdentity(),
		Now:      time.Now,
		conn:     conn,
		to:       to,
		from:     from,
		rbuf:     make([]byte, conn.MaxPacketSize()),
		wbuf:     make([]byte, 0, conn.MaxPacketSize()),
		config:   make([]byte, 0, configCapacity),
	}
	s.config = append(s.config, dumper.EncodeConfigText(dumper.DefaultConfig())...)
	return s
}

// Serve waits for the host to enable the interface, then answers
// requests until the link closes or fails. Malformed requests are
// dropped without a response.
func (s *Server) Serve() error {
	if err := s.conn.WaitReady(); err != nil {
		return fmt.Errorf("mtp: wait ready: %w", err)
	}
	s.bootTime = s.Now()
	s.configMtime = s.bootTime
	log.Printf("mtp: link ready\n")

	for {
		n, err := s.readPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		cmd, err := parseCommand(s.rbuf[:n])
		if err != nil {
			log.Printf("mtp: dropping request: %v\n", err)
			continue
		}
		if err := s.dispatch(cmd); err != nil {
			return err
		}
	}
}

func (s *Server) readPacket() (n int, err error) {
	for try := 0; try < ioRetries; try++ {
		if try > 0 {
			time.Sleep(ioRetryDelay)
		}
		n, err = s.conn.ReadPacket(s.rbuf)
		if err == nil || errors.Is(err, io.EOF) {
			return
		}
	}
	return 0, fmt.Errorf("mtp: packet read failed after %d tries: %w", ioRetries, err)
}

func (s *Server) writePacket(p []byte) error {
	var err error
	for try := 0; try < ioRetries; try++ {
		if try > 0 {
			time.Sleep(ioRetryDelay)
		}
		if err = s.conn.WritePacket(p); err == nil {
			return nil
		}
	}
	return fmt.Errorf("mtp: packet write failed after %d tries: %w", ioRetries, err)
}

// blockWriter frames one data-in block into packets. Every exactly-full
// packet goes out as it fills; close flushes the tail and, when the
// block total is a positive multiple of the packet size, appends the
// zero-length packet that marks the end of the block.
type blockWriter struct {
	s     *Server
	max   int
	total int
}

func (s *Server) newBlockWriter() *blockWriter {
	s.wbuf = s.wbuf[:0]
	return &blockWriter{s: s, max: cap(s.wbuf)}
}

func (w *blockWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		take := w.max - len(w.s.wbuf)
		if take > len(p) {
			take = len(p)
		}
		w.s.wbuf = append(w.s.wbuf, p[:take]...)
		p = p[take:]
		if len(w.s.wbuf) == w.max {
			if err := w.s.writePacket(w.s.wbuf); err != nil {
				return n - len(p), err
			}
			w.total += w.max
			w.s.wbuf = w.s.wbuf[:0]
		}
	}
	return n, nil
}

func (w *blockWriter) close() error {
	if len(w.s.wbuf) > 0 {
		if err := w.s.writePacket(w.s.wbuf); err != nil {
			return err
		}
		w.total += len(w.s.wbuf)
		w.s.wbuf = w.s.wbuf[:0]
	}
	if w.total > 0 && w.total%w.max == 0 {
		return w.s.writePacket(nil)
	}
	return nil
}

// sendData writes one complete data container as a packet block.
func (s *Server) sendData(code uint16, tid uint32, payload []byte) error {
	w := s.newBlockWriter()
	var hdr [HeaderLen]byte
	PutHeader(hdr[:], Header{
		Length:        uint32(HeaderLen + len(payload)),
		Type:          ContainerData,
		Code:          code,
		TransactionID: tid,
	})
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.close()
}

// sendResponse writes one response container. Responses carry at most
// three parameters and always fit a single packet.
func (s *Server) sendResponse(code uint16, tid uint32, params ...uint32) error {
	var b [HeaderLen + 12]byte
	n := HeaderLen + 4*len(params)
	PutHeader(b[:], Header{
		Length:        uint32(n),
		Type:          ContainerResponse,
		Code:          code,
		TransactionID: tid,
	})
	for i, p := range params {
		binary.LittleEndian.PutUint32(b[HeaderLen+4*i:], p)
	}
	return s.writePacket(b[:n])
}

// readDataOut reads one data container addressed to op, its payload
// capped at max bytes. The container may span packets; when its total
// length is an exact multiple of the packet size the closing
// zero-length packet is consumed too.
func (s *Server) readDataOut(op uint16, tid uint32, max int) ([]byte, error) {
	n, err := s.readPacket()
	if err != nil {
		return nil, err
	}
	h, err := ParseHeader(s.rbuf[:n])
	if err != nil {
		return nil, errDataMalformed
	}
	if h.Type != ContainerData || h.Code != op || h.TransactionID != tid {
		return nil, errDataMalformed
	}
	if int(h.Length) > HeaderLen+max {
		return nil, errDataTooLarge
	}

	pkt := s.conn.MaxPacketSize()
	want := int(h.Length) - HeaderLen
	payload := make([]byte, 0, want)
	take := n - HeaderLen
	if take > want {
		take = want
	}
	payload = append(payload, s.rbuf[HeaderLen:HeaderLen+take]...)
	for len(payload) < want {
		// a short packet closes the block; more data cannot follow it
		if n < pkt {
			return nil, errDataMalformed
		}
		if n, err = s.readPacket(); err != nil {
			return nil, err
		}
		take = n
		if take > want-len(payload) {
			take = want - len(payload)
		}
		payload = append(payload, s.rbuf[:take]...)
	}
	if int(h.Length)%pkt == 0 {
		if n, err = s.readPacket(); err != nil {
			return nil, err
		}
		if n != 0 {
			return nil, errDataMalformed
		}
	}
	return payload, nil
}

// streamDump answers a ROM read. It starts a dump, declares the data
// container from the engine's Setup size, then forwards chunks as they
// arrive. If the engine dies mid-dump its channel closes and the
// session is abandoned.
func (s *Server) streamDump(console dumper.Console, code uint16, tid uint32) error {
	s.to <- dumper.Msg{Kind: dumper.MsgStart, Console: console}

	var size uint32
	for {
		m, ok := <-s.from
		if !ok {
			return errEngineStopped
		}
		if m.Kind == dumper.MsgSetup {
			size = m.ROMSize
			break
		}
	}

	w := s.newBlockWriter()
	var hdr [HeaderLen]byte
	PutHeader(hdr[:], Header{
		Length:        uint32(HeaderLen) + size,
		Type:          ContainerData,
		Code:          code,
		TransactionID: tid,
	})
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for {
		m, ok := <-s.from
		if !ok {
			return errEngineStopped
		}
		switch m.Kind {
		case dumper.MsgData:
			if _, err := w.Write(m.Data[:m.Length]); err != nil {
				return err
			}
		case dumper.MsgEnd:
			return w.close()
		}
	}
}
