// Package udpbridge carries dumper packets over UDP, one datagram per
// packet. The device side binds and latches the first host that sends
// to it; the host side dials. Datagram boundaries carry the packet
// framing, so a zero-length datagram is the zero-length packet. There
// is no retransmit; the bridge expects a bench link that does not drop.
package udpbridge

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"cartdump/transport"
)

const maxPacketSize = 64

var ErrNotReady = errors.New("udpbridge: no host connected")

func init() {
	transport.Register("udpbridge", &Driver{})
}

type Driver struct{}

// Open accepts "listen:host:port" for the device side or a plain
// "host:port" for the host side.
func (d *Driver) Open(spec string) (transport.Conn, error) {
	if strings.HasPrefix(spec, "listen:") {
		return listen(strings.TrimPrefix(spec, "listen:"))
	}
	return dial(spec)
}

type Conn struct {
	c      *net.UDPConn
	dialed bool

	// device side: the host latched from the first datagram, which is
	// owed to the first read
	peer    *net.UDPAddr
	first   []byte
	pending bool
}

func listen(addr string) (*Conn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udpbridge: resolve %s: %w", addr, err)
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udpbridge: listen %s: %w", addr, err)
	}
	return &Conn{c: c}, nil
}

func dial(addr string) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udpbridge: resolve %s: %w", addr, err)
	}
	c, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("udpbridge: dial %s: %w", addr, err)
	}
	return &Conn{c: c, dialed: true}, nil
}

// WaitReady blocks on the device side until a host sends its first
// datagram, then latches that host. The host side is ready as soon as
// the dial resolves.
func (c *Conn) WaitReady() error {
	if c.dialed || c.peer != nil {
		return nil
	}
	b := make([]byte, maxPacketSize)
	for {
		n, raddr, err := c.c.ReadFromUDP(b)
		if err != nil {
			return mapClosed(err)
		}
		c.peer = raddr
		c.first = append([]byte(nil), b[:n]...)
		c.pending = true
		return nil
	}
}

func (c *Conn) ReadPacket(buf []byte) (int, error) {
	if c.pending {
		c.pending = false
		n := copy(buf, c.first)
		c.first = nil
		return n, nil
	}
	if c.dialed {
		n, err := c.c.Read(buf)
		if err != nil {
			return 0, mapClosed(err)
		}
		return n, nil
	}
	if c.peer == nil {
		return 0, ErrNotReady
	}
	for {
		n, raddr, err := c.c.ReadFromUDP(buf)
		if err != nil {
			return 0, mapClosed(err)
		}
		if !raddr.IP.Equal(c.peer.IP) || raddr.Port != c.peer.Port {
			continue // not our host
		}
		return n, nil
	}
}

func (c *Conn) WritePacket(p []byte) error {
	if len(p) > maxPacketSize {
		return fmt.Errorf("udpbridge: packet exceeds max packet size: %d", len(p))
	}
	var err error
	switch {
	case c.dialed:
		_, err = c.c.Write(p)
	case c.peer == nil:
		return ErrNotReady
	default:
		_, err = c.c.WriteToUDP(p, c.peer)
	}
	return err
}

// Addr returns the bound address, useful on a device side opened with
// port 0.
func (c *Conn) Addr() net.Addr { return c.c.LocalAddr() }

func (c *Conn) MaxPacketSize() int { return maxPacketSize }

func (c *Conn) Close() error { return c.c.Close() }

// mapClosed turns reads against a closed socket into the EOF the
// session loop treats as a clean hangup.
func mapClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return err
}
