// Package wsbridge carries dumper packets over a websocket, one binary
// frame per packet. The device side listens for a single host; the host
// side dials.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"cartdump/transport"
)

const maxPacketSize = 64

var ErrNotReady = errors.New("wsbridge: no host connected")

type Driver struct{}

// Open accepts either "listen:host:port" for the device side or a
// "ws://host:port" url for the host side.
func (d *Driver) Open(spec string) (transport.Conn, error) {
	switch {
	case strings.HasPrefix(spec, "listen:"):
		return listen(strings.TrimPrefix(spec, "listen:"))
	case strings.HasPrefix(spec, "ws://"), strings.HasPrefix(spec, "wss://"):
		return dial(spec)
	}
	return nil, fmt.Errorf("wsbridge: bad spec %q; want \"listen:addr\" or a ws:// url", spec)
}

type Conn struct {
	ln    net.Listener // device side, until a host connects
	c     net.Conn
	state ws.State
}

func listen(addr string) (*Conn, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: listen %s: %w", addr, err)
	}
	return &Conn{ln: ln, state: ws.StateServerSide}, nil
}

func dial(urlstr string) (c *Conn, err error) {
	c = &Conn{state: ws.StateClientSide}
	c.c, _, _, err = ws.Dial(context.Background(), urlstr)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial %s: %w", urlstr, err)
	}
	return c, nil
}

// WaitReady accepts and upgrades one connection on the device side. On the
// host side the dial already completed and WaitReady returns immediately.
func (c *Conn) WaitReady() error {
	if c.ln == nil {
		return nil
	}
	conn, err := c.ln.Accept()
	if err != nil {
		return fmt.Errorf("wsbridge: accept: %w", err)
	}
	if _, err = ws.Upgrade(conn); err != nil {
		conn.Close()
		return fmt.Errorf("wsbridge: upgrade: %w", err)
	}

	// one host per bridge; stop listening:
	c.ln.Close()
	c.ln = nil
	c.c = conn
	return nil
}

func (c *Conn) ReadPacket(buf []byte) (int, error) {
	if c.c == nil {
		return 0, ErrNotReady
	}
	for {
		data, op, err := wsutil.ReadData(c.c, c.state)
		if err != nil {
			return 0, err
		}
		if op != ws.OpBinary {
			continue
		}
		if len(data) > len(buf) {
			return 0, fmt.Errorf("wsbridge: frame of %d bytes exceeds packet size", len(data))
		}
		return copy(buf, data), nil
	}
}

func (c *Conn) WritePacket(p []byte) error {
	if c.c == nil {
		return ErrNotReady
	}
	if len(p) > maxPacketSize {
		return fmt.Errorf("wsbridge: packet exceeds max packet size: %d", len(p))
	}
	return wsutil.WriteMessage(c.c, c.state, ws.OpBinary, p)
}

// Addr returns the listen address on the device side, nil once a host has
// connected.
func (c *Conn) Addr() net.Addr {
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

func (c *Conn) MaxPacketSize() int { return maxPacketSize }

func (c *Conn) Close() error {
	if c.ln != nil {
		c.ln.Close()
		c.ln = nil
	}
	if c.c != nil {
		err := c.c.Close()
		c.c = nil
		return err
	}
	return nil
}

func init() {
	transport.Register("wsbridge", &Driver{})
}
