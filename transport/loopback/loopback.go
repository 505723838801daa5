// Package loopback provides an in-memory packet link. Tests and the
// simulated demo device use it to run the full protocol without hardware.
package loopback

import (
	"errors"
	"io"
	"sync"

	"cartdump/transport"
)

const maxPacketSize = 64

var ErrPacketTooLarge = errors.New("loopback: packet exceeds max packet size")

func init() {
	transport.Register("loopback", &Driver{})
}

// Driver pairs endpoints by pipe name: the first Open of a name creates the
// pipe and the second connects to it. WaitReady on the first end blocks
// until the second arrives.
type Driver struct {
	mu      sync.Mutex
	waiting map[string]*join
}

type join struct {
	peer  *Conn
	ready chan struct{}
}

func (d *Driver) Open(name string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiting == nil {
		d.waiting = make(map[string]*join)
	}
	if j, ok := d.waiting[name]; ok {
		delete(d.waiting, name)
		close(j.ready)
		return j.peer, nil
	}
	a, b, ready := newPair()
	d.waiting[name] = &join{peer: b, ready: ready}
	return a, nil
}

// Conn is one end of an in-memory packet pipe.
type Conn struct {
	in    chan []byte
	out   chan []byte
	ready chan struct{}
	done  chan struct{}
	peer  *Conn
	once  sync.Once
}

func newPair() (a, b *Conn, ready chan struct{}) {
	ready = make(chan struct{})
	ab := make(chan []byte, 8)
	ba := make(chan []byte, 8)
	a = &Conn{in: ba, out: ab, ready: ready, done: make(chan struct{})}
	b = &Conn{in: ab, out: ba, ready: ready, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return
}

// Pipe returns two connected endpoints, already joined.
func Pipe() (*Conn, *Conn) {
	a, b, ready := newPair()
	close(ready)
	return a, b
}

func (c *Conn) ReadPacket(buf []byte) (int, error) {
	// prefer queued packets over a racing close:
	select {
	case p := <-c.in:
		return copy(buf, p), nil
	default:
	}
	select {
	case p := <-c.in:
		return copy(buf, p), nil
	case <-c.done:
		return 0, io.EOF
	case <-c.peer.done:
		select {
		case p := <-c.in:
			return copy(buf, p), nil
		default:
			return 0, io.EOF
		}
	}
}

func (c *Conn) WritePacket(p []byte) error {
	if len(p) > maxPacketSize {
		return ErrPacketTooLarge
	}
	q := make([]byte, len(p))
	copy(q, p)
	select {
	case c.out <- q:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	case <-c.peer.done:
		return io.ErrClosedPipe
	}
}

func (c *Conn) WaitReady() error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

func (c *Conn) MaxPacketSize() int { return maxPacketSize }

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
