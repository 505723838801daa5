// Package serialport carries dumper packets over a serial or USB CDC link.
// The link is a byte stream, so each packet rides in a fixed 65-byte frame:
// one length byte followed by 64 payload bytes. A zero length byte frames a
// zero-length packet.
package serialport

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"cartdump/transport"
)

const (
	maxPacketSize = 64
	frameSize     = maxPacketSize + 1
)

var ErrNoDeviceFound = errors.New("serialport: no dumper device found among serial ports")

type Driver struct{}

// DetectDevice scans USB serial ports for the dumper's vendor and product
// id.
func DetectDevice() (portName string, err error) {
	var ports []*enumerator.PortDetails

	portName = ""

	ports, err = enumerator.GetDetailedPortsList()
	if err != nil {
		return
	}

	for _, port := range ports {
		if !port.IsUSB {
			continue
		}

		if port.VID == "6666" && port.PID == "CAFE" {
			portName = port.Name
			err = nil
			return
		}
	}

	return
}

func (d *Driver) Open(name string) (transport.Conn, error) {
	var err error

	portName := name
	if portName == "" || portName == "auto" {
		portName, err = DetectDevice()
		if err != nil {
			return nil, err
		}
	}
	if portName == "" {
		return nil, ErrNoDeviceFound
	}

	f, err := serial.Open(portName, &serial.Mode{
		BaudRate: 9600, // nominal; does not affect USB CDC speed
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: failed to open %s: %w", portName, err)
	}

	if err = f.SetDTR(true); err != nil {
		f.Close()
		return nil, fmt.Errorf("serialport: failed to set DTR: %w", err)
	}

	return &Conn{f: f}, nil
}

type Conn struct {
	f      serial.Port
	rframe [frameSize]byte
	wframe [frameSize]byte
}

func (c *Conn) ReadPacket(buf []byte) (int, error) {
	if err := recvSerial(c.f, c.rframe[:], frameSize); err != nil {
		return 0, err
	}
	return unpackFrame(c.rframe[:], buf)
}

func (c *Conn) WritePacket(p []byte) error {
	if err := packFrame(c.wframe[:], p); err != nil {
		return err
	}
	return sendSerial(c.f, c.wframe[:])
}

func (c *Conn) WaitReady() error { return nil }

func (c *Conn) MaxPacketSize() int { return maxPacketSize }

func (c *Conn) Close() (err error) {
	// Clear DTR (ignore any errors since we're closing):
	c.f.SetDTR(false)

	err = c.f.Close()
	if err != nil {
		return fmt.Errorf("serialport: could not close serial port: %w", err)
	}

	return
}

func packFrame(frame []byte, p []byte) error {
	if len(p) > maxPacketSize {
		return fmt.Errorf("serialport: packet exceeds max packet size: %d", len(p))
	}
	frame[0] = byte(len(p))
	copy(frame[1:], p)
	for i := 1 + len(p); i < frameSize; i++ {
		frame[i] = 0
	}
	return nil
}

func unpackFrame(frame []byte, buf []byte) (int, error) {
	n := int(frame[0])
	if n > maxPacketSize {
		return 0, fmt.Errorf("serialport: bad frame length %d", n)
	}
	if len(buf) < n {
		return 0, fmt.Errorf("serialport: read buffer too small: %d < %d", len(buf), n)
	}
	copy(buf, frame[1:1+n])
	return n, nil
}

func sendSerial(f serial.Port, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, e := f.Write(buf[sent:])
		if e != nil {
			return e
		}
		sent += n
	}
	return nil
}

func recvSerial(f serial.Port, rsp []byte, expected int) error {
	o := 0
	for o < expected {
		n, err := f.Read(rsp[o:expected])
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("recvSerial: Read returned %d", n)
		}
		o += n
	}
	return nil
}

func init() {
	transport.Register("serialport", &Driver{})
}
