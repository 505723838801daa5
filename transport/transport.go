// Package transport abstracts the packet link between the dumper device and
// its host.
package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Conn is a packet-level link. Packets, not streams: each read returns at
// most one packet and each write sends exactly one.
//
// The following constraints must be followed when using a Conn directly:
//
//   - ReadPacket must be called with a buffer large enough to hold
//     MaxPacketSize bytes.
//   - WritePacket must not be called with a buffer larger than
//     MaxPacketSize bytes.
//   - A block whose total length is an exact multiple of MaxPacketSize is
//     not complete until a shorter packet follows it. A zero-length packet
//     is sent when there is no further data to close the block with.
type Conn interface {
	// ReadPacket reads a single packet into buf and returns its length.
	// Zero with a nil error is a zero-length packet.
	ReadPacket(buf []byte) (int, error)

	// WritePacket sends a single packet. An empty slice sends a
	// zero-length packet.
	WritePacket(p []byte) error

	// WaitReady blocks until the host side has enabled the interface.
	WaitReady() error

	// MaxPacketSize returns the fixed packet size of the link.
	MaxPacketSize() int

	// Close closes the link.
	Close() error
}

type Driver interface {
	Open(spec string) (Conn, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a transport driver available by the provided name.
// If Register is called twice with the same name or if driver is nil,
// it panics.
func Register(name string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if driver == nil {
		panic("transport: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("transport: Register called twice for driver " + name)
	}
	drivers[name] = driver
}

func unregisterAllDrivers() {
	driversMu.Lock()
	defer driversMu.Unlock()
	// For tests.
	drivers = make(map[string]Driver)
}

// Drivers returns a sorted list of the names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// Open opens a link via the named driver. The spec string is
// driver-specific: a port name, a listen address, or a pipe name.
func Open(driverName, spec string) (Conn, error) {
	driversMu.RLock()
	driveri, ok := drivers[driverName]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: unknown driver %q (forgotten import?)", driverName)
	}

	return driveri.Open(spec)
}
