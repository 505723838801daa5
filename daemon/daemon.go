// Package daemon wires one complete dumper device: the dump engine on
// its board, the protocol session on its transport link, and the clock
// that stamps the virtual files.
//
// Every channel and buffer is created here and handed to exactly one
// goroutine. The engine owns the board, the session owns the link, and
// the two talk only through their message channels.
package daemon

import (
	"context"
	"log"

	"cartdump/bus"
	"cartdump/dumper"
	"cartdump/mtp"
	"cartdump/transport"
)

// Daemon is one device instance.
type Daemon struct {
	conn    transport.Conn
	board   *bus.Board
	ident   mtp.DeviceIdentity
	clock   *Clock
	ntpHost string
}

// New assembles a device on the given link and board. The boot
// fingerprint of whatever cartridge is inserted becomes the device
// serial number, so hosts can tell carts apart before reading them.
func New(conn transport.Conn, board *bus.Board) *Daemon {
	d := &Daemon{
		conn:  conn,
		board: board,
		ident: mtp.DefaultIdentity(),
		clock: &Clock{},
	}
	fp := dumper.ReadFingerprint(board)
	d.ident.SerialNumber = fp.String()
	log.Printf("daemon: cartridge fingerprint %s\n", fp)
	return d
}

// EnableNTP turns on the background clock refresh against host.
func (d *Daemon) EnableNTP(host string) { d.ntpHost = host }

// Clock returns the daemon's wall clock.
func (d *Daemon) Clock() *Clock { return d.clock }

// Run serves one device session until the link fails or ctx ends. The
// link is closed by the time Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.ntpHost != "" {
		go d.clock.RefreshLoop(ctx, d.ntpHost)
	}
	go func() {
		// a cancelled context closes the link out from under Serve
		<-ctx.Done()
		d.conn.Close()
	}()

	to := make(chan dumper.Msg, 1)
	from := make(chan dumper.Msg, 1)
	eng := dumper.NewEngine(d.board, to, from)
	engDone := make(chan error, 1)
	go func() { engDone <- eng.Run() }()

	srv := mtp.NewServer(d.conn, to, from)
	srv.Identity = d.ident
	srv.Now = d.clock.Now
	err := srv.Serve()

	// let a dump in flight run out, then stop the engine
	close(to)
	for range from {
	}
	if engErr := <-engDone; engErr != nil {
		log.Printf("daemon: engine stopped: %v\n", engErr)
		if err == nil {
			err = engErr
		}
	}
	return err
}
