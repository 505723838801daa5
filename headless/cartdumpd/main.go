// Command cartdumpd runs the cartridge dumper device. It claims a pin
// backend, opens a packet transport and serves protocol sessions until
// stopped. Configuration is by environment:
//
//	CARTDUMP_TRANSPORT  transport driver name (default "serialport")
//	CARTDUMP_SPEC       driver-specific address, port or pipe name
//	CARTDUMP_BOARD      pin backend, "gpiochip" or "sim" (default "gpiochip")
//	CARTDUMP_GPIODEV    gpio character device (default "/dev/gpiochip0")
//	CARTDUMP_PINS       name=line map for the gpiochip backend
//	CARTDUMP_ROM        image file for the sim backend, empty for an empty slot
//	CARTDUMP_NTP        NTP server for object timestamps, empty disables
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartdump/daemon"
	"cartdump/transport"
	"cartdump/util"
)

// include these transport drivers:
import (
	_ "cartdump/transport/loopback"
	_ "cartdump/transport/serialport"
	_ "cartdump/transport/udpbridge"
	_ "cartdump/transport/wsbridge"
)

var (
	transportName string // transport driver carrying the protocol
	transportSpec string // driver-specific address or port
	boardName     string // pin backend to dump through
	ntpHost       string // time source for object timestamps
)

func orElse(a, b string) string {
	if a == "" {
		return b
	}
	return a
}

// init is called first before all other package inits so it is best to set up log here:
func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)

	logPath, err := util.OpenLogFile("cartdumpd")
	if err != nil {
		log.Printf("could not open a log file: %v\n", err)
		return
	}
	log.Printf("logging to '%s'\n", logPath)
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			util.LogPanic(r)
			os.Exit(2)
		}
	}()
	defer util.FlushLogger()

	// Parse env vars:
	transportName = orElse(os.Getenv("CARTDUMP_TRANSPORT"), "serialport")
	transportSpec = os.Getenv("CARTDUMP_SPEC")
	boardName = orElse(os.Getenv("CARTDUMP_BOARD"), "gpiochip")
	ntpHost = os.Getenv("CARTDUMP_NTP")

	board, health, closeBoard, err := openBoard(boardName)
	if err != nil {
		log.Fatal(err)
	}
	defer closeBoard()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutting down\n")
		cancel()
	}()

	log.Printf("serving on %s transport (spec '%s')\n", transportName, transportSpec)
	for {
		conn, err := transport.Open(transportName, transportSpec)
		if err != nil {
			log.Fatal(err)
		}

		d := daemon.New(conn, board)
		if ntpHost != "" {
			d.EnableNTP(ntpHost)
		}
		if err := d.Run(ctx); err != nil {
			log.Printf("session: %v\n", err)
		}
		if err := health(); err != nil {
			log.Fatalf("pin backend failed: %v", err)
		}

		if ctx.Err() != nil {
			return
		}
		time.Sleep(time.Second)
	}
}
