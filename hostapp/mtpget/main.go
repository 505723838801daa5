// Command mtpget talks to a dumper device from the host side. With no
// argument it lists the device's virtual tree; with a path argument it
// fetches that object into a local file:
//
//	mtpget
//	mtpget -o game.nes NES/rom.nes
//	mtpget -config mmc3.txt NES/rom.nes
//	mtpget -stats SNES/rom.sfc
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aybabtme/uniplot/histogram"

	"cartdump/dumper"
	"cartdump/mtp"
	"cartdump/mtp/mtpclient"
	"cartdump/transport"
)

// include these transport drivers:
import (
	_ "cartdump/transport/loopback"
	_ "cartdump/transport/serialport"
	_ "cartdump/transport/udpbridge"
	_ "cartdump/transport/wsbridge"
)

var (
	transportName = flag.String("transport", "serialport", "transport driver name")
	transportSpec = flag.String("spec", "", "driver-specific port, address or url")
	outPath       = flag.String("o", "", "output file for a fetch (default: the object's filename)")
	configPath    = flag.String("config", "", "push this file to the device as config.txt first")
	stats         = flag.Bool("stats", false, "print a histogram of packet gaps after a fetch")
)

// init is called first before all other package inits so it is best to set up log here:
func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)
}

func main() {
	flag.Parse()
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}

	conn, err := transport.Open(*transportName, *transportSpec)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	c := mtpclient.New(conn)
	if err := c.OpenSession(); err != nil {
		log.Fatal(err)
	}
	defer c.CloseSession()

	di, err := c.DeviceInfo()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("%s %s (%s), serial %s\n", di.Manufacturer, di.Model, di.DeviceVersion, di.SerialNumber)

	if *configPath != "" {
		if err := pushConfig(c, *configPath); err != nil {
			log.Fatal(err)
		}
	}

	ids, err := c.StorageIDs()
	if err != nil {
		log.Fatal(err)
	}

	if flag.NArg() == 0 {
		if err := listTree(c, ids); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := fetch(c, ids[0], flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func pushConfig(c *mtpclient.Client, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// catch a bad file here rather than as a device-side warning
	if _, err := dumper.ParseConfigText(text); err != nil {
		return fmt.Errorf("refusing to push %s: %w", path, err)
	}
	if err := c.WriteConfig(text); err != nil {
		return err
	}
	log.Printf("pushed %s (%d bytes)\n", path, len(text))
	return nil
}

func listTree(c *mtpclient.Client, ids []uint32) error {
	for _, id := range ids {
		fmt.Printf("storage %08X\n", id)
		if err := listDir(c, id, mtp.Wildcard, "  "); err != nil {
			return err
		}
	}
	return nil
}

func listDir(c *mtpclient.Client, storage, parent uint32, indent string) error {
	handles, err := c.ObjectHandles(storage, 0, parent)
	if err != nil {
		return err
	}
	for _, h := range handles {
		oi, err := c.ObjectInfo(h)
		if err != nil {
			return err
		}
		if oi.Format == mtp.FormatFolder {
			fmt.Printf("%s%s/\n", indent, oi.Filename)
			if err := listDir(c, storage, h, indent+"  "); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("%s%-12s %8d  %s\n", indent, oi.Filename, oi.Size, oi.Modified)
	}
	return nil
}

func fetch(c *mtpclient.Client, storage uint32, path string) error {
	handle, oi, err := c.Find(storage, path)
	if err != nil {
		return err
	}

	out := *outPath
	if out == "" {
		out = oi.Filename
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}

	var gaps []float64
	if *stats {
		c.OnPacket = func(n int, gap time.Duration) {
			gaps = append(gaps, float64(gap))
		}
	}

	start := time.Now()
	n, err := c.ReadObject(handle, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%s: %w", out, err)
	}

	elapsed := time.Since(start)
	log.Printf("%s: %d bytes in %v (%.1f KiB/s)\n",
		out, n, elapsed.Round(time.Millisecond), float64(n)/1024/elapsed.Seconds())
	if *stats {
		printGaps(gaps)
	}
	return nil
}

// printGaps renders the time between arriving packets; the shape shows
// whether the link or the cartridge bus paces a fetch.
func printGaps(gaps []float64) {
	if len(gaps) == 0 {
		return
	}
	hist := histogram.Hist(10, gaps)
	err := histogram.Fprintf(os.Stdout, hist, histogram.Linear(40), func(v float64) string {
		return time.Duration(v).Round(time.Microsecond).String()
	})
	if err != nil {
		log.Printf("histogram: %v\n", err)
	}
}
