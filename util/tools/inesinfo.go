// Reports what the header of a .nes image claims, and whether the file
// size backs it up. Handy after a dump with a guessed-at config.
package main

import (
	"fmt"
	"log"
	"os"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(0)

	if len(os.Args) != 2 {
		log.Fatal("usage: inesinfo file.nes")
	}
	b, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	if len(b) < 16 || string(b[:4]) != "NES\x1A" {
		log.Fatal("no iNES magic")
	}

	prg := int(b[4]) * 16 * 1024
	chr := int(b[5]) * 8 * 1024
	mapper := b[6]>>4 | b[7]&0xF0

	fmt.Printf("mapper %d\n", mapper)
	fmt.Printf("prg    %d KiB\n", prg/1024)
	fmt.Printf("chr    %d KiB\n", chr/1024)

	want := 16 + prg + chr
	if len(b) == want {
		fmt.Printf("size   %d bytes, matches\n", len(b))
	} else {
		fmt.Printf("size   %d bytes, header wants %d\n", len(b), want)
	}
}
