package loopback

import (
	"bytes"
	"io"
	"testing"

	"cartdump/transport"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	if err := a.WritePacket([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := b.ReadPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], []byte{1, 2, 3}) {
		t.Fatalf("got % x", buf[:n])
	}
}

func TestZeroLengthPacket(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	if err := a.WritePacket(nil); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := b.ReadPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("got %d bytes, want a zero-length packet", n)
	}
}

func TestPacketTooLarge(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	if err := a.WritePacket(make([]byte, 65)); err != ErrPacketTooLarge {
		t.Fatalf("got %v", err)
	}
}

func TestDrainThenEOF(t *testing.T) {
	a, b := Pipe()
	defer b.Close()

	if err := a.WritePacket([]byte{9}); err != nil {
		t.Fatal(err)
	}
	a.Close()

	buf := make([]byte, 64)
	n, err := b.ReadPacket(buf)
	if err != nil || n != 1 || buf[0] != 9 {
		t.Fatalf("drain: n=%d err=%v", n, err)
	}
	if _, err = b.ReadPacket(buf); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestDriverRendezvous(t *testing.T) {
	d := &Driver{}

	first, err := d.Open("pair")
	if err != nil {
		t.Fatal(err)
	}

	readyc := make(chan error, 1)
	go func() { readyc <- first.WaitReady() }()

	second, err := d.Open("pair")
	if err != nil {
		t.Fatal(err)
	}
	if err = <-readyc; err != nil {
		t.Fatal(err)
	}
	if err = second.WaitReady(); err != nil {
		t.Fatal(err)
	}

	if err = first.WritePacket([]byte{0xAB}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := second.ReadPacket(buf)
	if err != nil || n != 1 || buf[0] != 0xAB {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestRegistered(t *testing.T) {
	for _, name := range transport.Drivers() {
		if name == "loopback" {
			return
		}
	}
	t.Fatal("loopback driver not registered")
}
