package udpbridge

import (
	"bytes"
	"net"
	"testing"
)

func TestBridgeRoundTrip(t *testing.T) {
	dev, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	readyc := make(chan error, 1)
	go func() { readyc <- dev.WaitReady() }()

	host, err := dial(dev.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer host.Close()

	// the first host packet latches the peer and must not be lost:
	if err = host.WritePacket([]byte{0x10, 0x01}); err != nil {
		t.Fatal(err)
	}
	if err = <-readyc; err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := dev.ReadPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], []byte{0x10, 0x01}) {
		t.Fatalf("got % x", buf[:n])
	}

	// device to host, including a zero-length packet:
	if err = dev.WritePacket(bytes.Repeat([]byte{0xAA}, 64)); err != nil {
		t.Fatal(err)
	}
	if err = dev.WritePacket(nil); err != nil {
		t.Fatal(err)
	}
	n, err = host.ReadPacket(buf)
	if err != nil || n != 64 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	n, err = host.ReadPacket(buf)
	if err != nil || n != 0 {
		t.Fatalf("zero-length packet: n=%d err=%v", n, err)
	}
}

func TestReadBeforeReady(t *testing.T) {
	dev, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	if _, err = dev.ReadPacket(make([]byte, 64)); err != ErrNotReady {
		t.Fatalf("got %v", err)
	}
	if err = dev.WritePacket([]byte{1}); err != ErrNotReady {
		t.Fatalf("got %v", err)
	}
}

func TestStrayHostsIgnored(t *testing.T) {
	dev, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	readyc := make(chan error, 1)
	go func() { readyc <- dev.WaitReady() }()

	host, err := dial(dev.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer host.Close()
	if err = host.WritePacket([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err = <-readyc; err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	if _, err = dev.ReadPacket(buf); err != nil {
		t.Fatal(err)
	}

	// a second sender must not hijack the latched session:
	stray, err := net.Dial("udp", dev.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer stray.Close()
	if _, err = stray.Write([]byte("stray")); err != nil {
		t.Fatal(err)
	}
	if err = host.WritePacket([]byte("real")); err != nil {
		t.Fatal(err)
	}

	n, err := dev.ReadPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], []byte("real")) {
		t.Fatalf("got %q", buf[:n])
	}
}
