//go:build linux

// Package gpiochip drives the cartridge slot through the Linux GPIO
// character device, using the v2 line uAPI. Every slot line is claimed
// in a single line request; direction changes and pull biases are
// applied through per-line config attributes on that request.
//
// Line offsets are board wiring and come from a PinMap, usually parsed
// from a config string.
package gpiochip

import (
	"bytes"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"cartdump/bus"
)

// ioctl numbers from linux/gpio.h. The encoded sizes pin the struct
// layouts below; a layout drift changes the number and the kernel
// rejects the call.
const (
	getChipInfoIoctl   = 0x8044b401 // _IOR(0xB4, 0x01, gpiochip_info)
	getLineIoctl       = 0xc250b407 // _IOWR(0xB4, 0x07, gpio_v2_line_request)
	lineSetConfigIoctl = 0xc110b40d // _IOWR(0xB4, 0x0D, gpio_v2_line_config)
	lineGetValuesIoctl = 0xc010b40e // _IOWR(0xB4, 0x0E, gpio_v2_line_values)
	lineSetValuesIoctl = 0xc010b40f // _IOWR(0xB4, 0x0F, gpio_v2_line_values)

	flagInput        = 1 << 2
	flagOutput       = 1 << 3
	flagBiasPullUp   = 1 << 8
	flagBiasDisabled = 1 << 10

	attrFlags        = 1
	attrOutputValues = 2
)

// Kernel uAPI v2 layouts. Field order and padding must match
// linux/gpio.h exactly; the layout test asserts the sizes.

type lineAttribute struct {
	ID      uint32
	Padding uint32
	Values  uint64 // union: flags, values or debounce period
}

type lineConfigAttribute struct {
	Attr lineAttribute
	Mask uint64
}

type lineConfig struct {
	Flags    uint64
	NumAttrs uint32
	Padding  [5]uint32
	Attrs    [10]lineConfigAttribute
}

type lineRequest struct {
	Offsets         [64]uint32
	Consumer        [32]byte
	Config          lineConfig
	NumLines        uint32
	EventBufferSize uint32
	Padding         [5]uint32
	Fd              int32
}

type lineValues struct {
	Bits uint64
	Mask uint64
}

type chipInfo struct {
	Name  [32]byte
	Label [32]byte
	Lines uint32
}

// PinMap assigns a chip line offset to every slot line.
type PinMap struct {
	M2, ROMSEL, CHRWR, CHRRD, PRGRW uint32
	CIRAMCE, IRQ                    uint32

	// Addr[0..14] are the CPU address lines; Addr[15] is PPU /A13.
	Addr     [16]uint32
	CIRAMA10 uint32
	Data     [8]uint32

	A15, Reset, CS, WR, RD, Refresh uint32
	Expand                          uint32
	DataSNES                        [7]uint32
	IRQSNES                         uint32
}

func (m *PinMap) fields() map[string]*uint32 {
	f := map[string]*uint32{
		"m2":        &m.M2,
		"romsel":    &m.ROMSEL,
		"chrwr":     &m.CHRWR,
		"chrrd":     &m.CHRRD,
		"prgrw":     &m.PRGRW,
		"ciramce":   &m.CIRAMCE,
		"irq":       &m.IRQ,
		"ppu_a13":   &m.Addr[15],
		"ciram_a10": &m.CIRAMA10,
		"a15":       &m.A15,
		"reset":     &m.Reset,
		"cs":        &m.CS,
		"wr":        &m.WR,
		"rd":        &m.RD,
		"refresh":   &m.Refresh,
		"expand":    &m.Expand,
		"irq_snes":  &m.IRQSNES,
	}
	for i := 0; i < 15; i++ {
		f["a"+strconv.Itoa(i)] = &m.Addr[i]
	}
	for i := range m.Data {
		f["d"+strconv.Itoa(i)] = &m.Data[i]
	}
	for i := range m.DataSNES {
		f["sd"+strconv.Itoa(i)] = &m.DataSNES[i]
	}
	return f
}

// ParsePinMap decodes a comma-separated name=offset pin map. Every pin
// must appear exactly once, and no two pins may share a line.
func ParsePinMap(s string) (PinMap, error) {
	var m PinMap
	fields := m.fields()
	seen := make(map[string]bool, len(fields))
	used := make(map[uint32]string, len(fields))

	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return m, fmt.Errorf("gpiochip: pin map entry %q: missing '='", entry)
		}
		p, ok := fields[name]
		if !ok {
			return m, fmt.Errorf("gpiochip: unknown pin %q", name)
		}
		if seen[name] {
			return m, fmt.Errorf("gpiochip: duplicate pin %q", name)
		}
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return m, fmt.Errorf("gpiochip: pin %q: %w", name, err)
		}
		if prev, dup := used[uint32(v)]; dup {
			return m, fmt.Errorf("gpiochip: pins %s and %s share line %d", prev, name, v)
		}
		seen[name] = true
		used[uint32(v)] = name
		*p = uint32(v)
	}

	if len(seen) != len(fields) {
		missing := make([]string, 0, len(fields))
		for name := range fields {
			if !seen[name] {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		return m, fmt.Errorf("gpiochip: pin map missing %s", strings.Join(missing, ", "))
	}
	return m, nil
}

// Chip is one claimed set of slot lines. Like the board it backs, a
// Chip is owned by exactly one goroutine.
type Chip struct {
	pins  bus.Pins
	lines int

	all    uint64
	output uint64
	pullup uint64
	levels uint64

	err error
}

// Open claims every slot line on the given chip device. Lines start as
// pulled-up inputs; the board drives them to their idle levels as soon
// as it takes over.
func Open(device string, m PinMap) (*Chip, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("gpiochip: open %s: %w", device, err)
	}

	var info chipInfo
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), getChipInfoIoctl, uintptr(unsafe.Pointer(&info))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("gpiochip: %s is not a gpio chip: %w", device, errno)
	}

	c := &Chip{}
	var req lineRequest
	copy(req.Consumer[:], "cartdump")
	req.Config.Flags = flagInput | flagBiasPullUp

	i := 0
	next := func(off uint32) int {
		req.Offsets[i] = off
		i++
		return i - 1
	}
	c.pins = bus.Pins{
		M2:       pin{c, next(m.M2)},
		ROMSEL:   pin{c, next(m.ROMSEL)},
		CHRWR:    pin{c, next(m.CHRWR)},
		CHRRD:    pin{c, next(m.CHRRD)},
		PRGRW:    pin{c, next(m.PRGRW)},
		CIRAMCE:  flexPin{pin{c, next(m.CIRAMCE)}},
		IRQ:      flexPin{pin{c, next(m.IRQ)}},
		CIRAMA10: flexPin{pin{c, next(m.CIRAMA10)}},
		A15:      pin{c, next(m.A15)},
		Reset:    pin{c, next(m.Reset)},
		CS:       pin{c, next(m.CS)},
		WR:       pin{c, next(m.WR)},
		RD:       pin{c, next(m.RD)},
		Refresh:  pin{c, next(m.Refresh)},
		Expand:   flexPin{pin{c, next(m.Expand)}},
		IRQSNES:  flexPin{pin{c, next(m.IRQSNES)}},
	}
	for n := range c.pins.Addr {
		c.pins.Addr[n] = pin{c, next(m.Addr[n])}
	}
	for n := range c.pins.Data {
		c.pins.Data[n] = flexPin{pin{c, next(m.Data[n])}}
	}
	for n := range c.pins.DataSNES {
		c.pins.DataSNES[n] = flexPin{pin{c, next(m.DataSNES[n])}}
	}
	req.NumLines = uint32(i)
	c.all = 1<<i - 1
	c.pullup = c.all

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), getLineIoctl, uintptr(unsafe.Pointer(&req))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("gpiochip: requesting %d lines on %s: %w", req.NumLines, device, errno)
	}
	unix.Close(fd)
	c.lines = int(req.Fd)

	log.Printf("gpiochip: %s (%s): claimed %d of %d lines\n",
		device, cString(info.Label[:]), req.NumLines, info.Lines)
	return c, nil
}

// Pins exposes the claimed lines as board pins.
func (c *Chip) Pins() bus.Pins { return c.pins }

// Err returns the first line operation failure. The pin interfaces
// cannot return errors, so the chip goes quiet after a failure and the
// caller checks Err once the dump is over.
func (c *Chip) Err() error { return c.err }

func (c *Chip) Close() error {
	if c.lines < 0 {
		return nil
	}
	err := unix.Close(c.lines)
	c.lines = -1
	return err
}

func (c *Chip) ioctl(op string, num uintptr, arg unsafe.Pointer) {
	if c.err != nil {
		return
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.lines), num, uintptr(arg)); errno != 0 {
		c.err = fmt.Errorf("gpiochip: %s: %w", op, errno)
		log.Printf("gpiochip: %s: %v\n", op, errno)
	}
}

// applyConfig reconfigures the whole request from the direction and
// bias masks. Output lines come up at their recorded levels.
func (c *Chip) applyConfig() {
	cfg := lineConfig{Flags: flagOutput}
	add := func(id uint32, values, mask uint64) {
		if mask == 0 {
			return
		}
		cfg.Attrs[cfg.NumAttrs] = lineConfigAttribute{
			Attr: lineAttribute{ID: id, Values: values},
			Mask: mask,
		}
		cfg.NumAttrs++
	}
	inputs := c.all &^ c.output
	add(attrFlags, flagInput|flagBiasPullUp, inputs&c.pullup)
	add(attrFlags, flagInput|flagBiasDisabled, inputs&^c.pullup)
	add(attrOutputValues, c.levels, c.output)

	c.ioctl("set line config", lineSetConfigIoctl, unsafe.Pointer(&cfg))
}

func (c *Chip) setLevel(idx int, high bool) {
	if high {
		c.levels |= 1 << idx
	} else {
		c.levels &^= 1 << idx
	}
}

func (c *Chip) flush(mask uint64) {
	v := lineValues{Bits: c.levels & mask, Mask: mask}
	c.ioctl("set line values", lineSetValuesIoctl, unsafe.Pointer(&v))
}

func (c *Chip) get(idx int) bool {
	v := lineValues{Mask: 1 << idx}
	c.ioctl("get line values", lineGetValuesIoctl, unsafe.Pointer(&v))
	return v.Bits&v.Mask != 0
}

func (c *Chip) makeOutput(mask uint64) {
	c.output |= mask
	c.applyConfig()
}

func (c *Chip) makeInput(mask uint64, pull bus.Pull) {
	c.output &^= mask
	if pull == bus.PullUp {
		c.pullup |= mask
	} else {
		c.pullup &^= mask
	}
	c.applyConfig()
}

// pin is a permanently driven line. The first Set switches it to
// output at the requested level.
type pin struct {
	c   *Chip
	idx int
}

func (p pin) Set(high bool) {
	p.c.setLevel(p.idx, high)
	if p.c.output&(1<<p.idx) == 0 {
		p.c.makeOutput(1 << p.idx)
		return
	}
	p.c.flush(1 << p.idx)
}

// flexPin is a direction-switching line. While the line is an input,
// Set only records the level for the next SetOutput.
type flexPin struct {
	pin
}

func (p flexPin) Set(high bool) {
	p.c.setLevel(p.idx, high)
	if p.c.output&(1<<p.idx) != 0 {
		p.c.flush(1 << p.idx)
	}
}

func (p flexPin) Get() bool { return p.c.get(p.idx) }

func (p flexPin) SetInput(pull bus.Pull) { p.c.makeInput(1<<p.idx, pull) }

func (p flexPin) SetOutput() { p.c.makeOutput(1 << p.idx) }

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
