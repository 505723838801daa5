package dumper

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigField names one tunable of the NES dump. The set is closed;
// values outside it are rejected at parse time.
type ConfigField uint8

const (
	FieldMapper ConfigField = iota
	FieldPRGSizeExp
	FieldCHRSizeExp
	FieldPRGKB
	FieldCHRKB

	configFieldCount
)

var configFieldNames = [configFieldCount]string{
	FieldMapper:     "mapper",
	FieldPRGSizeExp: "prgsize",
	FieldCHRSizeExp: "chrsize",
	FieldPRGKB:      "prg",
	FieldCHRKB:      "chr",
}

func (f ConfigField) String() string {
	if int(f) < len(configFieldNames) {
		return configFieldNames[f]
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

// Config describes the cartridge the NES sequence expects to find.
// PRGSizeExp and CHRSizeExp are bank-count exponents as the mapper code
// uses them; PRGKB and CHRKB are the image sizes in KiB and feed the
// iNES header and the Setup size.
type Config struct {
	Mapper     uint8
	PRGSizeExp uint8
	CHRSizeExp uint8
	PRGKB      uint16
	CHRKB      uint16
}

// DefaultConfig matches the cartridge the device assumes before any
// config.txt upload: MMC1, 128 KiB PRG, no CHR.
func DefaultConfig() Config {
	return Config{Mapper: 1, PRGSizeExp: 3, CHRSizeExp: 0, PRGKB: 128, CHRKB: 0}
}

// ImageSize returns the byte size of the .nes image this config
// produces, iNES header included.
func (c Config) ImageSize() uint32 {
	return (uint32(c.PRGKB)+uint32(c.CHRKB))*1024 + 16
}

// Apply sets one field. Values arrive already range-checked by
// ParseConfigText; unknown fields are ignored.
func (c *Config) Apply(f ConfigField, v uint32) {
	switch f {
	case FieldMapper:
		c.Mapper = uint8(v)
	case FieldPRGSizeExp:
		c.PRGSizeExp = uint8(v)
	case FieldCHRSizeExp:
		c.CHRSizeExp = uint8(v)
	case FieldPRGKB:
		c.PRGKB = uint16(v)
	case FieldCHRKB:
		c.CHRKB = uint16(v)
	}
}

// Changes expands the config into one ConfigChanged message per field,
// in declaration order.
func (c Config) Changes() []Msg {
	return []Msg{
		{Kind: MsgConfigChanged, Field: FieldMapper, Value: uint32(c.Mapper)},
		{Kind: MsgConfigChanged, Field: FieldPRGSizeExp, Value: uint32(c.PRGSizeExp)},
		{Kind: MsgConfigChanged, Field: FieldCHRSizeExp, Value: uint32(c.CHRSizeExp)},
		{Kind: MsgConfigChanged, Field: FieldPRGKB, Value: uint32(c.PRGKB)},
		{Kind: MsgConfigChanged, Field: FieldCHRKB, Value: uint32(c.CHRKB)},
	}
}

// EncodeConfigText renders the config.txt record: one name=value line
// per field in declaration order, base-10 values, LF line endings.
func EncodeConfigText(c Config) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mapper=%d\n", c.Mapper)
	fmt.Fprintf(&sb, "prgsize=%d\n", c.PRGSizeExp)
	fmt.Fprintf(&sb, "chrsize=%d\n", c.CHRSizeExp)
	fmt.Fprintf(&sb, "prg=%d\n", c.PRGKB)
	fmt.Fprintf(&sb, "chr=%d\n", c.CHRKB)
	return []byte(sb.String())
}

var configFieldBits = [configFieldCount]int{
	FieldMapper:     8,
	FieldPRGSizeExp: 8,
	FieldCHRSizeExp: 8,
	FieldPRGKB:      16,
	FieldCHRKB:      16,
}

// ParseConfigText decodes a config.txt record. Every field must appear
// exactly once (any order); unknown names, malformed integers and
// out-of-range values are errors.
func ParseConfigText(text []byte) (c Config, err error) {
	var seen [configFieldCount]bool
	for lineno, line := range strings.Split(string(text), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}

		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return c, fmt.Errorf("dumper: config line %d: missing '=': %q", lineno+1, line)
		}

		f := configFieldCount
		for i, n := range configFieldNames {
			if name == n {
				f = ConfigField(i)
				break
			}
		}
		if f == configFieldCount {
			return c, fmt.Errorf("dumper: config line %d: unknown field %q", lineno+1, name)
		}
		if seen[f] {
			return c, fmt.Errorf("dumper: config line %d: duplicate field %q", lineno+1, name)
		}
		seen[f] = true

		v, perr := strconv.ParseUint(value, 10, configFieldBits[f])
		if perr != nil {
			return c, fmt.Errorf("dumper: config field %q: %w", name, perr)
		}
		c.Apply(f, uint32(v))
	}

	for i, ok := range seen {
		if !ok {
			return c, fmt.Errorf("dumper: config missing field %q", configFieldNames[i])
		}
	}
	return c, nil
}
