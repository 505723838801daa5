// Package bus drives the cartridge slot lines and provides the byte-level
// read and write primitives the dump engine is built on.
package bus

// Pull selects the bias applied to a line while it is an input.
type Pull int

const (
	PullNone Pull = iota
	PullUp
)

// Pin is a line the board drives.
type Pin interface {
	// Set drives the line high or low.
	Set(high bool)
}

// FlexPin is a line that changes direction at runtime.
//
// While the line is an input, Set only records the drive level; it takes
// effect when SetOutput is called. Callers set the line low before switching
// it to output so it cannot glitch high across the direction change, and
// never sample a line that is in output mode.
type FlexPin interface {
	Pin
	// Get samples the line level.
	Get() bool
	// SetInput releases the line and applies the given bias.
	SetInput(pull Pull)
	// SetOutput drives the line at its recorded level.
	SetOutput()
}
