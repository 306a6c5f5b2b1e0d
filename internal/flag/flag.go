// Package flag defines the per-observation QC outcome enum.
package flag

import "fmt"

// Flag is the enumerated outcome assigned to a single observation point by
// a QC test. Ordinal values are part of the wire contract and must not be
// reordered.
type Flag int

const (
	Pass Flag = iota
	Fail
	Warn
	Inconclusive
	Invalid
	DataMissing
	Isolated
)

var names = [...]string{
	Pass:         "Pass",
	Fail:         "Fail",
	Warn:         "Warn",
	Inconclusive: "Inconclusive",
	Invalid:      "Invalid",
	DataMissing:  "DataMissing",
	Isolated:     "Isolated",
}

func (f Flag) String() string {
	if f < Pass || int(f) >= len(names) {
		return fmt.Sprintf("Flag(%d)", int(f))
	}
	return names[f]
}

// MarshalJSON emits the flag as its wire-stable ordinal, matching spec.md §6.
func (f Flag) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", int(f))), nil
}

// UnmarshalJSON accepts the wire-stable ordinal.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var n int
	if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
		return fmt.Errorf("flag: invalid ordinal %q: %w", data, err)
	}
	if n < int(Pass) || n > int(Isolated) {
		return fmt.Errorf("flag: ordinal %d out of range", n)
	}
	*f = Flag(n)
	return nil
}
