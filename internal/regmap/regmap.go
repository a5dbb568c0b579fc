// internal/regmap/regmap.go
package regmap

import (
	"math"
	"sort"
	"strings"
)

// DataType is the on-device encoding of one register entry.
type DataType string

const (
	Int16  DataType = "int16"
	Uint16 DataType = "uint16"
	Int32  DataType = "int32"
	Uint32 DataType = "uint32"

	// Numeric 16-bit codes rendered through a label map or as flags.
	Bool16    DataType = "bool16"
	Enum16    DataType = "enum16"
	Bitmask16 DataType = "bitmask16"

	// Text renderings, read-only.
	ASCII DataType = "ascii"
	IP32  DataType = "ip32"
	MAC48 DataType = "mac48"
)

// Access is the register access mode.
type Access string

const (
	RO Access = "ro"
	RW Access = "rw"
)

// Endianness is the word order of multi-word values.
type Endianness string

const (
	Big    Endianness = "big"
	Little Endianness = "little"
)

// Function codes a register can be read with.
const (
	FuncHolding uint8 = 3
	FuncInput   uint8 = 4
)

// RegisterSpec describes one addressable register entry.
type RegisterSpec struct {
	Name       string
	Address    uint16
	Type       DataType
	Function   uint8
	Scale      float64
	Access     Access
	Min        *float64
	Max        *float64
	Endianness Endianness

	// Words is the text length in registers (ascii only).
	Words uint16

	// Labels maps raw codes (enum16) or bit masks (bitmask16) to names.
	Labels map[uint16]string
}

// Quantity is the number of 16-bit registers the entry spans.
func (r RegisterSpec) Quantity() uint16 {
	switch r.Type {
	case Int32, Uint32, IP32:
		return 2
	case MAC48:
		return 3
	case ASCII:
		if r.Words == 0 {
			return 1
		}
		return r.Words
	}
	return 1
}

// Numeric reports whether the entry scales to an engineering value.
func (r RegisterSpec) Numeric() bool {
	switch r.Type {
	case ASCII, IP32, MAC48:
		return false
	}
	return true
}

// Signed reports whether raw values are two's complement.
func (r RegisterSpec) Signed() bool {
	return r.Type == Int16 || r.Type == Int32
}

// Writable reports whether the entry accepts writes.
func (r RegisterSpec) Writable() bool {
	return r.Access == RW && r.Numeric() && r.Function == FuncHolding
}

// HasRange reports whether a valid range is declared.
func (r RegisterSpec) HasRange() bool {
	return r.Min != nil || r.Max != nil
}

// InRange checks v against the declared range (inclusive).
// Entries without a range accept everything.
func (r RegisterSpec) InRange(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// RawBounds is the integer range the register width can hold.
func (r RegisterSpec) RawBounds() (lo, hi int64) {
	switch r.Type {
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Uint32:
		return 0, math.MaxUint32
	}
	return 0, math.MaxUint16
}

// LabelCode resolves an enum label back to its raw code.
func (r RegisterSpec) LabelCode(label string) (uint16, bool) {
	for code, l := range r.Labels {
		if strings.EqualFold(l, label) {
			return code, true
		}
	}
	return 0, false
}

// Map is the immutable register map. The zero value is not usable; build one
// with Load or Parse.
type Map struct {
	SlaveID    byte
	Endianness Endianness

	regs   []RegisterSpec
	byName map[string]int
	probe  int
}

// Registers returns a copy of all entries in file order.
func (m *Map) Registers() []RegisterSpec {
	out := make([]RegisterSpec, len(m.regs))
	copy(out, m.regs)
	return out
}

// Len is the number of entries.
func (m *Map) Len() int { return len(m.regs) }

// ByName looks up an entry.
func (m *Map) ByName(name string) (RegisterSpec, bool) {
	i, ok := m.byName[name]
	if !ok {
		return RegisterSpec{}, false
	}
	return m.regs[i], true
}

// Probe is the entry read during discovery to test liveness.
func (m *Map) Probe() RegisterSpec {
	return m.regs[m.probe]
}

// Names returns entry names in file order.
func (m *Map) Names() []string {
	out := make([]string, 0, len(m.regs))
	for _, r := range m.regs {
		out = append(out, r.Name)
	}
	return out
}

// Writable returns the names of RW entries, sorted.
func (m *Map) Writable() []string {
	var out []string
	for _, r := range m.regs {
		if r.Writable() {
			out = append(out, r.Name)
		}
	}
	sort.Strings(out)
	return out
}
