// internal/regmap/load.go
package regmap

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tamzrod/qmb-monitor/internal/fault"
)

// ---- FILE SHAPE ----
// The file is YAML; the JSON register maps shipped with the device tool are
// valid YAML and load unchanged.

type fileMap struct {
	SlaveID    *int           `yaml:"slave_id"`
	Endianness string         `yaml:"endianness"`
	Probe      string         `yaml:"probe"`
	Registers  []fileRegister `yaml:"registers"`
}

type fileRegister struct {
	Name       string            `yaml:"name"`
	Address    *int              `yaml:"address"`
	Type       string            `yaml:"type"`
	Function   *int              `yaml:"function"`
	Scale      *float64          `yaml:"scale"`
	Access     string            `yaml:"access"`
	Min        *float64          `yaml:"min"`
	Max        *float64          `yaml:"max"`
	Endianness string            `yaml:"endianness"`
	Words      *int              `yaml:"words"`
	Map        map[string]string `yaml:"map"`
}

// Load reads and validates a register map file.
func Load(path string) (*Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &fault.ConfigError{Field: "register_map", Msg: "read " + path, Err: err}
	}
	return Parse(b)
}

// Parse decodes and validates a register map document.
func Parse(b []byte) (*Map, error) {
	var fm fileMap
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return nil, &fault.ConfigError{Msg: "decode register map", Err: err}
	}

	if fm.SlaveID == nil {
		return nil, fault.Configf("slave_id", "required")
	}
	if *fm.SlaveID < 0 || *fm.SlaveID > 247 {
		return nil, fault.Configf("slave_id", "must be 0..247, got %d", *fm.SlaveID)
	}
	if fm.Endianness == "" {
		return nil, fault.Configf("endianness", "required")
	}
	end, err := parseEndianness("endianness", fm.Endianness)
	if err != nil {
		return nil, err
	}

	regs := make([]RegisterSpec, 0, len(fm.Registers))
	for i, fr := range fm.Registers {
		r, err := fr.spec(i, end)
		if err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}

	return New(byte(*fm.SlaveID), end, regs, fm.Probe)
}

// New validates entries and builds an immutable Map. probe names the liveness
// register; empty selects the first entry.
func New(slaveID byte, end Endianness, regs []RegisterSpec, probe string) (*Map, error) {
	if len(regs) == 0 {
		return nil, fault.Configf("registers", "at least one register required")
	}
	if end != Big && end != Little {
		return nil, fault.Configf("endianness", "must be big or little, got %q", end)
	}

	m := &Map{
		SlaveID:    slaveID,
		Endianness: end,
		regs:       make([]RegisterSpec, len(regs)),
		byName:     make(map[string]int, len(regs)),
	}
	copy(m.regs, regs)

	// key = function | address
	owners := make(map[string]string, len(regs))

	for i := range m.regs {
		r := &m.regs[i]
		if err := validateSpec(r, end); err != nil {
			return nil, err
		}

		if prev, dup := m.byName[r.Name]; dup {
			return nil, fault.Configf(r.Name, "duplicate name (entries %d and %d)", prev, i)
		}
		m.byName[r.Name] = i

		// Every register word the entry spans must be unowned.
		for w := uint16(0); w < r.Quantity(); w++ {
			key := fmt.Sprintf("%d|%d", r.Function, uint32(r.Address)+uint32(w))
			if prev, taken := owners[key]; taken {
				return nil, fault.Configf(r.Name, "address %d collides with %q", uint32(r.Address)+uint32(w), prev)
			}
			owners[key] = r.Name
		}
	}

	if probe != "" {
		i, ok := m.byName[probe]
		if !ok {
			return nil, fault.Configf("probe", "unknown register %q", probe)
		}
		m.probe = i
	}

	return m, nil
}

func (fr fileRegister) spec(i int, global Endianness) (RegisterSpec, error) {
	field := fmt.Sprintf("registers[%d]", i)
	if fr.Name == "" {
		return RegisterSpec{}, fault.Configf(field, "name required")
	}
	field = fr.Name

	if fr.Address == nil {
		return RegisterSpec{}, fault.Configf(field, "address required")
	}
	if *fr.Address < 0 || *fr.Address > math.MaxUint16 {
		return RegisterSpec{}, fault.Configf(field, "address %d out of range", *fr.Address)
	}
	if fr.Type == "" {
		return RegisterSpec{}, fault.Configf(field, "type required")
	}

	r := RegisterSpec{
		Name:       fr.Name,
		Address:    uint16(*fr.Address),
		Type:       normalizeType(fr.Type),
		Function:   FuncHolding,
		Scale:      1,
		Access:     RO,
		Min:        fr.Min,
		Max:        fr.Max,
		Endianness: global,
	}

	if fr.Function != nil {
		if *fr.Function != int(FuncHolding) && *fr.Function != int(FuncInput) {
			return RegisterSpec{}, fault.Configf(field, "function must be 3 or 4, got %d", *fr.Function)
		}
		r.Function = uint8(*fr.Function)
	}
	if fr.Scale != nil {
		r.Scale = *fr.Scale
	}
	if fr.Access != "" {
		switch strings.ToLower(fr.Access) {
		case "ro", "r":
			r.Access = RO
		case "rw", "w":
			r.Access = RW
		default:
			return RegisterSpec{}, fault.Configf(field, "access must be ro or rw, got %q", fr.Access)
		}
	} else if r.Function == FuncHolding && (fr.Min != nil || fr.Max != nil) {
		// maps without access fields mark settings by their valid range
		r.Access = RW
	}
	if fr.Endianness != "" {
		e, err := parseEndianness(field+".endianness", fr.Endianness)
		if err != nil {
			return RegisterSpec{}, err
		}
		r.Endianness = e
	}
	if fr.Words != nil {
		if *fr.Words < 1 || *fr.Words > 125 {
			return RegisterSpec{}, fault.Configf(field, "words must be 1..125, got %d", *fr.Words)
		}
		r.Words = uint16(*fr.Words)
	}
	if len(fr.Map) > 0 {
		r.Labels = make(map[uint16]string, len(fr.Map))
		for k, v := range fr.Map {
			code, err := strconv.ParseUint(k, 10, 16)
			if err != nil {
				return RegisterSpec{}, fault.Configf(field, "map key %q is not a 16-bit code", k)
			}
			r.Labels[uint16(code)] = v
		}
	}

	return r, nil
}

// validateSpec checks one entry and fills defaults that New callers may omit.
func validateSpec(r *RegisterSpec, global Endianness) error {
	if r.Name == "" {
		return fault.Configf("registers", "name required")
	}
	switch r.Type {
	case Int16, Uint16, Int32, Uint32, Bool16, Enum16, Bitmask16, ASCII, IP32, MAC48:
	default:
		return fault.Configf(r.Name, "unsupported type %q", r.Type)
	}
	if r.Function == 0 {
		r.Function = FuncHolding
	}
	if r.Function != FuncHolding && r.Function != FuncInput {
		return fault.Configf(r.Name, "function must be 3 or 4, got %d", r.Function)
	}
	if r.Access == "" {
		r.Access = RO
	}
	if r.Access != RO && r.Access != RW {
		return fault.Configf(r.Name, "access must be ro or rw, got %q", r.Access)
	}
	// Input registers cannot be written on the wire.
	if r.Function == FuncInput {
		r.Access = RO
	}
	if r.Endianness == "" {
		r.Endianness = global
	}
	if r.Endianness != Big && r.Endianness != Little {
		return fault.Configf(r.Name, "endianness must be big or little, got %q", r.Endianness)
	}
	if math.IsNaN(r.Scale) || math.IsInf(r.Scale, 0) || r.Scale <= 0 {
		return fault.Configf(r.Name, "scale must be a positive finite number, got %v", r.Scale)
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fault.Configf(r.Name, "min %v greater than max %v", *r.Min, *r.Max)
	}
	if uint32(r.Address)+uint32(r.Quantity()) > math.MaxUint16+1 {
		return fault.Configf(r.Name, "spans past address 65535")
	}
	return nil
}

func parseEndianness(field, s string) (Endianness, error) {
	switch strings.ToLower(s) {
	case "big":
		return Big, nil
	case "little":
		return Little, nil
	}
	return "", fault.Configf(field, "must be big or little, got %q", s)
}

// normalizeType folds aliases used by older maps.
func normalizeType(s string) DataType {
	t := DataType(strings.ToLower(s))
	if t == "command16" {
		return Uint16
	}
	return t
}
