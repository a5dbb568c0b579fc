// internal/scaledio/service.go
package scaledio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
)

// Registers is the register-level I/O the service needs.
// *protocol.Codec satisfies it.
type Registers interface {
	ReadRegisters(fn uint8, addr, qty uint16) ([]uint16, error)
	WriteRegister(addr, value uint16) error
	WriteRegisters(addr uint16, values []uint16) error
}

// WriteRequest asks for one engineering-unit write. Label, when set, selects
// an enum16 code by name and Value is ignored.
type WriteRequest struct {
	Register string
	Value    float64
	Label    string
}

func (w WriteRequest) String() string {
	if w.Label != "" {
		return w.Register + "=" + w.Label
	}
	return w.Register + "=" + strconv.FormatFloat(w.Value, 'g', -1, 64)
}

// Value is one decoded register. Numeric entries set Number; text-capable
// entries set Text. Enum16 and bool16 set both.
type Value struct {
	Number  float64
	Text    string
	Numeric bool
}

func (v Value) String() string {
	if v.Text != "" {
		return v.Text
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// Service performs scaled reads and validated writes against one register map.
type Service struct {
	m  *regmap.Map
	io Registers
}

// New binds a register map to register I/O.
func New(m *regmap.Map, io Registers) *Service {
	return &Service{m: m, io: io}
}

// Map returns the bound register map.
func (s *Service) Map() *regmap.Map { return s.m }

// ReadScaled reads one numeric entry and returns raw * scale.
func (s *Service) ReadScaled(name string) (float64, error) {
	r, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	if !r.Numeric() {
		return 0, fmt.Errorf("scaledio: %s is %s, not numeric", name, r.Type)
	}

	words, err := s.read(r)
	if err != nil {
		return 0, err
	}
	return FromRaw(r, words)
}

// ReadValue reads any entry, numeric or text.
func (s *Service) ReadValue(name string) (Value, error) {
	r, err := s.lookup(name)
	if err != nil {
		return Value{}, err
	}

	words, err := s.read(r)
	if err != nil {
		return Value{}, err
	}
	return Decode(r, words)
}

// Decode turns words already read from the device into a Value.
func Decode(r regmap.RegisterSpec, words []uint16) (Value, error) {
	var v Value

	if r.Numeric() {
		n, err := FromRaw(r, words)
		if err != nil {
			return Value{}, err
		}
		v.Number, v.Numeric = n, true
	}

	switch r.Type {
	case regmap.ASCII, regmap.IP32, regmap.MAC48, regmap.Enum16, regmap.Bool16, regmap.Bitmask16:
		t, err := Text(r, words)
		if err != nil {
			return Value{}, err
		}
		v.Text = t
	}
	return v, nil
}

// WriteScaled validates req and issues exactly one write: FC6 for 16-bit
// entries, FC16 for 32-bit entries. Validation failures never reach the
// transport and no write is retried.
func (s *Service) WriteScaled(req WriteRequest) error {
	r, words, err := Prepare(s.m, req)
	if err != nil {
		return err
	}
	if len(words) == 1 {
		return s.io.WriteRegister(r.Address, words[0])
	}
	return s.io.WriteRegisters(r.Address, words)
}

// Prepare validates req against m and returns the target entry and the
// device words to write. It performs no I/O.
func Prepare(m *regmap.Map, req WriteRequest) (regmap.RegisterSpec, []uint16, error) {
	r, ok := m.ByName(req.Register)
	if !ok {
		return r, nil, &fault.ValidationError{Kind: fault.UnknownRegister, Register: req.Register}
	}
	if !r.Writable() {
		return r, nil, &fault.ValidationError{Kind: fault.ReadOnly, Register: r.Name, Value: req.Value}
	}

	if r.Type == regmap.Bool16 {
		return prepareFlag(r, req)
	}

	value := req.Value
	if req.Label != "" {
		if r.Type != regmap.Enum16 {
			return r, nil, &fault.ValidationError{Kind: fault.OutOfRange, Register: r.Name, Msg: "labels apply to enum16 and bool16 entries only"}
		}
		code, ok := r.LabelCode(req.Label)
		if !ok {
			return r, nil, &fault.ValidationError{Kind: fault.OutOfRange, Register: r.Name, Msg: fmt.Sprintf("unknown label %q", req.Label)}
		}
		value = float64(code) * r.Scale
	}

	raw, err := ToRaw(r, value)
	if err != nil {
		return r, nil, err
	}
	return r, ToWords(r, raw), nil
}

// prepareFlag accepts 0/1 or an on/off label for bool16 entries.
func prepareFlag(r regmap.RegisterSpec, req WriteRequest) (regmap.RegisterSpec, []uint16, error) {
	if req.Label != "" {
		on, ok := flagLabels[strings.ToLower(req.Label)]
		if !ok {
			return r, nil, &fault.ValidationError{Kind: fault.OutOfRange, Register: r.Name, Msg: fmt.Sprintf("unknown label %q, want on or off", req.Label)}
		}
		if on {
			return r, []uint16{1}, nil
		}
		return r, []uint16{0}, nil
	}

	switch req.Value {
	case 0:
		return r, []uint16{0}, nil
	case 1:
		return r, []uint16{1}, nil
	}
	return r, nil, &fault.ValidationError{Kind: fault.OutOfRange, Register: r.Name, Value: req.Value, Msg: "flag takes 0 or 1"}
}

var flagLabels = map[string]bool{
	"on": true, "true": true, "yes": true,
	"off": false, "false": false, "no": false,
}

func (s *Service) lookup(name string) (regmap.RegisterSpec, error) {
	r, ok := s.m.ByName(name)
	if !ok {
		return regmap.RegisterSpec{}, &fault.ValidationError{Kind: fault.UnknownRegister, Register: name}
	}
	return r, nil
}

func (s *Service) read(r regmap.RegisterSpec) ([]uint16, error) {
	words, err := s.io.ReadRegisters(r.Function, r.Address, r.Quantity())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.Name, err)
	}
	return words, nil
}
