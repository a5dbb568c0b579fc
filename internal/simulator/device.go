// internal/simulator/device.go
package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
)

// Channel register names the simulation drives.
const (
	suffixThickness = "_Thickness_A"
	suffixRate      = "_Rate_A_per_s"
	suffixFrequency = "_Frequency_0p01Hz"
)

var channels = []string{"CH1", "CH2"}

// Options tune a simulated instrument.
type Options struct {
	// UnitID answered; zero uses the map's slave id.
	UnitID uint8

	// Rate is the deposition rate in Å/s used when the map has no
	// <CH>_Rate_A_per_s entry or it reads zero.
	Rate float64

	// HzPerAngstrom is the crystal frequency drop per Å deposited.
	HzPerAngstrom float64
}

const (
	DefaultRate          = 1.5
	DefaultHzPerAngstrom = 0.25
	startFrequencyHz     = 5_980_000
)

// Device is a QMB6 register bank built from a register map. It implements
// modbus.RequestHandler; handler methods run on one goroutine per client.
type Device struct {
	m    *regmap.Map
	opts Options

	mu      sync.Mutex
	holding map[uint16]uint16
	input   map[uint16]uint16
	thick   map[string]float64
	writes  int
}

// New builds a device with every mapped register present and zeroed, then
// seeds the channel frequencies. Use Set to preload values.
func New(m *regmap.Map, opts Options) *Device {
	if opts.UnitID == 0 {
		opts.UnitID = m.SlaveID
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.HzPerAngstrom <= 0 {
		opts.HzPerAngstrom = DefaultHzPerAngstrom
	}

	d := &Device{
		m:       m,
		opts:    opts,
		holding: make(map[uint16]uint16),
		input:   make(map[uint16]uint16),
		thick:   make(map[string]float64),
	}
	for _, r := range m.Registers() {
		bank := d.bank(r.Function)
		for w := uint16(0); w < r.Quantity(); w++ {
			bank[r.Address+w] = 0
		}
	}
	for _, ch := range channels {
		if r, ok := m.ByName(ch + suffixFrequency); ok && r.Numeric() {
			_ = d.store(r, startFrequencyHz)
		}
	}
	return d
}

func (d *Device) bank(fn uint8) map[uint16]uint16 {
	if fn == regmap.FuncInput {
		return d.input
	}
	return d.holding
}

// Set stores an engineering value into a numeric register, bypassing
// access mode. Range and width are still enforced.
func (d *Device) Set(name string, v float64) error {
	r, ok := d.m.ByName(name)
	if !ok {
		return &fault.ValidationError{Kind: fault.UnknownRegister, Register: name}
	}
	if !r.Numeric() {
		return fmt.Errorf("simulator: %s is %s, not numeric", name, r.Type)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.store(r, v); err != nil {
		return err
	}
	if ch, ok := channelOf(name, suffixThickness); ok {
		d.thick[ch] = v
	}
	return nil
}

// SetText stores an ascii register, NUL padded.
func (d *Device) SetText(name, s string) error {
	r, ok := d.m.ByName(name)
	if !ok {
		return &fault.ValidationError{Kind: fault.UnknownRegister, Register: name}
	}
	if r.Type != regmap.ASCII {
		return fmt.Errorf("simulator: %s is %s, not ascii", name, r.Type)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	bank := d.bank(r.Function)
	for w := uint16(0); w < r.Quantity(); w++ {
		var hi, lo byte
		if i := int(2 * w); i < len(s) {
			hi = s[i]
		}
		if i := int(2*w + 1); i < len(s) {
			lo = s[i]
		}
		bank[r.Address+w] = uint16(hi)<<8 | uint16(lo)
	}
	return nil
}

// Value decodes the current content of a register.
func (d *Device) Value(name string) (scaledio.Value, error) {
	r, ok := d.m.ByName(name)
	if !ok {
		return scaledio.Value{}, &fault.ValidationError{Kind: fault.UnknownRegister, Register: name}
	}

	d.mu.Lock()
	words := d.words(r)
	d.mu.Unlock()
	return scaledio.Decode(r, words)
}

// Writes counts accepted write requests.
func (d *Device) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// Tick advances the deposition by dt on every channel that has a
// thickness register.
func (d *Device) Tick(dt time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	secs := dt.Seconds()
	for _, ch := range channels {
		thick, ok := d.m.ByName(ch + suffixThickness)
		if !ok {
			continue
		}

		rate := d.opts.Rate
		if r, ok := d.m.ByName(ch + suffixRate); ok && r.Numeric() {
			if v, err := scaledio.FromRaw(r, d.words(r)); err == nil && v > 0 {
				rate = v
			} else {
				_ = d.store(r, rate)
			}
		}

		delta := rate * secs
		d.thick[ch] += delta
		// values past the register bounds are not stored
		_ = d.store(thick, d.thick[ch])

		if f, ok := d.m.ByName(ch + suffixFrequency); ok && f.Numeric() {
			if cur, err := scaledio.FromRaw(f, d.words(f)); err == nil {
				_ = d.store(f, cur-delta*d.opts.HzPerAngstrom)
			}
		}
	}
}

// Run ticks every interval until ctx ends.
func (d *Device) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Tick(now.Sub(last))
			last = now
		}
	}
}

// words and store expect d.mu held.
func (d *Device) words(r regmap.RegisterSpec) []uint16 {
	bank := d.bank(r.Function)
	out := make([]uint16, r.Quantity())
	for i := range out {
		out[i] = bank[r.Address+uint16(i)]
	}
	return out
}

func (d *Device) store(r regmap.RegisterSpec, v float64) error {
	raw, err := scaledio.ToRaw(r, v)
	if err != nil {
		return err
	}
	bank := d.bank(r.Function)
	for i, w := range scaledio.ToWords(r, raw) {
		bank[r.Address+uint16(i)] = w
	}
	return nil
}

func channelOf(name, suffix string) (string, bool) {
	for _, ch := range channels {
		if name == ch+suffix {
			return ch, true
		}
	}
	return "", false
}

// ---- modbus.RequestHandler ----

func (d *Device) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.UnitId != d.opts.UnitID {
		return nil, modbus.ErrGWTargetFailedToRespond
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !req.IsWrite {
		return read(d.holding, req.Addr, req.Quantity)
	}
	return nil, d.write(req.Addr, req.Args)
}

func (d *Device) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	if req.UnitId != d.opts.UnitID {
		return nil, modbus.ErrGWTargetFailedToRespond
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return read(d.input, req.Addr, req.Quantity)
}

func (d *Device) HandleCoils(*modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (d *Device) HandleDiscreteInputs(*modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func read(bank map[uint16]uint16, addr, qty uint16) ([]uint16, error) {
	out := make([]uint16, qty)
	for i := range out {
		w, ok := bank[addr+uint16(i)]
		if !ok {
			return nil, modbus.ErrIllegalDataAddress
		}
		out[i] = w
	}
	return out, nil
}

// write applies args at addr only if every word belongs to a writable
// holding register and every fully covered register stays in range.
func (d *Device) write(addr uint16, args []uint16) error {
	staged := make(map[uint16]uint16, len(args))
	touched := make(map[string]regmap.RegisterSpec)

	for i, v := range args {
		a := addr + uint16(i)
		r, ok := d.owner(a)
		if !ok || !r.Writable() {
			return modbus.ErrIllegalDataAddress
		}
		staged[a] = v
		touched[r.Name] = r
	}

	for _, r := range touched {
		words := d.words(r)
		for i := range words {
			if v, ok := staged[r.Address+uint16(i)]; ok {
				words[i] = v
			}
		}
		if r.Type == regmap.Bool16 && words[0] > 1 {
			return modbus.ErrIllegalDataValue
		}
		if r.Numeric() && r.HasRange() {
			v, err := scaledio.FromRaw(r, words)
			if err != nil || !r.InRange(v) {
				return modbus.ErrIllegalDataValue
			}
		}
	}

	for a, v := range staged {
		d.holding[a] = v
	}
	for name := range touched {
		if ch, ok := channelOf(name, suffixThickness); ok {
			r := touched[name]
			if v, err := scaledio.FromRaw(r, d.words(r)); err == nil {
				d.thick[ch] = v
			}
		}
	}
	d.writes++
	return nil
}

// owner finds the holding register entry covering addr.
func (d *Device) owner(addr uint16) (regmap.RegisterSpec, bool) {
	for _, r := range d.m.Registers() {
		if r.Function != regmap.FuncHolding {
			continue
		}
		if addr >= r.Address && uint32(addr) < uint32(r.Address)+uint32(r.Quantity()) {
			return r, true
		}
	}
	return regmap.RegisterSpec{}, false
}
