// internal/poller/poller.go
package poller

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/protocol"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
	"github.com/tamzrod/qmb-monitor/internal/sink"
)

// Client abstracts the register reads the poller needs.
// The poller depends on geometry only.
type Client interface {
	ReadRegisters(fn uint8, addr, qty uint16) ([]uint16, error)
}

// Config is the minimal runtime config the poller needs.
type Config struct {
	// Display names the registers read every cycle. Empty means all.
	Display  []string
	Channels []Channel
}

// Poller reads the display set in coalesced blocks.
type Poller struct {
	channels []Channel
	blocks   []ReadBlock
	now      func() time.Time
}

// New validates cfg against m and plans the read blocks.
func New(cfg Config, m *regmap.Map) (*Poller, error) {
	var entries []regmap.RegisterSpec
	if len(cfg.Display) == 0 {
		entries = m.Registers()
	} else {
		seen := make(map[string]bool, len(cfg.Display))
		for _, name := range cfg.Display {
			r, ok := m.ByName(name)
			if !ok {
				return nil, fault.Configf("display", "unknown register %q", name)
			}
			if !seen[name] {
				seen[name] = true
				entries = append(entries, r)
			}
		}
	}

	for _, ch := range cfg.Channels {
		r, ok := m.ByName(ch.Register)
		if !ok {
			return nil, fault.Configf("channels."+string(ch.Name), "unknown register %q", ch.Register)
		}
		if !r.Numeric() {
			return nil, fault.Configf("channels."+string(ch.Name), "register %q is not numeric", ch.Register)
		}
		if !contains(entries, ch.Register) {
			entries = append(entries, r)
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("poller: at least one register required")
	}

	return &Poller{
		channels: cfg.Channels,
		blocks:   Plan(entries),
		now:      time.Now,
	}, nil
}

// Blocks returns the planned read geometry.
func (p *Poller) Blocks() []ReadBlock {
	return append([]ReadBlock(nil), p.blocks...)
}

// Plan groups entries into as few reads as possible: same function,
// back-to-back addresses, at most protocol.MaxReadQuantity words per read.
func Plan(entries []regmap.RegisterSpec) []ReadBlock {
	sorted := append([]regmap.RegisterSpec(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Function != sorted[j].Function {
			return sorted[i].Function < sorted[j].Function
		}
		return sorted[i].Address < sorted[j].Address
	})

	var blocks []ReadBlock
	for _, r := range sorted {
		if n := len(blocks); n > 0 {
			b := &blocks[n-1]
			end := uint32(b.Address) + uint32(b.Quantity)
			if b.FC == r.Function && end == uint32(r.Address) &&
				uint32(b.Quantity)+uint32(r.Quantity()) <= protocol.MaxReadQuantity {
				b.Quantity += r.Quantity()
				b.Entries = append(b.Entries, r)
				continue
			}
		}
		blocks = append(blocks, ReadBlock{
			FC:       r.Function,
			Address:  r.Address,
			Quantity: r.Quantity(),
			Entries:  []regmap.RegisterSpec{r},
		})
	}
	return blocks
}

// PollOnce performs exactly one poll cycle.
//
// Transport failures and malformed responses abort the cycle and nothing is
// committed. A device exception on a multi-entry block is narrowed by reading
// that block's entries one at a time; entries that still fail are recorded in
// Result.Exceptions.
func (p *Poller) PollOnce(c Client) Result {
	res := Result{At: p.now()}

	values := make(map[string]scaledio.Value)
	exceptions := make(map[string]error)

	for _, b := range p.blocks {
		words, err := c.ReadRegisters(b.FC, b.Address, b.Quantity)
		if err == nil {
			if err := decodeBlock(b, words, values); err != nil {
				res.Err = err
				return res
			}
			continue
		}
		if cycleFatal(err) {
			res.Err = err
			return res
		}

		// narrow the exception down to single entries
		for _, r := range b.Entries {
			if len(b.Entries) == 1 {
				exceptions[r.Name] = err
				continue
			}
			w, err := c.ReadRegisters(r.Function, r.Address, r.Quantity())
			if err != nil {
				if cycleFatal(err) {
					res.Err = err
					return res
				}
				exceptions[r.Name] = err
				continue
			}
			v, err := scaledio.Decode(r, w)
			if err != nil {
				res.Err = err
				return res
			}
			values[r.Name] = v
		}
	}

	// Commit only if no read failed the cycle
	res.Values = values
	if len(exceptions) > 0 {
		res.Exceptions = exceptions
	}
	res.Samples = p.samples(res)
	return res
}

func (p *Poller) samples(res Result) []sink.Sample {
	var out []sink.Sample
	for _, ch := range p.channels {
		v, ok := res.Number(ch.Register)
		if !ok {
			continue
		}
		out = append(out, sink.Sample{Channel: ch.Name, At: res.At, Value: v})
	}
	return out
}

func decodeBlock(b ReadBlock, words []uint16, into map[string]scaledio.Value) error {
	if len(words) != int(b.Quantity) {
		return fault.Malformed(b.FC, "block at %d: got %d words, want %d", b.Address, len(words), b.Quantity)
	}
	for _, r := range b.Entries {
		off := r.Address - b.Address
		v, err := scaledio.Decode(r, words[off:off+r.Quantity()])
		if err != nil {
			return fmt.Errorf("decode %s: %w", r.Name, err)
		}
		into[r.Name] = v
	}
	return nil
}

// cycleFatal reports errors that count as a failed poll: anything that is not
// a decoded device exception.
func cycleFatal(err error) bool {
	var pe *fault.ProtocolError
	if !errors.As(err, &pe) {
		return true
	}
	return pe.Kind == fault.MalformedResponse
}

func contains(entries []regmap.RegisterSpec, name string) bool {
	for _, r := range entries {
		if r.Name == name {
			return true
		}
	}
	return false
}
