// internal/poller/poller_test.go
package poller

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/qmb-monitor/internal/config"
	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
	"github.com/tamzrod/qmb-monitor/internal/sink"
)

const testMap = `
slave_id: 1
endianness: big
registers:
  - {name: CH1_Frequency_0p01Hz, address: 0, type: uint32, function: 4, scale: 0.01}
  - {name: CH1_Thickness_A, address: 2, type: int32, function: 4, scale: 0.1}
  - {name: CH2_Thickness_A, address: 4, type: int32, function: 4, scale: 0.1}
  - {name: CH1_MinFreq_Hz, address: 100, type: uint32}
  - {name: CH1_MaxFreq_Hz, address: 102, type: uint32}
  - {name: CH1_Density, address: 110, type: uint16, scale: 0.01, access: rw}
  - {name: CH1_Tooling, address: 111, type: uint16, access: rw}
  - {name: Running, address: 200, type: bool16}
`

func testRegisters(t *testing.T) *regmap.Map {
	t.Helper()
	m, err := regmap.Parse([]byte(testMap))
	require.NoError(t, err)
	return m
}

type read struct {
	fc        uint8
	addr, qty uint16
}

// fakeClient answers from two register banks. Addresses in exc answer with
// an illegal-address exception; fatal, when set, fails every read.
type fakeClient struct {
	holding map[uint16]uint16
	input   map[uint16]uint16
	exc     map[uint16]bool
	fatal   error
	reads   []read
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		holding: map[uint16]uint16{
			100: 0x004C, 101: 0x4B40, // 5 MHz
			102: 0x005B, 103: 0x8D80, // 6 MHz
			110: 1234, 111: 100, 200: 1,
		},
		input: map[uint16]uint16{
			0: 0x0089, 1: 0x5440, // 90000.00 Hz
			2: 0x0000, 3: 0x04D2, // 123.4
			4: 0xFFFF, 5: 0xFFF6, // -1.0
		},
		exc: map[uint16]bool{},
	}
}

func (f *fakeClient) ReadRegisters(fn uint8, addr, qty uint16) ([]uint16, error) {
	f.reads = append(f.reads, read{fn, addr, qty})
	if f.fatal != nil {
		return nil, f.fatal
	}

	bank := f.holding
	if fn == regmap.FuncInput {
		bank = f.input
	}
	out := make([]uint16, qty)
	for i := uint16(0); i < qty; i++ {
		a := addr + i
		if f.exc[a] {
			return nil, &fault.ProtocolError{Kind: fault.IllegalAddress, Function: fn, Exception: 2}
		}
		w, ok := bank[a]
		if !ok {
			return nil, &fault.ProtocolError{Kind: fault.IllegalAddress, Function: fn, Exception: 2}
		}
		out[i] = w
	}
	return out, nil
}

func fixedClock(p *Poller) time.Time {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }
	return at
}

// ---- planning ----

func TestPlan_CoalescesContiguousSameFunction(t *testing.T) {
	m := testRegisters(t)

	blocks := Plan(m.Registers())
	got := make([]string, 0, len(blocks))
	for _, b := range blocks {
		got = append(got, fmt.Sprintf("fc%d@%d+%d/%d", b.FC, b.Address, b.Quantity, len(b.Entries)))
	}

	assert.Equal(t, []string{
		"fc3@100+4/2",
		"fc3@110+2/2",
		"fc3@200+1/1",
		"fc4@0+6/3",
	}, got)
}

func TestPlan_SplitsAtMaxReadQuantity(t *testing.T) {
	var regs []regmap.RegisterSpec
	for i := 0; i < 70; i++ {
		regs = append(regs, regmap.RegisterSpec{
			Name: fmt.Sprintf("R%d", i), Address: uint16(2 * i), Type: regmap.Uint32,
			Function: 3, Scale: 1, Access: regmap.RO, Endianness: regmap.Big,
		})
	}

	blocks := Plan(regs)
	require.Len(t, blocks, 2)
	assert.Equal(t, uint16(124), blocks[0].Quantity)
	assert.Equal(t, uint16(124), blocks[1].Address)
	assert.Equal(t, uint16(16), blocks[1].Quantity)
}

func TestNew_RejectsUnknownOrTextChannels(t *testing.T) {
	m := testRegisters(t)

	_, err := New(Config{Display: []string{"Nope"}}, m)
	var ce *fault.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "display", ce.Field)

	_, err = New(Config{Channels: []Channel{{Name: sink.CH1, Register: "Missing"}}}, m)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "channels.CH1", ce.Field)

	_, err = New(Config{Channels: []Channel{{Name: sink.CH1, Register: "Running"}}}, m)
	require.NoError(t, err, "bool16 is numeric")
}

func TestNew_ChannelRegistersJoinDisplaySet(t *testing.T) {
	m := testRegisters(t)

	p, err := New(Config{
		Display:  []string{"CH1_Density", "CH1_Density"},
		Channels: []Channel{{Name: sink.CH1, Register: "CH1_Thickness_A"}},
	}, m)
	require.NoError(t, err)

	blocks := p.Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, "CH1_Density", blocks[0].Entries[0].Name)
	assert.Equal(t, "CH1_Thickness_A", blocks[1].Entries[0].Name)
}

// ---- polling ----

func TestPollOnce_Success(t *testing.T) {
	m := testRegisters(t)
	p, err := New(Config{Channels: []Channel{
		{Name: sink.CH1, Register: "CH1_Thickness_A"},
		{Name: sink.CH2, Register: "CH2_Thickness_A"},
	}}, m)
	require.NoError(t, err)
	at := fixedClock(p)

	c := newFakeClient()
	res := p.PollOnce(c)
	require.NoError(t, res.Err)

	assert.Len(t, c.reads, 4, "one read per planned block")
	assert.Empty(t, res.Exceptions)

	thk, ok := res.Number("CH1_Thickness_A")
	require.True(t, ok)
	assert.InDelta(t, 123.4, thk, 1e-9)

	assert.InDelta(t, 12.34, res.Values["CH1_Density"].Number, 1e-9)
	assert.Equal(t, "on", res.Values["Running"].Text)

	require.Len(t, res.Samples, 2)
	assert.Equal(t, sink.Sample{Channel: sink.CH1, At: at, Value: thk}, res.Samples[0])
	assert.Equal(t, sink.CH2, res.Samples[1].Channel)
	assert.InDelta(t, -1.0, res.Samples[1].Value, 1e-9)
}

func TestPollOnce_TransportFailureCommitsNothing(t *testing.T) {
	m := testRegisters(t)
	p, err := New(Config{Channels: []Channel{{Name: sink.CH1, Register: "CH1_Thickness_A"}}}, m)
	require.NoError(t, err)

	c := newFakeClient()
	c.fatal = &fault.TransportError{Kind: fault.Timeout, Endpoint: "rtu:COM3"}

	res := p.PollOnce(c)
	assert.True(t, fault.IsTransport(res.Err, fault.Timeout))
	assert.Nil(t, res.Values)
	assert.Nil(t, res.Samples)
	assert.Len(t, c.reads, 1, "cycle aborts at the first failed read")
}

func TestPollOnce_MalformedFailsCycle(t *testing.T) {
	m := testRegisters(t)
	p, err := New(Config{}, m)
	require.NoError(t, err)

	c := newFakeClient()
	c.fatal = fault.Malformed(3, "bad crc")

	res := p.PollOnce(c)
	assert.True(t, fault.IsProtocol(res.Err, fault.MalformedResponse))
	assert.Nil(t, res.Values)
}

func TestPollOnce_ExceptionNarrowedToEntry(t *testing.T) {
	m := testRegisters(t)
	p, err := New(Config{Display: []string{"CH1_Density", "CH1_Tooling"}}, m)
	require.NoError(t, err)

	c := newFakeClient()
	c.exc[111] = true

	res := p.PollOnce(c)
	require.NoError(t, res.Err, "device exceptions do not fail the cycle")

	assert.Equal(t, []read{
		{3, 110, 2},
		{3, 110, 1},
		{3, 111, 1},
	}, c.reads)

	assert.InDelta(t, 12.34, res.Values["CH1_Density"].Number, 1e-9)
	require.Contains(t, res.Exceptions, "CH1_Tooling")
	assert.True(t, fault.IsProtocol(res.Exceptions["CH1_Tooling"], fault.IllegalAddress))
	assert.NotContains(t, res.Values, "CH1_Tooling")
}

func TestPollOnce_SingleEntryExceptionNotRetried(t *testing.T) {
	m := testRegisters(t)
	p, err := New(Config{Display: []string{"Running"}}, m)
	require.NoError(t, err)

	c := newFakeClient()
	c.exc[200] = true

	res := p.PollOnce(c)
	require.NoError(t, res.Err)
	assert.Len(t, c.reads, 1)
	assert.Contains(t, res.Exceptions, "Running")
}

func TestPollOnce_ShortBlockIsMalformed(t *testing.T) {
	m := testRegisters(t)
	p, err := New(Config{Display: []string{"CH1_Density", "CH1_Tooling"}}, m)
	require.NoError(t, err)

	res := p.PollOnce(shortClient{})
	assert.True(t, fault.IsProtocol(res.Err, fault.MalformedResponse))
}

type shortClient struct{}

func (shortClient) ReadRegisters(fn uint8, addr, qty uint16) ([]uint16, error) {
	return make([]uint16, qty-1), nil
}

// ---- derived values ----

func TestCrystalUsage(t *testing.T) {
	m := testRegisters(t)
	p, err := New(Config{}, m)
	require.NoError(t, err)

	c := newFakeClient()
	// 5.9 MHz inside a 5..6 MHz window
	c.input[0], c.input[1] = uint16(590_000_000>>16), uint16(590_000_000&0xFFFF)

	res := p.PollOnce(c)
	require.NoError(t, res.Err)
	assert.InDelta(t, 10.0, CrystalUsage(res, "CH1"), 1e-9)

	assert.Zero(t, CrystalUsage(res, "CH2"), "missing readings")
	assert.Zero(t, CrystalUsage(Result{}, "CH1"))
}

func TestCrystalUsage_Clamped(t *testing.T) {
	res := func(cur, lo, hi float64) Result {
		return Result{Values: map[string]scaledio.Value{
			"CH1_Frequency_0p01Hz": {Number: cur, Numeric: true},
			"CH1_MinFreq_Hz":       {Number: lo, Numeric: true},
			"CH1_MaxFreq_Hz":       {Number: hi, Numeric: true},
		}}
	}

	assert.Equal(t, 100.0, CrystalUsage(res(4.0e6, 5e6, 6e6), "CH1"))
	assert.Equal(t, 0.0, CrystalUsage(res(6.5e6, 5e6, 6e6), "CH1"))
	assert.Equal(t, 0.0, CrystalUsage(res(5.5e6, 6e6, 6e6), "CH1"), "empty window")
}

// ---- config mapping ----

func TestBuild_FromConfig(t *testing.T) {
	m := testRegisters(t)

	cfg := &config.Config{
		Display:  []string{"CH1_Density"},
		Channels: config.ChannelsConfig{CH1: "CH1_Thickness_A", CH2: "CH2_Thickness_A"},
	}
	p, err := Build(cfg, m)
	require.NoError(t, err)
	assert.Equal(t, []Channel{
		{Name: sink.CH1, Register: "CH1_Thickness_A"},
		{Name: sink.CH2, Register: "CH2_Thickness_A"},
	}, p.channels)

	cfg.Channels.CH2 = "Absent"
	_, err = Build(cfg, m)
	var ce *fault.ConfigError
	assert.True(t, errors.As(err, &ce))
}
