// internal/regmap/load_test.go
package regmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/qmb-monitor/internal/fault"
)

const sampleJSON = `{
  "slave_id": 1,
  "endianness": "big",
  "registers": [
    {"name": "CH1_Frequency_0p01Hz", "address": 0, "type": "uint32", "function": 4, "scale": 0.01},
    {"name": "CH1_Thickness_A", "address": 2, "type": "int32", "function": 4, "scale": 0.1},
    {"name": "CH1_Density", "address": 100, "type": "uint16", "scale": 0.01, "access": "rw", "min": 0.5, "max": 99.99},
    {"name": "CH1_OscillatorSelect", "address": 101, "type": "enum16", "access": "rw", "map": {"0": "internal", "1": "external"}},
    {"name": "DeviceName", "address": 200, "type": "ascii", "words": 8}
  ]
}`

func TestParse_JSONDocument(t *testing.T) {
	m, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, byte(1), m.SlaveID)
	assert.Equal(t, Big, m.Endianness)
	assert.Equal(t, 5, m.Len())
	assert.Equal(t, "CH1_Frequency_0p01Hz", m.Probe().Name)

	d, ok := m.ByName("CH1_Density")
	require.True(t, ok)
	assert.Equal(t, RW, d.Access)
	assert.True(t, d.Writable())
	assert.Equal(t, uint8(3), d.Function)
	assert.InDelta(t, 0.01, d.Scale, 1e-12)

	osc, _ := m.ByName("CH1_OscillatorSelect")
	code, ok := osc.LabelCode("External")
	require.True(t, ok)
	assert.Equal(t, uint16(1), code)

	name, _ := m.ByName("DeviceName")
	assert.Equal(t, uint16(8), name.Quantity())
	assert.False(t, name.Numeric())

	assert.Equal(t, []string{"CH1_Density", "CH1_OscillatorSelect"}, m.Writable())
}

func TestParse_YAMLWithProbeAndOverrides(t *testing.T) {
	doc := `
slave_id: 7
endianness: little
probe: status
registers:
  - {name: counter, address: 10, type: uint32, endianness: big}
  - {name: status, address: 12, type: uint16, function: 4, access: rw}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "status", m.Probe().Name)

	c, _ := m.ByName("counter")
	assert.Equal(t, Big, c.Endianness)
	assert.InDelta(t, 1.0, c.Scale, 0)

	// Input registers are forced read-only.
	s, _ := m.ByName("status")
	assert.Equal(t, RO, s.Access)
	assert.False(t, s.Writable())
}

func TestParse_AccessDefaultsFromRange(t *testing.T) {
	doc := `{
  "slave_id": 1,
  "endianness": "big",
  "registers": [
    {"name": "CH1_Window_ms", "address": 101, "type": "uint16", "min": 10, "max": 1000},
    {"name": "CH1_ZFactor", "address": 102, "type": "uint16", "scale": 0.001, "max": 10},
    {"name": "CH1_Locked", "address": 103, "type": "uint16", "min": 0, "max": 1, "access": "ro"},
    {"name": "FirmwareVersion", "address": 213, "type": "uint16"},
    {"name": "CH1_Rate_A_per_s", "address": 4, "type": "int16", "function": 4, "min": -100, "max": 100}
  ]
}`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"CH1_Window_ms", "CH1_ZFactor"}, m.Writable())
}

func TestParse_Bitmask16(t *testing.T) {
	doc := `{"slave_id":1,"endianness":"big","registers":[
    {"name":"CH1_Alarms","address":20,"type":"bitmask16","map":{"1":"low","2":"high"}}]}`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)

	r, ok := m.ByName("CH1_Alarms")
	require.True(t, ok)
	assert.Equal(t, Bitmask16, r.Type)
	assert.Equal(t, uint16(1), r.Quantity())
	assert.True(t, r.Numeric())
	assert.Equal(t, map[uint16]string{1: "low", 2: "high"}, r.Labels)
}

func TestParse_ConfigErrors(t *testing.T) {
	cases := map[string]string{
		"missing slave id":   `{"endianness":"big","registers":[{"name":"a","address":0,"type":"uint16"}]}`,
		"missing endianness": `{"slave_id":1,"registers":[{"name":"a","address":0,"type":"uint16"}]}`,
		"bad endianness":     `{"slave_id":1,"endianness":"middle","registers":[{"name":"a","address":0,"type":"uint16"}]}`,
		"no registers":       `{"slave_id":1,"endianness":"big","registers":[]}`,
		"missing name":       `{"slave_id":1,"endianness":"big","registers":[{"address":0,"type":"uint16"}]}`,
		"missing address":    `{"slave_id":1,"endianness":"big","registers":[{"name":"a","type":"uint16"}]}`,
		"missing type":       `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0}]}`,
		"unknown type":       `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"float64"}]}`,
		"zero scale":         `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"uint16","scale":0}]}`,
		"negative scale":     `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"uint16","scale":-1}]}`,
		"address collision":  `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"uint32"},{"name":"b","address":1,"type":"uint16"}]}`,
		"duplicate name":     `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"uint16"},{"name":"a","address":1,"type":"uint16"}]}`,
		"inverted range":     `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"uint16","min":5,"max":1}]}`,
		"bad function":       `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"uint16","function":6}]}`,
		"bad access":         `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"uint16","access":"wo"}]}`,
		"unknown probe":      `{"slave_id":1,"endianness":"big","probe":"zz","registers":[{"name":"a","address":0,"type":"uint16"}]}`,
		"bad enum key":       `{"slave_id":1,"endianness":"big","registers":[{"name":"a","address":0,"type":"enum16","map":{"x":"y"}}]}`,
		"not a document":     `[1, 2`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)

			var ce *fault.ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestParse_SameAddressDifferentFunctionAllowed(t *testing.T) {
	doc := `{"slave_id":1,"endianness":"big","registers":[
		{"name":"a","address":0,"type":"uint16","function":3},
		{"name":"b","address":0,"type":"uint16","function":4}]}`

	_, err := Parse([]byte(doc))
	require.NoError(t, err)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registers.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Len())

	_, err = Load(filepath.Join(dir, "missing.json"))
	var ce *fault.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "register_map", ce.Field)
}

func TestInRange_Boundaries(t *testing.T) {
	lo, hi := 0.50, 99.99
	r := RegisterSpec{Min: &lo, Max: &hi}

	assert.False(t, r.InRange(0.49))
	assert.True(t, r.InRange(0.50))
	assert.True(t, r.InRange(99.99))
	assert.False(t, r.InRange(100.0))
}
