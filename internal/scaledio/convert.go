// internal/scaledio/convert.go
package scaledio

import (
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strings"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
)

// ToRaw validates an engineering value against r and converts it to the
// integer written to the device: round(v / scale).
//
// Rejections are ValidationError{OutOfRange}: NaN or infinite input, a value
// outside the declared [min, max], or a raw result that does not fit the
// register width.
func ToRaw(r regmap.RegisterSpec, v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, outOfRange(r, v, "not a finite number")
	}
	if !r.InRange(v) {
		return 0, outOfRange(r, v, "valid range is "+rangeText(r))
	}

	raw := math.Round(v / r.Scale)

	lo, hi := r.RawBounds()
	if raw < float64(lo) || raw > float64(hi) {
		return 0, outOfRange(r, v, fmt.Sprintf("raw %.0f does not fit %s", raw, r.Type))
	}
	return int64(raw), nil
}

// FromRaw scales device words to an engineering value: raw * scale.
func FromRaw(r regmap.RegisterSpec, words []uint16) (float64, error) {
	raw, err := RawValue(r, words)
	if err != nil {
		return 0, err
	}
	return float64(raw) * r.Scale, nil
}

// RawValue combines words into the signed or unsigned integer they encode.
// 32-bit types take their word order from r.Endianness.
func RawValue(r regmap.RegisterSpec, words []uint16) (int64, error) {
	if len(words) < int(r.Quantity()) {
		return 0, fmt.Errorf("scaledio: %s: got %d words, want %d", r.Name, len(words), r.Quantity())
	}

	switch r.Type {
	case regmap.Int16:
		return int64(int16(words[0])), nil
	case regmap.Int32:
		return int64(int32(join(r, words))), nil
	case regmap.Uint32:
		return int64(join(r, words)), nil
	case regmap.Uint16, regmap.Bool16, regmap.Enum16, regmap.Bitmask16:
		return int64(words[0]), nil
	}
	return 0, fmt.Errorf("scaledio: %s: type %s is not numeric", r.Name, r.Type)
}

// ToWords splits a raw integer into device words in r's word order.
func ToWords(r regmap.RegisterSpec, raw int64) []uint16 {
	switch r.Type {
	case regmap.Int32, regmap.Uint32:
		u := uint32(raw)
		hi, lo := uint16(u>>16), uint16(u)
		if r.Endianness == regmap.Little {
			return []uint16{lo, hi}
		}
		return []uint16{hi, lo}
	}
	return []uint16{uint16(raw)}
}

func join(r regmap.RegisterSpec, words []uint16) uint32 {
	hi, lo := words[0], words[1]
	if r.Endianness == regmap.Little {
		hi, lo = lo, hi
	}
	return uint32(hi)<<16 | uint32(lo)
}

// Text renders non-numeric entries (ascii, ip32, mac48), the label of
// enum16/bool16 entries and the set flags of bitmask16 entries.
func Text(r regmap.RegisterSpec, words []uint16) (string, error) {
	if len(words) < int(r.Quantity()) {
		return "", fmt.Errorf("scaledio: %s: got %d words, want %d", r.Name, len(words), r.Quantity())
	}

	switch r.Type {
	case regmap.ASCII:
		b := make([]byte, 0, 2*len(words))
		for _, w := range words[:r.Quantity()] {
			b = append(b, byte(w>>8), byte(w))
		}
		return strings.TrimRight(string(b), "\x00 "), nil

	case regmap.IP32:
		v := join(r, words)
		return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}).String(), nil

	case regmap.MAC48:
		return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
			byte(words[0]>>8), byte(words[0]),
			byte(words[1]>>8), byte(words[1]),
			byte(words[2]>>8), byte(words[2])), nil

	case regmap.Enum16:
		if l, ok := r.Labels[words[0]]; ok {
			return l, nil
		}
		return fmt.Sprintf("code %d", words[0]), nil

	case regmap.Bool16:
		if words[0] != 0 {
			return "on", nil
		}
		return "off", nil

	case regmap.Bitmask16:
		return flagText(r.Labels, words[0]), nil
	}
	return "", nil
}

// flagText joins the labels whose mask is set in w, lowest mask first.
func flagText(labels map[uint16]string, w uint16) string {
	masks := make([]uint16, 0, len(labels))
	for m := range labels {
		if m != 0 && w&m == m {
			masks = append(masks, m)
		}
	}
	sort.Slice(masks, func(i, j int) bool { return masks[i] < masks[j] })

	out := make([]string, len(masks))
	for i, m := range masks {
		out[i] = labels[m]
	}
	return strings.Join(out, ",")
}

func outOfRange(r regmap.RegisterSpec, v float64, msg string) error {
	return &fault.ValidationError{Kind: fault.OutOfRange, Register: r.Name, Value: v, Msg: msg}
}

func rangeText(r regmap.RegisterSpec) string {
	lo, hi := "-inf", "+inf"
	if r.Min != nil {
		lo = fmt.Sprint(*r.Min)
	}
	if r.Max != nil {
		hi = fmt.Sprint(*r.Max)
	}
	return "[" + lo + ", " + hi + "]"
}
