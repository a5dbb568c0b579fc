// internal/status/encode.go
package status

import (
	"math"
	"time"
)

// Block is everything the status block carries.
type Block struct {
	Snapshot   Snapshot
	CH1, CH2   float64
	DeviceName string
}

// Encode converts a Block into the fixed register layout.
// No IO. No side effects.
func Encode(b Block, now time.Time) []uint16 {
	regs := make([]uint16, BlockSize)

	s := b.Snapshot
	regs[SlotHealthCode] = s.State.Health()
	regs[SlotLastErrorCode] = s.LastErrorCode
	regs[SlotSecondsInError] = s.SecondsInError(now)
	regs[SlotState] = uint16(s.State)
	regs[SlotFailures] = uint16(min(s.Failures, math.MaxUint16))

	putMilli(regs[SlotSampleStart:], b.CH1)
	putMilli(regs[SlotSampleStart+2:], b.CH2)

	name := b.DeviceName
	if len(name) > DeviceNameMaxChars {
		name = name[:DeviceNameMaxChars]
	}
	for i := 0; i < len(name); i++ {
		slot := SlotDeviceNameStart + i/2
		if i%2 == 0 {
			regs[slot] = uint16(name[i]) << 8
		} else {
			regs[slot] |= uint16(name[i])
		}
	}

	return regs
}

// putMilli stores v*1000 as a saturated int32, high word first.
func putMilli(dst []uint16, v float64) {
	m := math.Round(v * 1000)
	switch {
	case math.IsNaN(m):
		m = 0
	case m > math.MaxInt32:
		m = math.MaxInt32
	case m < math.MinInt32:
		m = math.MinInt32
	}
	u := uint32(int32(m))
	dst[0] = uint16(u >> 16)
	dst[1] = uint16(u)
}
