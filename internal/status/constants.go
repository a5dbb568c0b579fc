// internal/status/constants.go
package status

// Status block layout constants.
// The block is served read-only to Modbus clients; offsets are fixed.

// ---- BLOCK GEOMETRY ----

// BlockSize is the fixed number of holding registers in the status block.
const BlockSize = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the health code.
const SlotHealthCode = 0

// SlotLastErrorCode holds the last error code (fault.Code).
const SlotLastErrorCode = 1

// SlotSecondsInError holds the seconds spent without a successful poll.
const SlotSecondsInError = 2

// SlotState holds the session state code.
const SlotState = 3

// SlotFailures holds the consecutive poll failure count.
const SlotFailures = 4

// SlotSampleStart is the first of two int32 samples (CH1, CH2) in units of
// 0.001, high word first.
const SlotSampleStart = 5

// Slots 9-11 are reserved.

// ---- DEVICE NAME ----

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameStart is the first slot used for the device name.
// The name is always placed at the END of the block.
const SlotDeviceNameStart = BlockSize - SlotDeviceNameSlots

// DeviceNameMaxChars is the maximum number of ASCII characters stored.
const DeviceNameMaxChars = 2 * SlotDeviceNameSlots

// ---- HEALTH CODES ----

const (
	HealthUnknown  uint16 = 0
	HealthOK       uint16 = 1
	HealthError    uint16 = 2
	HealthStale    uint16 = 3
	HealthDisabled uint16 = 4
)
