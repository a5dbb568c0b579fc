// internal/status/snapshot.go
package status

import (
	"fmt"
	"time"
)

// Snapshot is the session-state indicator published on every transition.
// It is a value; observers may keep it.
type Snapshot struct {
	State     State
	Endpoint  string
	SessionID string

	Failures      int
	LastPoll      time.Time
	LastErrorCode uint16

	// Candidates left in the current scan pass.
	Pending int

	At time.Time
}

// Text renders the one-line indicator shown to the user.
func (s Snapshot) Text() string {
	switch s.State {
	case Idle:
		return "Disconnected"
	case Scanning:
		return "Waiting for device…"
	case Probing:
		return "Probing " + s.Endpoint + "…"
	case Connected:
		return "Connected: " + s.Endpoint
	case Degraded:
		return fmt.Sprintf("Connected: %s (%d failed polls)", s.Endpoint, s.Failures)
	case Reconnecting:
		return "Reconnecting…"
	}
	return s.State.String()
}

// SecondsInError is the time since the last good poll, saturated to uint16.
// Never-polled sessions report zero.
func (s Snapshot) SecondsInError(now time.Time) uint16 {
	if s.State == Connected || s.LastPoll.IsZero() {
		return 0
	}
	d := now.Sub(s.LastPoll) / time.Second
	if d < 0 {
		return 0
	}
	if d > 65535 {
		return 65535
	}
	return uint16(d)
}
