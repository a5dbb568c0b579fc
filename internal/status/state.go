// internal/status/state.go
package status

// State is the discovery/session state.
type State uint8

const (
	Idle State = iota
	Scanning
	Probing
	Connected
	Degraded
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Probing:
		return "probing"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Health maps a state to its status-block health code.
func (s State) Health() uint16 {
	switch s {
	case Connected:
		return HealthOK
	case Degraded:
		return HealthStale
	case Reconnecting:
		return HealthError
	case Idle:
		return HealthDisabled
	}
	return HealthUnknown
}

// Bound reports whether a session (and its transport handle) exists.
func (s State) Bound() bool {
	return s == Connected || s == Degraded
}
