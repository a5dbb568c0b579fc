// internal/poller/types.go
package poller

import (
	"time"

	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
	"github.com/tamzrod/qmb-monitor/internal/sink"
)

// ReadBlock describes one Modbus read geometry and the entries it covers.
// Entries are contiguous and share the function code.
type ReadBlock struct {
	FC       uint8
	Address  uint16
	Quantity uint16
	Entries  []regmap.RegisterSpec
}

// Channel binds a sample channel to the register that feeds it.
type Channel struct {
	Name     sink.Channel
	Register string
}

// Result is a snapshot produced by one poll cycle.
type Result struct {
	At time.Time

	// Values holds every display register that answered.
	Values map[string]scaledio.Value

	// Exceptions holds registers the device answered with an exception.
	// They do not fail the cycle.
	Exceptions map[string]error

	Samples []sink.Sample

	Err error // non-nil means the poll cycle failed
}

// Number returns a numeric value by name.
func (r Result) Number(name string) (float64, bool) {
	v, ok := r.Values[name]
	if !ok || !v.Numeric {
		return 0, false
	}
	return v.Number, true
}
