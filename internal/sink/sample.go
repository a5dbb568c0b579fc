// internal/sink/sample.go
package sink

import "time"

// Channel names a measurement channel.
type Channel string

const (
	CH1 Channel = "CH1"
	CH2 Channel = "CH2"
)

// Sample is one scaled channel value.
type Sample struct {
	Channel Channel   `json:"channel"`
	At      time.Time `json:"at"`
	Value   float64   `json:"value"`
}

// Sink receives samples. Push must not block the caller.
type Sink interface {
	Push(Sample)
}

// Multi fans one sample out to several sinks in order.
type Multi []Sink

func (m Multi) Push(s Sample) {
	for _, k := range m {
		k.Push(s)
	}
}

// Func adapts a function to Sink.
type Func func(Sample)

func (f Func) Push(s Sample) { f(s) }
