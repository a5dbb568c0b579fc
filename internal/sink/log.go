// internal/sink/log.go
package sink

import "github.com/rs/zerolog"

// Log writes every sample as a structured debug line.
type Log struct {
	log zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger.With().Str("component", "samples").Logger()}
}

func (l *Log) Push(s Sample) {
	l.log.Debug().
		Str("channel", string(s.Channel)).
		Time("at", s.At).
		Float64("value", s.Value).
		Msg("sample")
}
