// internal/session/session.go
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/qmb-monitor/internal/protocol"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
	"github.com/tamzrod/qmb-monitor/internal/transport"
)

// Session is one bound device. The engine owns it and its transport handle
// exclusively; nothing outside the engine goroutine touches conn.
type Session struct {
	ID       string
	Endpoint transport.Endpoint

	LastSuccessfulPoll  time.Time
	ConsecutiveFailures int

	conn  transport.Conn
	codec *protocol.Codec
	io    *scaledio.Service
}

func newSession(conn transport.Conn, codec *protocol.Codec, m *regmap.Map) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Endpoint: conn.Endpoint(),
		conn:     conn,
		codec:    codec,
		io:       scaledio.New(m, codec),
	}
}

// IO is the scaled I/O service bound to this session.
func (s *Session) IO() *scaledio.Service { return s.io }

func (s *Session) close() error {
	return s.conn.Close()
}
