// internal/transport/conn.go
package transport

import (
	"log"
	"strings"
	"sync"

	"github.com/goburrow/modbus"
)

// handler is the part of a goburrow client handler the Conn relies on.
// Both *modbus.RTUClientHandler and *modbus.TCPClientHandler satisfy it.
type handler interface {
	modbus.Packager
	modbus.Transporter
	Connect() error
	Close() error
}

// conn wraps one goburrow handler.
// It serializes exchanges and refuses use after Close, because the goburrow
// transporters silently reconnect on Send.
type conn struct {
	handler

	ep     Endpoint
	mu     sync.Mutex
	closed bool
}

func openRTU(ep Endpoint, opts Options, logger *log.Logger) (*conn, error) {
	if ep.Port == "" {
		return nil, unavailable(ep, errMissing("serial port"))
	}

	h := modbus.NewRTUClientHandler(ep.Port)
	h.BaudRate = ep.BaudRate
	h.DataBits = orDefault(ep.DataBits, 8)
	h.StopBits = orDefault(ep.StopBits, 1)
	h.Parity = normalizeParity(ep.Parity)
	h.SlaveId = ep.SlaveID
	h.Timeout = opts.Timeout
	h.IdleTimeout = opts.IdleTimeout
	h.Logger = logger

	if err := h.Connect(); err != nil {
		return nil, unavailable(ep, err)
	}
	return &conn{handler: h, ep: ep}, nil
}

func openTCP(ep Endpoint, opts Options, logger *log.Logger) (*conn, error) {
	if ep.Host == "" {
		return nil, unavailable(ep, errMissing("tcp host"))
	}

	h := modbus.NewTCPClientHandler(ep.Address())
	h.SlaveId = ep.SlaveID
	h.Timeout = opts.Timeout
	h.IdleTimeout = opts.IdleTimeout
	h.Logger = logger

	if err := h.Connect(); err != nil {
		return nil, unavailable(ep, err)
	}
	return &conn{handler: h, ep: ep}, nil
}

func (c *conn) Endpoint() Endpoint { return c.ep }

// Exchange sends one frame and returns the raw response frame.
func (c *conn) Exchange(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, classify(c.ep, errClosed)
	}

	resp, err := c.handler.Send(frame)
	if err != nil {
		return nil, classify(c.ep, err)
	}
	return resp, nil
}

// Close releases the port or socket. Calling it twice is a no-op.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.handler.Close()
}

// ---- helpers ----

type errMissing string

func (e errMissing) Error() string { return string(e) + " required" }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func normalizeParity(p string) string {
	switch strings.ToUpper(p) {
	case "E", "EVEN":
		return "E"
	case "O", "ODD":
		return "O"
	}
	return "N"
}
