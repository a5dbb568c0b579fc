// internal/simulator/server.go
package simulator

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
)

// Server serves a Device over Modbus TCP.
type Server struct {
	Addr string
	srv  *modbus.ModbusServer
}

// Listen starts serving d on addr (host:port).
func Listen(addr string, d *Device) (*Server, error) {
	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + addr,
		Timeout:    30 * time.Second,
		MaxClients: 4,
	}, d)
	if err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("simulator: listen %s: %w", addr, err)
	}
	return &Server{Addr: addr, srv: srv}, nil
}

// Close stops accepting clients and drops open sessions.
func (s *Server) Close() error { return s.srv.Stop() }
