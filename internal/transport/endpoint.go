// internal/transport/endpoint.go
package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind selects the wire variant of an endpoint.
type Kind uint8

const (
	Serial  Kind = iota + 1 // Modbus RTU over a serial port
	Network                 // Modbus TCP
)

func (k Kind) String() string {
	switch k {
	case Serial:
		return "rtu"
	case Network:
		return "tcp"
	}
	return "unknown"
}

// DefaultTCPPort is the registered Modbus TCP port.
const DefaultTCPPort = 502

// Endpoint is one candidate device address.
// Serial fields apply to Kind == Serial, Host/TCPPort to Kind == Network.
type Endpoint struct {
	Kind    Kind
	SlaveID byte

	// ---- serial ----
	Port     string
	BaudRate int
	Parity   string // N, E, O
	DataBits int
	StopBits int

	// ---- network ----
	Host    string
	TCPPort int
}

// SerialEndpoint builds an RTU endpoint with 8N1 framing.
func SerialEndpoint(port string, baud int, slaveID byte) Endpoint {
	return Endpoint{
		Kind:     Serial,
		SlaveID:  slaveID,
		Port:     port,
		BaudRate: baud,
		Parity:   "N",
		DataBits: 8,
		StopBits: 1,
	}
}

// NetworkEndpoint parses host[:port] into a TCP endpoint.
func NetworkEndpoint(addr string, slaveID byte) (Endpoint, error) {
	if addr == "" {
		return Endpoint{}, fmt.Errorf("transport: empty tcp address")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port given.
		host, portStr = addr, strconv.Itoa(DefaultTCPPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("transport: invalid tcp port in %q", addr)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("transport: missing host in %q", addr)
	}

	return Endpoint{
		Kind:    Network,
		SlaveID: slaveID,
		Host:    host,
		TCPPort: port,
	}, nil
}

// Address is what the underlying handler dials or opens.
func (e Endpoint) Address() string {
	if e.Kind == Network {
		return net.JoinHostPort(e.Host, strconv.Itoa(e.TCPPort))
	}
	return e.Port
}

// String is a stable key used for logs, status and equality in tests.
func (e Endpoint) String() string {
	switch e.Kind {
	case Serial:
		return fmt.Sprintf("rtu:%s@%d/%d%s%d#%d",
			e.Port, e.BaudRate, e.DataBits, strings.ToUpper(e.Parity), e.StopBits, e.SlaveID)
	case Network:
		return fmt.Sprintf("tcp:%s#%d", e.Address(), e.SlaveID)
	}
	return "unknown"
}
