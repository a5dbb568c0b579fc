// internal/transport/scan.go
package transport

import (
	"fmt"
	"sort"

	bugserial "go.bug.st/serial"
)

// Baud rates and parities tried on every serial port, in order.
var (
	DefaultBauds    = []int{115200, 57600, 38400, 19200, 9600}
	DefaultParities = []string{"N"}
)

// ScanPlan describes the candidate set of one scan pass.
type ScanPlan struct {
	SlaveID byte

	// Ports pins the serial ports to try. Empty means enumerate.
	Ports    []string
	Bauds    []int
	Parities []string
	DataBits int
	StopBits int

	// TCP lists host[:port] addresses tried after all serial candidates.
	TCP []string

	// SkipSerial disables port enumeration (TCP-only setups).
	SkipSerial bool
}

// PortLister returns the serial ports present on the host.
type PortLister func() ([]string, error)

// Enumerate lists serial ports via go.bug.st/serial, sorted so that the
// scan order is the same on every pass.
func Enumerate() ([]string, error) {
	ports, err := bugserial.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}

// Scanner expands a ScanPlan into concrete endpoints.
type Scanner struct {
	Plan ScanPlan
	List PortLister
}

// NewScanner returns a Scanner using host port enumeration.
func NewScanner(plan ScanPlan) *Scanner {
	return &Scanner{Plan: plan, List: Enumerate}
}

// Candidates returns the ordered candidate set for one pass:
// ports × parities × bauds, then TCP hosts. Duplicates are dropped; the
// first occurrence keeps its position.
//
// A failed port enumeration does not void the pass: the TCP hosts are
// still returned, together with the enumeration error.
func (s *Scanner) Candidates() ([]Endpoint, error) {
	p := s.Plan

	var (
		ports   []string
		listErr error
	)
	if !p.SkipSerial {
		if len(p.Ports) > 0 {
			ports = p.Ports
		} else if s.List != nil {
			listed, err := s.List()
			if err != nil {
				listErr = fmt.Errorf("enumerate serial ports: %w", err)
			}
			ports = listed
		}
	}

	bauds := p.Bauds
	if len(bauds) == 0 {
		bauds = DefaultBauds
	}
	parities := p.Parities
	if len(parities) == 0 {
		parities = DefaultParities
	}

	seen := make(map[string]struct{})
	var out []Endpoint
	add := func(ep Endpoint) {
		k := ep.String()
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, ep)
	}

	for _, port := range ports {
		for _, parity := range parities {
			for _, baud := range bauds {
				ep := SerialEndpoint(port, baud, p.SlaveID)
				ep.Parity = normalizeParity(parity)
				ep.DataBits = orDefault(p.DataBits, 8)
				ep.StopBits = orDefault(p.StopBits, 1)
				add(ep)
			}
		}
	}

	for _, addr := range p.TCP {
		ep, err := NetworkEndpoint(addr, p.SlaveID)
		if err != nil {
			return nil, err
		}
		add(ep)
	}

	return out, listErr
}
