// internal/transport/transporttest/fake.go

// Package transporttest provides an in-memory Modbus device and Adapter for
// tests. Frames are real RTU frames built with the goburrow packager, so CRC
// and slave-id checks run exactly as they do against hardware.
package transporttest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/transport"
)

// Device is a register bank answering FC3, FC4, FC6 and FC16.
// Addresses not present in the bank answer with exception 2.
type Device struct {
	mu sync.Mutex

	Holding map[uint16]uint16
	Input   map[uint16]uint16

	// Fault, when set, is consulted before every request. A non-nil error is
	// returned from Exchange as-is (use it to inject TransportErrors).
	Fault func(pdu *modbus.ProtocolDataUnit) error

	// Exception, when non-zero, is answered to every request.
	Exception byte

	// Corrupt flips the CRC of every response.
	Corrupt bool

	// Requests records every decoded request PDU.
	Requests []modbus.ProtocolDataUnit
}

// NewDevice returns an empty device.
func NewDevice() *Device {
	return &Device{
		Holding: make(map[uint16]uint16),
		Input:   make(map[uint16]uint16),
	}
}

// Set stores holding registers starting at addr.
func (d *Device) Set(addr uint16, values ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range values {
		d.Holding[addr+uint16(i)] = v
	}
}

// SetInput stores input registers starting at addr.
func (d *Device) SetInput(addr uint16, values ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range values {
		d.Input[addr+uint16(i)] = v
	}
}

// SetFault replaces Fault while the device may be serving requests.
func (d *Device) SetFault(fn func(pdu *modbus.ProtocolDataUnit) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Fault = fn
}

// Get reads one holding register.
func (d *Device) Get(addr uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Holding[addr]
}

// RequestCount is the number of requests served so far.
func (d *Device) RequestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Requests)
}

// Writes returns the recorded write PDUs (FC6 and FC16).
func (d *Device) Writes() []modbus.ProtocolDataUnit {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []modbus.ProtocolDataUnit
	for _, r := range d.Requests {
		if r.FunctionCode == modbus.FuncCodeWriteSingleRegister || r.FunctionCode == modbus.FuncCodeWriteMultipleRegisters {
			out = append(out, r)
		}
	}
	return out
}

// Serve answers one RTU request frame with one RTU response frame.
func (d *Device) Serve(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("transporttest: short request frame")
	}

	pk := modbus.NewRTUClientHandler("")
	pk.SlaveId = frame[0]

	req, err := pk.Decode(frame)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.Requests = append(d.Requests, modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte(nil), req.Data...),
	})
	faultFn := d.Fault
	d.mu.Unlock()

	if faultFn != nil {
		if err := faultFn(req); err != nil {
			return nil, err
		}
	}

	resp := d.handle(req)

	adu, err := pk.Encode(resp)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	corrupt := d.Corrupt
	d.mu.Unlock()
	if corrupt {
		adu[len(adu)-1] ^= 0xFF
	}
	return adu, nil
}

func (d *Device) handle(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Exception != 0 {
		return exception(req.FunctionCode, d.Exception)
	}

	switch req.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		if len(req.Data) != 4 {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		bank := d.Holding
		if req.FunctionCode == modbus.FuncCodeReadInputRegisters {
			bank = d.Input
		}
		addr := binary.BigEndian.Uint16(req.Data[0:2])
		qty := binary.BigEndian.Uint16(req.Data[2:4])
		out := []byte{byte(2 * qty)}
		for i := uint16(0); i < qty; i++ {
			v, ok := bank[addr+i]
			if !ok {
				return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
			}
			out = binary.BigEndian.AppendUint16(out, v)
		}
		return &modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: out}

	case modbus.FuncCodeWriteSingleRegister:
		if len(req.Data) != 4 {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		addr := binary.BigEndian.Uint16(req.Data[0:2])
		if _, ok := d.Holding[addr]; !ok {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
		}
		d.Holding[addr] = binary.BigEndian.Uint16(req.Data[2:4])
		return &modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: append([]byte(nil), req.Data...)}

	case modbus.FuncCodeWriteMultipleRegisters:
		if len(req.Data) < 5 {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		addr := binary.BigEndian.Uint16(req.Data[0:2])
		qty := binary.BigEndian.Uint16(req.Data[2:4])
		if int(req.Data[4]) != int(2*qty) || len(req.Data) != 5+int(2*qty) {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		for i := uint16(0); i < qty; i++ {
			if _, ok := d.Holding[addr+i]; !ok {
				return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
			}
		}
		for i := uint16(0); i < qty; i++ {
			d.Holding[addr+i] = binary.BigEndian.Uint16(req.Data[5+2*i:])
		}
		return &modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: append([]byte(nil), req.Data[:4]...)}
	}

	return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
}

func exception(fc byte, code byte) *modbus.ProtocolDataUnit {
	return &modbus.ProtocolDataUnit{FunctionCode: fc | 0x80, Data: []byte{code}}
}

// ---- Conn / Adapter ----

// Conn is a transport.Conn bound to one Device.
type Conn struct {
	*modbus.RTUClientHandler

	ep      transport.Endpoint
	dev     *Device
	adapter *Adapter

	mu     sync.Mutex
	closed bool
}

// NewConn returns a Conn that talks to dev with RTU framing.
func NewConn(ep transport.Endpoint, dev *Device) *Conn {
	h := modbus.NewRTUClientHandler(ep.Address())
	h.SlaveId = ep.SlaveID
	return &Conn{RTUClientHandler: h, ep: ep, dev: dev}
}

func (c *Conn) Endpoint() transport.Endpoint { return c.ep }

func (c *Conn) Exchange(frame []byte) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, &fault.TransportError{Kind: fault.IOFault, Endpoint: c.ep.String(), Err: fmt.Errorf("closed")}
	}
	if c.adapter != nil {
		c.adapter.record("exchange " + c.ep.String())
	}
	return c.dev.Serve(frame)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.adapter != nil {
		c.adapter.record("close " + c.ep.String())
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Adapter opens Conns for endpoints registered with Attach.
// Opening any other endpoint fails with TransportError{Unavailable}.
type Adapter struct {
	mu      sync.Mutex
	devices map[string]*Device
	events  []string
	conns   []*Conn
}

// NewAdapter returns an Adapter with no devices attached.
func NewAdapter() *Adapter {
	return &Adapter{devices: make(map[string]*Device)}
}

// Attach makes ep answer with dev.
func (a *Adapter) Attach(ep transport.Endpoint, dev *Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.devices[ep.String()] = dev
}

// Detach unplugs ep.
func (a *Adapter) Detach(ep transport.Endpoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.devices, ep.String())
}

func (a *Adapter) Open(ep transport.Endpoint) (transport.Conn, error) {
	a.record("open " + ep.String())

	a.mu.Lock()
	dev, ok := a.devices[ep.String()]
	a.mu.Unlock()

	if !ok {
		return nil, &fault.TransportError{Kind: fault.Unavailable, Endpoint: ep.String(), Err: fmt.Errorf("no device")}
	}

	c := NewConn(ep, dev)
	c.adapter = a

	a.mu.Lock()
	a.conns = append(a.conns, c)
	a.mu.Unlock()
	return c, nil
}

// Events returns "open X", "exchange X" and "close X" entries in call order.
func (a *Adapter) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// ResetEvents clears the recorded events.
func (a *Adapter) ResetEvents() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
}

// OpenConns counts Conns that were opened and not closed.
func (a *Adapter) OpenConns() int {
	a.mu.Lock()
	conns := append([]*Conn(nil), a.conns...)
	a.mu.Unlock()

	n := 0
	for _, c := range conns {
		if !c.Closed() {
			n++
		}
	}
	return n
}

func (a *Adapter) record(ev string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}
