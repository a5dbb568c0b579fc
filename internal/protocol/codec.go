// internal/protocol/codec.go
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/transport"
)

const (
	MaxReadQuantity  = 125
	MaxWriteQuantity = 123

	// smallest frame the packagers can Verify without indexing past the end
	minRTUFrame = 4 // slave + fc + crc
	minTCPFrame = 8 // mbap + fc
)

// Codec encodes requests and classifies responses for one Conn.
// It is not safe for concurrent use; the session owns it.
type Codec struct {
	conn transport.Conn
}

// New binds a codec to an opened Conn.
func New(conn transport.Conn) *Codec {
	return &Codec{conn: conn}
}

// Conn returns the bound connection.
func (c *Codec) Conn() transport.Conn { return c.conn }

// ReadRegisters reads qty registers with FC3 or FC4.
func (c *Codec) ReadRegisters(fn uint8, addr, qty uint16) ([]uint16, error) {
	if fn != modbus.FuncCodeReadHoldingRegisters && fn != modbus.FuncCodeReadInputRegisters {
		return nil, fmt.Errorf("protocol: function %d is not a register read", fn)
	}
	if qty < 1 || qty > MaxReadQuantity {
		return nil, fmt.Errorf("protocol: quantity %d must be between 1 and %d", qty, MaxReadQuantity)
	}

	resp, err := c.send(&modbus.ProtocolDataUnit{
		FunctionCode: fn,
		Data:         dataBlock(addr, qty),
	})
	if err != nil {
		return nil, err
	}

	count := int(resp.Data[0])
	body := resp.Data[1:]
	if count != len(body) {
		return nil, fault.Malformed(fn, "byte count %d does not match data length %d", count, len(body))
	}
	if count != 2*int(qty) {
		return nil, fault.Malformed(fn, "byte count %d, want %d", count, 2*int(qty))
	}

	out := make([]uint16, qty)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(body[2*i:])
	}
	return out, nil
}

// WriteRegister writes one holding register with FC6. The device must echo
// the request.
func (c *Codec) WriteRegister(addr, value uint16) error {
	fn := byte(modbus.FuncCodeWriteSingleRegister)

	resp, err := c.send(&modbus.ProtocolDataUnit{
		FunctionCode: fn,
		Data:         dataBlock(addr, value),
	})
	if err != nil {
		return err
	}

	if len(resp.Data) != 4 {
		return fault.Malformed(fn, "echo length %d, want 4", len(resp.Data))
	}
	if a := binary.BigEndian.Uint16(resp.Data); a != addr {
		return fault.Malformed(fn, "echo address %d, want %d", a, addr)
	}
	if v := binary.BigEndian.Uint16(resp.Data[2:]); v != value {
		return fault.Malformed(fn, "echo value %d, want %d", v, value)
	}
	return nil
}

// WriteRegisters writes consecutive holding registers with FC16 in one
// transaction.
func (c *Codec) WriteRegisters(addr uint16, values []uint16) error {
	fn := byte(modbus.FuncCodeWriteMultipleRegisters)

	qty := len(values)
	if qty < 1 || qty > MaxWriteQuantity {
		return fmt.Errorf("protocol: quantity %d must be between 1 and %d", qty, MaxWriteQuantity)
	}

	data := dataBlock(addr, uint16(qty))
	data = append(data, byte(2*qty))
	data = append(data, dataBlock(values...)...)

	resp, err := c.send(&modbus.ProtocolDataUnit{FunctionCode: fn, Data: data})
	if err != nil {
		return err
	}

	if len(resp.Data) != 4 {
		return fault.Malformed(fn, "response length %d, want 4", len(resp.Data))
	}
	if a := binary.BigEndian.Uint16(resp.Data); a != addr {
		return fault.Malformed(fn, "response address %d, want %d", a, addr)
	}
	if q := binary.BigEndian.Uint16(resp.Data[2:]); int(q) != qty {
		return fault.Malformed(fn, "response quantity %d, want %d", q, qty)
	}
	return nil
}

// send runs one Encode/Exchange/Verify/Decode round trip.
// Transport errors pass through; everything after the wire is classified.
func (c *Codec) send(req *modbus.ProtocolDataUnit) (*modbus.ProtocolDataUnit, error) {
	fn := req.FunctionCode

	aduReq, err := c.conn.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode fc=%d: %w", fn, err)
	}

	aduResp, err := c.conn.Exchange(aduReq)
	if err != nil {
		return nil, err
	}

	if n := c.minFrame(); len(aduResp) < n {
		return nil, fault.Malformed(fn, "frame length %d, want at least %d", len(aduResp), n)
	}
	if err := c.conn.Verify(aduReq, aduResp); err != nil {
		return nil, &fault.ProtocolError{Kind: fault.MalformedResponse, Function: fn, Err: err}
	}
	resp, err := c.conn.Decode(aduResp)
	if err != nil {
		return nil, &fault.ProtocolError{Kind: fault.MalformedResponse, Function: fn, Err: err}
	}

	if resp.FunctionCode == fn|0x80 {
		return nil, exceptionError(fn, resp)
	}
	if resp.FunctionCode != fn {
		return nil, fault.Malformed(fn, "response function %d", resp.FunctionCode)
	}
	if len(resp.Data) == 0 {
		return nil, fault.Malformed(fn, "empty response")
	}
	return resp, nil
}

func (c *Codec) minFrame() int {
	if c.conn.Endpoint().Kind == transport.Network {
		return minTCPFrame
	}
	return minRTUFrame
}

func exceptionError(fn byte, resp *modbus.ProtocolDataUnit) error {
	if len(resp.Data) < 1 {
		return fault.Malformed(fn, "exception response without code")
	}
	code := resp.Data[0]

	kind := fault.DeviceException
	switch code {
	case modbus.ExceptionCodeIllegalDataAddress:
		kind = fault.IllegalAddress
	case modbus.ExceptionCodeIllegalDataValue:
		kind = fault.IllegalValue
	}

	return &fault.ProtocolError{
		Kind:      kind,
		Function:  fn,
		Exception: code,
		Err:       &modbus.ModbusError{FunctionCode: resp.FunctionCode, ExceptionCode: code},
	}
}

// DevicePresent reports whether err still proves a Modbus device of the
// expected slave answered. Any decoded exception other than "illegal data
// address" counts; transport failures and malformed frames do not.
func DevicePresent(err error) bool {
	if err == nil {
		return true
	}
	var pe *fault.ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Kind {
	case fault.IllegalAddress, fault.MalformedResponse:
		return false
	}
	return true
}

func dataBlock(values ...uint16) []byte {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[2*i:], v)
	}
	return data
}
