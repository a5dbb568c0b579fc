// internal/writer/memory.go
package writer

import (
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/tamzrod/qmb-monitor/internal/status"
)

// Memory holds the latest status block and serves it read-only as holding
// registers 0..BlockSize-1 of one unit id.
type Memory struct {
	unitID uint8

	mu   sync.RWMutex
	regs []uint16
}

// NewMemory returns an all-zero block for unitID.
func NewMemory(unitID uint8) *Memory {
	return &Memory{unitID: unitID, regs: make([]uint16, status.BlockSize)}
}

func (m *Memory) WriteStatus(regs []uint16) error {
	if len(regs) != status.BlockSize {
		return fmt.Errorf("status memory: block has %d registers, want %d", len(regs), status.BlockSize)
	}
	m.mu.Lock()
	copy(m.regs, regs)
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the served block.
func (m *Memory) Snapshot() []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint16(nil), m.regs...)
}

// ---- modbus.RequestHandler ----

func (m *Memory) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.UnitId != m.unitID {
		return nil, modbus.ErrIllegalFunction
	}
	if req.IsWrite {
		return nil, modbus.ErrIllegalFunction
	}
	end := uint32(req.Addr) + uint32(req.Quantity)
	if end > status.BlockSize {
		return nil, modbus.ErrIllegalDataAddress
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint16(nil), m.regs[req.Addr:end]...), nil
}

func (m *Memory) HandleInputRegisters(*modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

func (m *Memory) HandleCoils(*modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (m *Memory) HandleDiscreteInputs(*modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

// Serve starts a Modbus TCP server for h on listen (host:port).
func Serve(listen string, h modbus.RequestHandler) (*modbus.ModbusServer, error) {
	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + listen,
		Timeout:    30 * time.Second,
		MaxClients: 5,
	}, h)
	if err != nil {
		return nil, fmt.Errorf("status server %s: %w", listen, err)
	}
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("status server %s: %w", listen, err)
	}
	return srv, nil
}
