// internal/writer/writer_test.go
package writer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/qmb-monitor/internal/config"
	"github.com/tamzrod/qmb-monitor/internal/poller"
	"github.com/tamzrod/qmb-monitor/internal/protocol"
	"github.com/tamzrod/qmb-monitor/internal/sink"
	"github.com/tamzrod/qmb-monitor/internal/status"
	"github.com/tamzrod/qmb-monitor/internal/transport"
	"github.com/tamzrod/qmb-monitor/internal/transport/transporttest"
)

// ---- memory ----

func TestMemory_ServesBlockReadOnly(t *testing.T) {
	m := NewMemory(7)
	regs := block(status.Connected, 0, t0)
	require.NoError(t, m.WriteStatus(regs))

	got, err := m.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 7, Addr: 0, Quantity: status.BlockSize})
	require.NoError(t, err)
	assert.Equal(t, regs, got)

	_, err = m.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 7, Addr: 18, Quantity: 3})
	assert.Equal(t, modbus.ErrIllegalDataAddress, err)

	_, err = m.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 7, IsWrite: true, Addr: 0, Quantity: 1, Args: []uint16{1}})
	assert.Equal(t, modbus.ErrIllegalFunction, err)

	_, err = m.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 8, Addr: 0, Quantity: 1})
	assert.Error(t, err)

	_, err = m.HandleInputRegisters(&modbus.InputRegistersRequest{UnitId: 7, Addr: 0, Quantity: 1})
	assert.Equal(t, modbus.ErrIllegalFunction, err)

	assert.Error(t, m.WriteStatus([]uint16{1}))
	assert.Equal(t, regs, m.Snapshot())
}

func TestBuild_ListenServesOverTCP(t *testing.T) {
	addr := transporttest.FreeAddr(t)

	pub, closeAll, err := Build(config.StatusBlockConfig{
		Listen:     addr,
		UnitID:     3,
		DeviceName: "CHAMBER-A",
	}, transporttest.NewAdapter(), zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, pub)
	t.Cleanup(func() { _ = closeAll() })

	pub.now = func() time.Time { return t0 }
	pub.apply(event{snap: &status.Snapshot{State: status.Connected, Failures: 0}})
	pub.apply(event{samples: []sink.Sample{{Channel: sink.CH1, Value: 123.4}}})
	pub.flush()

	ep, err := transport.NetworkEndpoint(addr, 3)
	require.NoError(t, err)
	conn, err := transport.NewDialer(transport.Options{Timeout: time.Second}, zerolog.Nop()).Open(ep)
	require.NoError(t, err)
	defer conn.Close()

	regs, err := protocol.New(conn).ReadRegisters(3, 0, status.BlockSize)
	require.NoError(t, err)
	assert.Equal(t, status.HealthOK, regs[status.SlotHealthCode])
	assert.Equal(t, uint16(123400>>16), regs[status.SlotSampleStart])
	assert.Equal(t, uint16(123400&0xFFFF), regs[status.SlotSampleStart+1])
	assert.Equal(t, uint16('C')<<8|uint16('H'), regs[status.SlotDeviceNameStart])
}

func TestBuild_Disabled(t *testing.T) {
	pub, closeAll, err := Build(config.StatusBlockConfig{}, transporttest.NewAdapter(), zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, pub)
	assert.Nil(t, closeAll)
}

// ---- publisher ----

type recordingWriter struct {
	mu     sync.Mutex
	blocks [][]uint16
}

func (r *recordingWriter) WriteStatus(regs []uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, append([]uint16(nil), regs...))
	return nil
}

func (r *recordingWriter) last() ([]uint16, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.blocks) == 0 {
		return nil, 0
	}
	return r.blocks[len(r.blocks)-1], len(r.blocks)
}

func TestPublisher_DeliversEngineEvents(t *testing.T) {
	rec := &recordingWriter{}
	pub := NewPublisher("DEV-01", []StatusWriter{rec}, zerolog.Nop())
	pub.now = func() time.Time { return t0 }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// start-up re-assert
	require.Eventually(t, func() bool { _, n := rec.last(); return n >= 1 }, time.Second, 5*time.Millisecond)

	obs := pub.Observer()
	obs.Status(status.Snapshot{State: status.Degraded, Failures: 2, LastErrorCode: 202})
	obs.Poll(poller.Result{Err: assert.AnError})
	obs.Poll(poller.Result{Samples: []sink.Sample{{Channel: sink.CH2, Value: -1}}})

	require.Eventually(t, func() bool {
		regs, _ := rec.last()
		return regs != nil &&
			regs[status.SlotFailures] == 2 &&
			regs[status.SlotSampleStart+2] == 0xFFFF &&
			regs[status.SlotSampleStart+3] == uint16(0xFFFF-999)
	}, time.Second, 5*time.Millisecond)

	regs, _ := rec.last()
	assert.Equal(t, status.HealthStale, regs[status.SlotHealthCode])
	assert.Equal(t, uint16(202), regs[status.SlotLastErrorCode])
}
