// internal/writer/status_writer_test.go
package writer

import (
	"errors"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/status"
	"github.com/tamzrod/qmb-monitor/internal/transport"
	"github.com/tamzrod/qmb-monitor/internal/transport/transporttest"
)

type fakeRegisterWriter struct {
	calls        int
	lastRegsAddr uint16
	lastRegs     []uint16
	fail         error
}

func (f *fakeRegisterWriter) WriteRegisters(addr uint16, values []uint16) error {
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	f.lastRegsAddr = addr
	f.lastRegs = append([]uint16(nil), values...)
	return nil
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func block(state status.State, code uint16, lastPoll time.Time) []uint16 {
	return status.Encode(status.Block{
		Snapshot:   status.Snapshot{State: state, LastErrorCode: code, LastPoll: lastPoll},
		DeviceName: "DEV-01",
	}, t0)
}

func TestDeviceNameWrittenOnFullAssertOnly(t *testing.T) {
	cli := &fakeRegisterWriter{}
	sw := newDeviceStatusWriter(cli, 100)

	// ---- first write: FULL ASSERT ----
	first := block(status.Connected, 0, t0)
	if err := sw.WriteStatus(first); err != nil {
		t.Fatalf("initial full assert failed: %v", err)
	}

	if len(cli.lastRegs) != status.BlockSize || cli.lastRegsAddr != 100 {
		t.Fatalf("expected full block write at 100, got %d regs at %d", len(cli.lastRegs), cli.lastRegsAddr)
	}
	if got := cli.lastRegs[status.SlotDeviceNameStart]; got != uint16('D')<<8|uint16('E') {
		t.Fatalf("device name slot mismatch: got=%#04x", got)
	}

	// ---- second write: INCREMENTAL ONLY ----
	second := block(status.Reconnecting, 201, t0.Add(-3*time.Second))
	if err := sw.WriteStatus(second); err != nil {
		t.Fatalf("incremental write failed: %v", err)
	}

	// health, last error, seconds, state are contiguous slots 0..3
	if cli.lastRegsAddr != 100 || len(cli.lastRegs) != 4 {
		t.Fatalf("expected slots 0-3 rewritten, got %d regs at %d", len(cli.lastRegs), cli.lastRegsAddr)
	}
	if cli.lastRegs[status.SlotSecondsInError] != 3 {
		t.Fatalf("seconds_in_error = %d, want 3", cli.lastRegs[status.SlotSecondsInError])
	}
}

func TestUnchangedBlockWritesNothing(t *testing.T) {
	cli := &fakeRegisterWriter{}
	sw := newDeviceStatusWriter(cli, 0)

	b := block(status.Connected, 0, t0)
	if err := sw.WriteStatus(b); err != nil {
		t.Fatal(err)
	}
	if err := sw.WriteStatus(b); err != nil {
		t.Fatal(err)
	}
	if cli.calls != 1 {
		t.Fatalf("expected 1 write, got %d", cli.calls)
	}
}

func TestSecondsInErrorResetOnRecovery(t *testing.T) {
	cli := &fakeRegisterWriter{}
	sw := newDeviceStatusWriter(cli, 40)

	// simulate ERROR, then keep the code but recover the state
	if err := sw.WriteStatus(block(status.Degraded, 0, t0.Add(-5*time.Second))); err != nil {
		t.Fatalf("error block write failed: %v", err)
	}
	if err := sw.WriteStatus(block(status.Connected, 0, t0)); err != nil {
		t.Fatalf("recovery block write failed: %v", err)
	}

	// health slot 0, seconds slot 2 and state slot 3 changed; slot 1 did not
	if cli.lastRegsAddr != 40+status.SlotSecondsInError || len(cli.lastRegs) != 2 {
		t.Fatalf("unexpected last write: %d regs at %d", len(cli.lastRegs), cli.lastRegsAddr)
	}
	if cli.lastRegs[0] != 0 {
		t.Fatalf("seconds_in_error not reset: got=%d want=0", cli.lastRegs[0])
	}
}

func TestFailureForcesFullReassert(t *testing.T) {
	cli := &fakeRegisterWriter{}
	sw := newDeviceStatusWriter(cli, 0)

	if err := sw.WriteStatus(block(status.Connected, 0, t0)); err != nil {
		t.Fatal(err)
	}

	cli.fail = errors.New("link down")
	if err := sw.WriteStatus(block(status.Degraded, 202, t0)); err == nil {
		t.Fatalf("expected error")
	}

	cli.fail = nil
	if err := sw.WriteStatus(block(status.Degraded, 202, t0)); err != nil {
		t.Fatal(err)
	}
	if len(cli.lastRegs) != status.BlockSize {
		t.Fatalf("expected full re-assert after failure, got %d regs", len(cli.lastRegs))
	}
}

func TestWrongBlockSizeRejected(t *testing.T) {
	sw := newDeviceStatusWriter(&fakeRegisterWriter{}, 0)
	if err := sw.WriteStatus(make([]uint16, 3)); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestChangedRuns(t *testing.T) {
	prev := []uint16{1, 2, 3, 4, 5, 6}
	next := []uint16{1, 9, 9, 4, 5, 0}

	got := changedRuns(prev, next)
	want := []run{{1, 3}, {5, 6}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("runs = %v, want %v", got, want)
	}
}

// ---- remote ----

func statusDevice() *transporttest.Device {
	dev := transporttest.NewDevice()
	dev.Set(200, make([]uint16, status.BlockSize)...)
	return dev
}

func TestRemote_WritesAndReopensAfterTransportFailure(t *testing.T) {
	ep, err := transport.NetworkEndpoint("10.0.0.20:502", 1)
	if err != nil {
		t.Fatal(err)
	}
	a := transporttest.NewAdapter()
	dev := statusDevice()
	a.Attach(ep, dev)

	r := NewRemote(a, ep, 200)
	b := block(status.Connected, 0, t0)
	if err := r.WriteStatus(b); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if dev.Get(200+status.SlotHealthCode) != status.HealthOK {
		t.Fatalf("health slot = %d", dev.Get(200))
	}

	dev.SetFault(func(*modbus.ProtocolDataUnit) error {
		return &fault.TransportError{Kind: fault.Timeout, Endpoint: ep.String()}
	})
	if err := r.WriteStatus(block(status.Degraded, 202, t0)); !fault.IsTransport(err, fault.Timeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if a.OpenConns() != 0 {
		t.Fatalf("connection kept after transport failure")
	}

	dev.SetFault(nil)
	if err := r.WriteStatus(block(status.Degraded, 202, t0)); err != nil {
		t.Fatalf("write after reopen failed: %v", err)
	}
	if dev.Get(200+status.SlotLastErrorCode) != 202 {
		t.Fatalf("last error slot = %d", dev.Get(200+status.SlotLastErrorCode))
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if a.OpenConns() != 0 {
		t.Fatalf("connection left open after Close")
	}
}

func TestRemote_UnavailableTarget(t *testing.T) {
	ep, _ := transport.NetworkEndpoint("10.0.0.21", 1)
	r := NewRemote(transporttest.NewAdapter(), ep, 0)

	err := r.WriteStatus(block(status.Idle, 0, t0))
	if !fault.IsTransport(err, fault.Unavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
