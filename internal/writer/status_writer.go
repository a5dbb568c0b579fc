// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/protocol"
	"github.com/tamzrod/qmb-monitor/internal/status"
	"github.com/tamzrod/qmb-monitor/internal/transport"
)

// deviceStatusWriter writes the block into a remote holding-register area.
//
// The first write after start or after any failure re-asserts the full
// block. Otherwise only the runs of slots that changed are written.
type deviceStatusWriter struct {
	base uint16
	cli  registerWriter

	needFull bool
	last     []uint16
}

func newDeviceStatusWriter(cli registerWriter, base uint16) *deviceStatusWriter {
	return &deviceStatusWriter{
		base:     base,
		cli:      cli,
		needFull: true,
	}
}

// WriteStatus delivers one encoded block.
func (sw *deviceStatusWriter) WriteStatus(regs []uint16) error {
	if len(regs) != status.BlockSize {
		return fmt.Errorf("status writer: block has %d registers, want %d", len(regs), status.BlockSize)
	}

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.base, regs); err != nil {
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = append(sw.last[:0], regs...)
		return nil
	}

	var errs []error
	for _, r := range changedRuns(sw.last, regs) {
		addr := sw.base + uint16(r.start)
		if err := sw.cli.WriteRegisters(addr, regs[r.start:r.end]); err != nil {
			errs = append(errs, fmt.Errorf("slots %d-%d: %w", r.start, r.end-1, err))
			continue
		}
		copy(sw.last[r.start:r.end], regs[r.start:r.end])
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt; re-assert on next success.
		sw.needFull = true
		return fmt.Errorf("status writer: %w", errors.Join(errs...))
	}
	return nil
}

type run struct{ start, end int }

// changedRuns returns maximal runs of differing slots, in address order.
func changedRuns(prev, next []uint16) []run {
	var out []run
	for i := 0; i < len(next); i++ {
		if i < len(prev) && prev[i] == next[i] {
			continue
		}
		if n := len(out); n > 0 && out[n-1].end == i {
			out[n-1].end = i + 1
			continue
		}
		out = append(out, run{start: i, end: i + 1})
	}
	return out
}

// Remote is a status writer bound to a Modbus TCP target. The connection is
// opened on first use and dropped on transport failure; the next write
// reopens it and re-asserts the full block.
type Remote struct {
	adapter transport.Adapter
	ep      transport.Endpoint
	base    uint16

	mu   sync.Mutex
	conn transport.Conn
	sw   *deviceStatusWriter
}

// NewRemote returns a writer for the block at base on ep.
func NewRemote(a transport.Adapter, ep transport.Endpoint, base uint16) *Remote {
	return &Remote{adapter: a, ep: ep, base: base}
}

func (r *Remote) WriteStatus(regs []uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		conn, err := r.adapter.Open(r.ep)
		if err != nil {
			return err
		}
		r.conn = conn
		r.sw = newDeviceStatusWriter(protocol.New(conn), r.base)
	}

	err := r.sw.WriteStatus(regs)
	if err != nil && (fault.IsTransport(err, 0) || fault.IsProtocol(err, fault.MalformedResponse)) {
		_ = r.conn.Close()
		r.conn, r.sw = nil, nil
	}
	return err
}

// Close drops the connection, if any.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn, r.sw = nil, nil
	return err
}
