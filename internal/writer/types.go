// internal/writer/types.go
package writer

// StatusWriter is the delivery-only contract for the status block.
// It receives the encoded block and delivers it verbatim.
// No logic, no interpretation.
type StatusWriter interface {
	WriteStatus(regs []uint16) error
}

// registerWriter is the exact contract a remote status writer uses.
// *protocol.Codec satisfies it.
type registerWriter interface {
	WriteRegisters(addr uint16, values []uint16) error
}
