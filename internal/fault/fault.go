// internal/fault/fault.go
package fault

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer.
//
//   ConfigError      fatal at startup
//   TransportError   recoverable, drives session transitions
//   ProtocolError    recoverable, separates "wrong device" from "device misbehaving"
//   ValidationError  user input on write, reported immediately, never retried
//
// Every typed error exposes Code() so status snapshots can carry a numeric
// last-error code without knowing concrete types.

// ErrNoSession is returned for writes issued while no device is bound.
var ErrNoSession = errors.New("no device session")

// ---- CONFIG ----

// ConfigError reports an invalid register map or application config.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("config: %s: %s: %v", e.Field, e.Msg, e.Err)
	case e.Field != "":
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Code() uint16 { return 100 }

// Configf builds a ConfigError for one field.
func Configf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ---- TRANSPORT ----

// TransportKind classifies transport failures.
type TransportKind uint8

const (
	Unavailable TransportKind = iota + 1
	Timeout
	IOFault
)

func (k TransportKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Timeout:
		return "timeout"
	case IOFault:
		return "io fault"
	}
	return "unknown"
}

// TransportError is a failure below the protocol layer.
type TransportError struct {
	Kind     TransportKind
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s: %s", e.Endpoint, e.Kind)
	}
	return fmt.Sprintf("transport %s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Code() uint16 { return 200 + uint16(e.Kind) }

// ---- PROTOCOL ----

// ProtocolKind classifies decoded-but-unusable responses.
type ProtocolKind uint8

const (
	IllegalAddress ProtocolKind = iota + 1
	IllegalValue
	MalformedResponse
	DeviceException
)

func (k ProtocolKind) String() string {
	switch k {
	case IllegalAddress:
		return "illegal address"
	case IllegalValue:
		return "illegal value"
	case MalformedResponse:
		return "malformed response"
	case DeviceException:
		return "device exception"
	}
	return "unknown"
}

// ProtocolError is a protocol-level failure. Exception is the raw Modbus
// exception code when the device answered with one, 0 otherwise.
type ProtocolError struct {
	Kind      ProtocolKind
	Function  byte
	Exception byte
	Err       error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol: %s (fc=%d", e.Kind, e.Function)
	if e.Exception != 0 {
		msg += fmt.Sprintf(" exception=%d", e.Exception)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Code reports the raw exception code when present, so the status block
// shows exactly what the device said.
func (e *ProtocolError) Code() uint16 {
	if e.Exception != 0 {
		return uint16(e.Exception)
	}
	return 300 + uint16(e.Kind)
}

// Malformed builds a MalformedResponse error.
func Malformed(fc byte, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: MalformedResponse, Function: fc, Err: fmt.Errorf(format, args...)}
}

// ---- VALIDATION ----

// ValidationKind classifies rejected write requests.
type ValidationKind uint8

const (
	OutOfRange ValidationKind = iota + 1
	ReadOnly
	UnknownRegister
)

func (k ValidationKind) String() string {
	switch k {
	case OutOfRange:
		return "out of range"
	case ReadOnly:
		return "read only"
	case UnknownRegister:
		return "unknown register"
	}
	return "unknown"
}

// ValidationError rejects a write before any transport call.
type ValidationError struct {
	Kind     ValidationKind
	Register string
	Value    float64
	Msg      string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("write %s: %s", e.Register, e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

func (e *ValidationError) Code() uint16 { return 400 + uint16(e.Kind) }

// ---- CLASSIFIERS ----

// IsTransport reports whether err carries a TransportError of the given kind.
// Kind 0 matches any transport error.
func IsTransport(err error, kind TransportKind) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return kind == 0 || te.Kind == kind
}

// IsProtocol reports whether err carries a ProtocolError of the given kind.
// Kind 0 matches any protocol error.
func IsProtocol(err error, kind ProtocolKind) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return kind == 0 || pe.Kind == kind
}

// IsValidation reports whether err carries a ValidationError of the given kind.
// Kind 0 matches any validation error.
func IsValidation(err error, kind ValidationKind) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	return kind == 0 || ve.Kind == kind
}

// Code extracts a best-effort uint16 code from an error without assuming
// concrete types. Errors that do not expose a code map to 1.
func Code(err error) uint16 {
	if err == nil {
		return 0
	}

	type coder interface{ Code() uint16 }

	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return 1
}
