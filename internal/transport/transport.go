// internal/transport/transport.go
package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/tamzrod/qmb-monitor/internal/fault"
)

// Conn is one opened endpoint.
//
// The embedded Packager frames PDUs for the wire variant (CRC for RTU, MBAP
// header for TCP). Exchange sends one request frame and returns one response
// frame, bounded by the timeout the Conn was opened with.
type Conn interface {
	modbus.Packager

	Endpoint() Endpoint
	Exchange(frame []byte) ([]byte, error)

	// Close is idempotent.
	Close() error
}

// Adapter opens endpoints.
type Adapter interface {
	Open(ep Endpoint) (Conn, error)
}

// Options bound every blocking call on a Conn.
type Options struct {
	Timeout     time.Duration
	IdleTimeout time.Duration
	LogFrames   bool
}

const (
	DefaultTimeout     = 300 * time.Millisecond
	DefaultIdleTimeout = 60 * time.Second
)

// Dialer is the production Adapter backed by goburrow handlers.
type Dialer struct {
	opts Options
	log  zerolog.Logger
}

// NewDialer creates a Dialer. Zero option values take defaults.
func NewDialer(opts Options, logger zerolog.Logger) *Dialer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Dialer{
		opts: opts,
		log:  logger.With().Str("component", "transport").Logger(),
	}
}

// Open connects to ep. Any failure is a TransportError{Unavailable}.
func (d *Dialer) Open(ep Endpoint) (Conn, error) {
	switch ep.Kind {
	case Serial:
		return openRTU(ep, d.opts, d.frameLogger(ep))
	case Network:
		return openTCP(ep, d.opts, d.frameLogger(ep))
	}
	return nil, &fault.TransportError{
		Kind:     fault.Unavailable,
		Endpoint: ep.String(),
		Err:      fmt.Errorf("unsupported endpoint kind %d", ep.Kind),
	}
}

// frameLogger routes goburrow's "sending/received % x" lines into zerolog.
func (d *Dialer) frameLogger(ep Endpoint) *log.Logger {
	if !d.opts.LogFrames {
		return nil
	}
	zl := d.log.With().Str("endpoint", ep.String()).Logger().Level(zerolog.DebugLevel)
	return log.New(zl, "", 0)
}

// ---- error classification ----

func unavailable(ep Endpoint, err error) error {
	return &fault.TransportError{Kind: fault.Unavailable, Endpoint: ep.String(), Err: err}
}

// classify maps a raw exchange error to Timeout or IOFault.
func classify(ep Endpoint, err error) error {
	kind := fault.IOFault
	if isTimeout(err) {
		kind = fault.Timeout
	}
	return &fault.TransportError{Kind: kind, Endpoint: ep.String(), Err: err}
}

// isTimeout recognises net deadlines and the serial driver's read timeout,
// which only surfaces as an error string.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

var errClosed = errors.New("connection closed")
