// internal/session/engine.go
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/poller"
	"github.com/tamzrod/qmb-monitor/internal/protocol"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
	"github.com/tamzrod/qmb-monitor/internal/sink"
	"github.com/tamzrod/qmb-monitor/internal/status"
	"github.com/tamzrod/qmb-monitor/internal/transport"
)

const (
	DefaultPollInterval     = 300 * time.Millisecond
	DefaultScanInterval     = 2 * time.Second
	DefaultFailureThreshold = 3
)

// Candidates produces the ordered endpoint set of one scan pass.
// An error may accompany a usable partial set.
// *transport.Scanner satisfies it.
type Candidates interface {
	Candidates() ([]transport.Endpoint, error)
}

// Observer receives engine events on the engine goroutine. Nil fields are
// skipped. Callbacks must not block.
//
// Write is also called for requests rejected before reaching the engine
// (validation, no session); those calls run on the caller's goroutine.
type Observer struct {
	Status func(status.Snapshot)
	Poll   func(poller.Result)
	Write  func(scaledio.WriteRequest, error)
}

// Config wires an Engine.
type Config struct {
	Map     *regmap.Map
	Adapter transport.Adapter
	Scanner Candidates
	Poller  *poller.Poller
	Sink    sink.Sink

	PollInterval     time.Duration
	ScanInterval     time.Duration
	FailureThreshold int

	// AutoConnect issues a Connect command when Run starts.
	AutoConnect bool

	Observers []Observer
	Logger    zerolog.Logger
}

// Command is a user command observed at the next step boundary.
type Command uint8

const (
	CmdConnect Command = iota + 1
	CmdDisconnect
	CmdRescan
)

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "connect"
	case CmdDisconnect:
		return "disconnect"
	case CmdRescan:
		return "rescan"
	}
	return "unknown"
}

// call runs fn against the bound session on the engine goroutine.
type call struct {
	fn    func(*Session) error
	reply chan error
}

// Engine is the discovery and session state machine.
//
// Step performs one transition and reports how long to wait before the next
// one. Run drives Step from a timer and serves commands and session calls in
// between, so every transport call happens on one goroutine.
type Engine struct {
	cfg Config
	log zerolog.Logger

	state   status.State
	pending []transport.Endpoint
	target  transport.Endpoint
	reprobe bool
	sess    *Session
	lastErr uint16

	cmds  chan Command
	calls chan call

	mu   sync.Mutex
	last status.Snapshot

	now func() time.Time
}

// New validates cfg and returns an Idle engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Map == nil {
		return nil, errors.New("session: register map required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("session: transport adapter required")
	}
	if cfg.Scanner == nil {
		return nil, errors.New("session: candidate source required")
	}
	if cfg.Poller == nil {
		return nil, errors.New("session: poller required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}

	e := &Engine{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "session").Logger(),
		state: status.Idle,
		cmds:  make(chan Command, 8),
		calls: make(chan call),
		now:   time.Now,
	}
	e.last = e.snapshot()
	return e, nil
}

// State is the current state. Only meaningful on the engine goroutine or
// when Run is not running; other goroutines use Status.
func (e *Engine) State() status.State { return e.state }

// Status returns the last published snapshot. Safe from any goroutine.
func (e *Engine) Status() status.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Send queues a command for Run. It never blocks; a full queue drops the
// command and reports false.
func (e *Engine) Send(cmd Command) bool {
	select {
	case e.cmds <- cmd:
		return true
	default:
		return false
	}
}

// ---- state machine ----

// Handle applies a command immediately. Run calls it between steps; tests
// may call it directly when driving Step by hand.
func (e *Engine) Handle(cmd Command) {
	e.log.Debug().Stringer("cmd", cmd).Stringer("state", e.state).Msg("command")

	switch cmd {
	case CmdConnect:
		if e.state != status.Idle {
			return
		}
		e.pending = nil
		e.transition(status.Scanning)

	case CmdDisconnect:
		e.dropSession()
		e.pending = nil
		e.reprobe = false
		e.transition(status.Idle)

	case CmdRescan:
		if e.state.Bound() {
			e.log.Info().Msg("rescan ignored while connected")
			return
		}
		e.pending = nil
		e.reprobe = false
		e.transition(status.Scanning)
	}
}

// Step executes exactly one transition (or one poll) and returns the delay
// before the next step.
func (e *Engine) Step(ctx context.Context) time.Duration {
	if ctx.Err() != nil {
		return 0
	}

	switch e.state {
	case status.Scanning:
		return e.stepScanning()
	case status.Probing:
		return e.stepProbing()
	case status.Connected, status.Degraded:
		return e.stepPoll()
	case status.Reconnecting:
		return e.stepReconnecting()
	}

	// Idle waits for a command.
	return e.cfg.ScanInterval
}

func (e *Engine) stepScanning() time.Duration {
	if len(e.pending) == 0 {
		eps, err := e.cfg.Scanner.Candidates()
		if err != nil {
			// partial sets (TCP hosts after a failed port listing) still get probed
			e.log.Warn().Err(err).Int("candidates", len(eps)).Msg("enumerate candidates")
		}
		if len(eps) == 0 {
			// steady "waiting for device" loop, not an error
			return e.cfg.ScanInterval
		}
		e.pending = eps
		e.log.Debug().Int("candidates", len(eps)).Msg("scan pass")
	}

	e.target = e.pending[0]
	e.pending = e.pending[1:]
	e.transition(status.Probing)
	return 0
}

func (e *Engine) stepProbing() time.Duration {
	ep := e.target
	log := e.log.With().Str("endpoint", ep.String()).Logger()

	conn, err := e.cfg.Adapter.Open(ep)
	if err == nil {
		codec := protocol.New(conn)
		probe := e.cfg.Map.Probe()
		_, err = codec.ReadRegisters(probe.Function, probe.Address, probe.Quantity())

		if protocol.DevicePresent(err) {
			if err != nil {
				log.Info().Err(err).Msg("probe answered with exception, device present")
			}
			e.sess = newSession(conn, codec, e.cfg.Map)
			e.pending = nil
			e.reprobe = false
			e.lastErr = 0
			log.Info().Str("session", e.sess.ID).Msg("device connected")
			e.transition(status.Connected)
			return 0
		}
		_ = conn.Close()
	}

	e.lastErr = fault.Code(err)
	log.Debug().Err(err).Msg("probe failed")

	if e.reprobe {
		// the known endpoint is gone, start a fresh pass
		e.reprobe = false
		e.pending = nil
		e.transition(status.Scanning)
		return 0
	}

	e.transition(status.Scanning)
	if len(e.pending) == 0 {
		return e.cfg.ScanInterval
	}
	return 0
}

func (e *Engine) stepPoll() time.Duration {
	res := e.cfg.Poller.PollOnce(e.sess.codec)
	e.notifyPoll(res)

	if res.Err != nil {
		e.fail(res.Err)
		if e.state == status.Reconnecting {
			return 0
		}
		return e.cfg.PollInterval
	}

	e.sess.ConsecutiveFailures = 0
	e.sess.LastSuccessfulPoll = res.At
	e.lastErr = 0

	if e.cfg.Sink != nil {
		for _, s := range res.Samples {
			e.cfg.Sink.Push(s)
		}
	}

	if e.state != status.Connected {
		e.transition(status.Connected)
	}
	return e.cfg.PollInterval
}

func (e *Engine) stepReconnecting() time.Duration {
	if e.sess != nil {
		e.target = e.sess.Endpoint
	}
	e.dropSession()
	e.reprobe = true
	e.transition(status.Probing)
	return 0
}

// fail counts one failed poll or write against the session.
func (e *Engine) fail(err error) {
	e.sess.ConsecutiveFailures++
	e.lastErr = fault.Code(err)

	e.log.Warn().Err(err).
		Int("failures", e.sess.ConsecutiveFailures).
		Str("endpoint", e.sess.Endpoint.String()).
		Msg("session failure")

	if e.sess.ConsecutiveFailures >= e.cfg.FailureThreshold {
		e.transition(status.Reconnecting)
		return
	}
	e.transition(status.Degraded)
}

func (e *Engine) dropSession() {
	if e.sess == nil {
		return
	}
	if err := e.sess.close(); err != nil {
		e.log.Debug().Err(err).Msg("close handle")
	}
	e.log.Info().Str("session", e.sess.ID).Msg("session closed")
	e.sess = nil
}

// transition publishes a snapshot. Degraded re-publishes on every failure
// so the indicator carries the current count.
func (e *Engine) transition(to status.State) {
	from := e.state
	e.state = to
	if from != to {
		e.log.Debug().Stringer("from", from).Stringer("to", to).Msg("transition")
	}
	e.publish()
}

func (e *Engine) snapshot() status.Snapshot {
	s := status.Snapshot{
		State:         e.state,
		LastErrorCode: e.lastErr,
		Pending:       len(e.pending),
		At:            e.now(),
	}
	switch {
	case e.sess != nil:
		s.Endpoint = e.sess.Endpoint.String()
		s.SessionID = e.sess.ID
		s.Failures = e.sess.ConsecutiveFailures
		s.LastPoll = e.sess.LastSuccessfulPoll
	case e.state == status.Probing:
		s.Endpoint = e.target.String()
	}
	return s
}

func (e *Engine) publish() {
	s := e.snapshot()

	e.mu.Lock()
	e.last = s
	e.mu.Unlock()

	for _, o := range e.cfg.Observers {
		if o.Status != nil {
			o.Status(s)
		}
	}
}

func (e *Engine) notifyPoll(res poller.Result) {
	for _, o := range e.cfg.Observers {
		if o.Poll != nil {
			o.Poll(res)
		}
	}
}

func (e *Engine) notifyWrite(req scaledio.WriteRequest, err error) {
	for _, o := range e.cfg.Observers {
		if o.Write != nil {
			o.Write(req, err)
		}
	}
}
