// internal/session/run.go
package session

import (
	"context"
	"errors"
	"time"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
	"github.com/tamzrod/qmb-monitor/internal/status"
)

// Run drives the engine until ctx ends. The bound handle is closed on return.
// Session calls (writes, reads) are served before the next step is due.
func (e *Engine) Run(ctx context.Context) error {
	defer e.dropSession()

	if e.cfg.AutoConnect {
		e.Handle(CmdConnect)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		// calls first: a pending write never waits behind a poll tick
		select {
		case c := <-e.calls:
			e.serve(c, timer)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-e.cmds:
			e.Handle(cmd)
			reset(timer, 0)

		case c := <-e.calls:
			e.serve(c, timer)

		case <-timer.C:
			timer.Reset(e.Step(ctx))
		}
	}
}

func (e *Engine) serve(c call, timer *time.Timer) {
	// Reconnecting keeps the condemned handle until the next step
	if e.sess == nil || !e.state.Bound() {
		c.reply <- fault.ErrNoSession
		return
	}

	err := c.fn(e.sess)
	if err != nil && sessionFailure(err) {
		e.fail(err)
		if e.state == status.Reconnecting {
			reset(timer, 0)
		}
	}
	c.reply <- err
}

// sessionFailure reports errors that count against the session: transport
// failures and malformed frames. Device exceptions and validation errors do
// not.
func sessionFailure(err error) bool {
	return fault.IsTransport(err, 0) || fault.IsProtocol(err, fault.MalformedResponse)
}

func reset(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// do runs fn on the engine goroutine and waits for its result.
func (e *Engine) do(ctx context.Context, fn func(*Session) error) error {
	c := call{fn: fn, reply: make(chan error, 1)}

	select {
	case e.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write validates req and, when valid, performs exactly one device write on
// the engine goroutine. It blocks until Run serves it or ctx ends.
// Invalid requests return a ValidationError without touching the engine;
// valid requests without a session return fault.ErrNoSession.
func (e *Engine) Write(ctx context.Context, req scaledio.WriteRequest) error {
	if _, _, err := scaledio.Prepare(e.cfg.Map, req); err != nil {
		e.notifyWrite(req, err)
		return err
	}

	err := e.do(ctx, func(s *Session) error {
		werr := s.IO().WriteScaled(req)
		e.notifyWrite(req, werr)
		return werr
	})
	if errors.Is(err, fault.ErrNoSession) {
		e.notifyWrite(req, err)
	}
	return err
}

// ReadValue reads one register on demand through the bound session.
func (e *Engine) ReadValue(ctx context.Context, name string) (scaledio.Value, error) {
	if _, ok := e.cfg.Map.ByName(name); !ok {
		return scaledio.Value{}, &fault.ValidationError{Kind: fault.UnknownRegister, Register: name}
	}

	var v scaledio.Value
	err := e.do(ctx, func(s *Session) error {
		var err error
		v, err = s.IO().ReadValue(name)
		return err
	})
	return v, err
}
