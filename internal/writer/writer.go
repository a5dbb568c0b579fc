// internal/writer/writer.go
package writer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/qmb-monitor/internal/poller"
	"github.com/tamzrod/qmb-monitor/internal/session"
	"github.com/tamzrod/qmb-monitor/internal/sink"
	"github.com/tamzrod/qmb-monitor/internal/status"
)

// event is one engine notification crossing to the publisher goroutine.
type event struct {
	snap    *status.Snapshot
	samples []sink.Sample
}

// Publisher owns the status block and delivers it to every writer.
// Engine callbacks only enqueue; encoding and delivery happen in Run.
type Publisher struct {
	writers []StatusWriter
	log     zerolog.Logger

	events *sink.Queue[event]
	block  status.Block

	now func() time.Time
}

// NewPublisher creates a Publisher. deviceName is stored at the end of the
// block on every write.
func NewPublisher(deviceName string, writers []StatusWriter, logger zerolog.Logger) *Publisher {
	return &Publisher{
		writers: writers,
		log:     logger.With().Str("component", "status-block").Logger(),
		events:  sink.NewQueue[event](64),
		block:   status.Block{DeviceName: deviceName},
		now:     time.Now,
	}
}

// Observer returns the engine hooks feeding this publisher.
func (p *Publisher) Observer() session.Observer {
	return session.Observer{
		Status: func(s status.Snapshot) { p.events.Push(event{snap: &s}) },
		Poll: func(res poller.Result) {
			if res.Err == nil && len(res.Samples) > 0 {
				p.events.Push(event{samples: res.Samples})
			}
		},
	}
}

// Run delivers the block until ctx ends: once at start, on every engine
// event and once per second while the session is not healthy so that
// seconds_in_error keeps counting.
func (p *Publisher) Run(ctx context.Context) {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	// Full block write on start (identity re-assert).
	p.flush()

	for {
		select {
		case <-ctx.Done():
			return

		case <-p.events.C():
			for _, ev := range p.events.Drain() {
				p.apply(ev)
			}
			p.flush()

		case <-secTicker.C:
			if p.block.Snapshot.State.Health() != status.HealthOK {
				p.flush()
			}
		}
	}
}

func (p *Publisher) apply(ev event) {
	if ev.snap != nil {
		p.block.Snapshot = *ev.snap
	}
	for _, s := range ev.samples {
		switch s.Channel {
		case sink.CH1:
			p.block.CH1 = s.Value
		case sink.CH2:
			p.block.CH2 = s.Value
		}
	}
}

func (p *Publisher) flush() {
	regs := status.Encode(p.block, p.now())
	for _, w := range p.writers {
		if err := w.WriteStatus(regs); err != nil {
			p.log.Warn().Err(err).Msg("status write failed")
		}
	}
}
