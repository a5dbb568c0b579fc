// internal/writer/builder.go
package writer

import (
	"github.com/rs/zerolog"

	"github.com/tamzrod/qmb-monitor/internal/config"
	"github.com/tamzrod/qmb-monitor/internal/transport"
)

// Build wires the configured status block outputs into a Publisher.
// It returns (nil, nil, nil) when no output is configured.
// Assumes config has already passed validation and normalization.
func Build(c config.StatusBlockConfig, a transport.Adapter, logger zerolog.Logger) (*Publisher, func() error, error) {
	if !c.Enabled() {
		return nil, nil, nil
	}

	var (
		writers []StatusWriter
		closers []func() error
	)

	closeAll := func() error {
		var last error
		for _, fn := range closers {
			if err := fn(); err != nil {
				last = err
			}
		}
		return last
	}

	if c.Listen != "" {
		mem := NewMemory(c.UnitID)
		srv, err := Serve(c.Listen, mem)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, mem)
		closers = append(closers, srv.Stop)
	}

	if t := c.Target; t != nil {
		ep, err := transport.NetworkEndpoint(t.Endpoint, t.UnitID)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		r := NewRemote(a, ep, t.Address)
		writers = append(writers, r)
		closers = append(closers, r.Close)
	}

	return NewPublisher(c.DeviceName, writers, logger), closeAll, nil
}
