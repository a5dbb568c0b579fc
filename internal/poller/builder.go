// internal/poller/builder.go
package poller

import (
	"github.com/tamzrod/qmb-monitor/internal/config"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/sink"
)

// Build constructs a Poller from normalized application config.
// Unset channels are skipped; display and channel names are resolved
// against m so a typo fails at startup, not on the first poll.
func Build(c *config.Config, m *regmap.Map) (*Poller, error) {
	var channels []Channel
	if c.Channels.CH1 != "" {
		channels = append(channels, Channel{Name: sink.CH1, Register: c.Channels.CH1})
	}
	if c.Channels.CH2 != "" {
		channels = append(channels, Channel{Name: sink.CH2, Register: c.Channels.CH2})
	}

	return New(Config{
		Display:  c.Display,
		Channels: channels,
	}, m)
}
