// internal/config/validate.go
package config

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/status"
	"github.com/tamzrod/qmb-monitor/internal/transport"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fault.Configf("config", "missing")
	}

	if strings.TrimSpace(cfg.RegisterMap) == "" {
		return fault.Configf("register_map", "is required")
	}

	if err := validateDiscovery(cfg.Discovery); err != nil {
		return err
	}

	// ------------------------------------------------------------
	// SESSION TIMING
	// ------------------------------------------------------------

	if cfg.Session.PollIntervalMs < 0 {
		return fault.Configf("session.poll_interval_ms", "must not be negative, got %d", cfg.Session.PollIntervalMs)
	}
	if cfg.Session.FailureThreshold < 0 {
		return fault.Configf("session.failure_threshold", "must not be negative, got %d", cfg.Session.FailureThreshold)
	}

	// ------------------------------------------------------------
	// CHANNELS + DISPLAY
	// ------------------------------------------------------------

	if cfg.Channels.CH1 != "" && cfg.Channels.CH1 == cfg.Channels.CH2 {
		return fault.Configf("channels", "ch1 and ch2 both name %q", cfg.Channels.CH1)
	}

	shown := make(map[string]int)
	for i, name := range cfg.Display {
		if strings.TrimSpace(name) == "" {
			return fault.Configf("display", "entry %d is empty", i)
		}
		if prev, dup := shown[name]; dup {
			return fault.Configf("display", "register %q listed at %d and %d", name, prev, i)
		}
		shown[name] = i
	}

	if cfg.Sink.Capacity < 0 {
		return fault.Configf("sink.capacity", "must not be negative, got %d", cfg.Sink.Capacity)
	}

	// ------------------------------------------------------------
	// OUTPUTS
	// ------------------------------------------------------------

	if cfg.MQTT.Broker != "" && cfg.MQTT.QoS > 2 {
		return fault.Configf("mqtt.qos", "must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
			return &fault.ConfigError{Field: "log.level", Msg: "unknown level", Err: err}
		}
	}
	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		return fault.Configf("log.format", "must be console or json, got %q", cfg.Log.Format)
	}

	// device_name sanity (ASCII only)
	name := cfg.StatusBlock.DeviceName
	for i := 0; i < len(name); i++ {
		if name[i] > 0x7F {
			return fault.Configf("status_block.device_name", "must contain ASCII characters only")
		}
	}
	if cfg.StatusBlock.Listen != "" && cfg.StatusBlock.Listen == cfg.Metrics.Listen {
		return fault.Configf("status_block.listen", "collides with metrics.listen %s", cfg.Metrics.Listen)
	}
	if t := cfg.StatusBlock.Target; t != nil {
		if _, err := transport.NetworkEndpoint(t.Endpoint, t.UnitID); err != nil {
			return &fault.ConfigError{Field: "status_block.target.endpoint", Msg: "invalid address", Err: err}
		}
		if uint32(t.Address)+status.BlockSize > 1<<16 {
			return fault.Configf("status_block.target.address", "block at %d runs past register 65535", t.Address)
		}
	}

	return nil
}

func validateDiscovery(d DiscoveryConfig) error {
	for _, b := range d.Bauds {
		if b <= 0 {
			return fault.Configf("discovery.bauds", "invalid baud rate %d", b)
		}
	}

	for _, p := range d.Parities {
		switch strings.ToUpper(p) {
		case "N", "NONE", "E", "EVEN", "O", "ODD":
		default:
			return fault.Configf("discovery.parities", "unknown parity %q", p)
		}
	}

	if d.DataBits != 0 && (d.DataBits < 5 || d.DataBits > 8) {
		return fault.Configf("discovery.data_bits", "must be 5..8, got %d", d.DataBits)
	}
	if d.StopBits != 0 && d.StopBits != 1 && d.StopBits != 2 {
		return fault.Configf("discovery.stop_bits", "must be 1 or 2, got %d", d.StopBits)
	}

	// key = port
	ports := make(map[string]struct{})
	for _, p := range d.Ports {
		if strings.TrimSpace(p) == "" {
			return fault.Configf("discovery.ports", "empty port name")
		}
		if _, dup := ports[p]; dup {
			return fault.Configf("discovery.ports", "port=%s listed twice", p)
		}
		ports[p] = struct{}{}
	}

	// key = host:port
	hosts := make(map[string]string)
	for _, addr := range d.TCP {
		ep, err := transport.NetworkEndpoint(addr, 0)
		if err != nil {
			return &fault.ConfigError{Field: "discovery.tcp", Msg: "invalid address", Err: err}
		}
		key := ep.Address()
		if prev, dup := hosts[key]; dup {
			return fault.Configf("discovery.tcp", "address=%s given as %q and %q", key, prev, addr)
		}
		hosts[key] = addr
	}

	if d.NoSerial && len(d.TCP) == 0 {
		return fault.Configf("discovery", "no_serial is set but no tcp hosts are defined")
	}

	if d.ScanIntervalMs < 0 {
		return fault.Configf("discovery.scan_interval_ms", "must not be negative, got %d", d.ScanIntervalMs)
	}
	if d.TimeoutMs < 0 {
		return fault.Configf("discovery.timeout_ms", "must not be negative, got %d", d.TimeoutMs)
	}
	return nil
}
