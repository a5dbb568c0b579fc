// internal/config/normalize.go
package config

import (
	"strings"

	"github.com/tamzrod/qmb-monitor/internal/status"
	"github.com/tamzrod/qmb-monitor/internal/transport"
)

const (
	DefaultScanIntervalMs   = 2000
	DefaultTimeoutMs        = 300
	DefaultPollIntervalMs   = 300
	DefaultFailureThreshold = 3
	DefaultSinkCapacity     = 1024
	DefaultCH1              = "CH1_Thickness_A"
	DefaultCH2              = "CH2_Thickness_A"
	DefaultMQTTTopic        = "qmb"
	DefaultMQTTClientID     = "qmbmon"
	DefaultStatusUnitID     = 1
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	d := &cfg.Discovery
	if len(d.Bauds) == 0 {
		d.Bauds = append([]int(nil), transport.DefaultBauds...)
	}
	if len(d.Parities) == 0 {
		d.Parities = append([]string(nil), transport.DefaultParities...)
	}
	for i, p := range d.Parities {
		if p != "" {
			d.Parities[i] = strings.ToUpper(p[:1])
		}
	}
	if d.DataBits == 0 {
		d.DataBits = 8
	}
	if d.StopBits == 0 {
		d.StopBits = 1
	}
	if d.ScanIntervalMs == 0 {
		d.ScanIntervalMs = DefaultScanIntervalMs
	}
	if d.TimeoutMs == 0 {
		d.TimeoutMs = DefaultTimeoutMs
	}

	if cfg.Session.PollIntervalMs == 0 {
		cfg.Session.PollIntervalMs = DefaultPollIntervalMs
	}
	if cfg.Session.FailureThreshold == 0 {
		cfg.Session.FailureThreshold = DefaultFailureThreshold
	}

	if cfg.Channels.CH1 == "" {
		cfg.Channels.CH1 = DefaultCH1
	}
	if cfg.Channels.CH2 == "" {
		cfg.Channels.CH2 = DefaultCH2
	}
	if cfg.Sink.Capacity == 0 {
		cfg.Sink.Capacity = DefaultSinkCapacity
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = DefaultMQTTTopic
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = DefaultMQTTClientID
		}
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	// ------------------------------------------------------------
	// STATUS BLOCK (OPT-IN)
	// ------------------------------------------------------------

	sb := &cfg.StatusBlock
	if !sb.Enabled() {
		return
	}
	if sb.UnitID == 0 {
		sb.UnitID = DefaultStatusUnitID
	}
	if sb.Target != nil && sb.Target.UnitID == 0 {
		sb.Target.UnitID = DefaultStatusUnitID
	}
	// ASCII already validated
	if len(sb.DeviceName) > status.DeviceNameMaxChars {
		sb.DeviceName = sb.DeviceName[:status.DeviceNameMaxChars]
	}
}
