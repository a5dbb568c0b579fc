// internal/config/config.go
package config

type Config struct {
	RegisterMap string `yaml:"register_map"`

	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Session     SessionConfig     `yaml:"session"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Display     []string          `yaml:"display"`
	Sink        SinkConfig        `yaml:"sink"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Log         LogConfig         `yaml:"log"`
	StatusBlock StatusBlockConfig `yaml:"status_block"`
}

// ---- DISCOVERY ----

type DiscoveryConfig struct {
	// Ports pins serial ports; empty means enumerate the host.
	Ports    []string `yaml:"ports"`
	Bauds    []int    `yaml:"bauds"`
	Parities []string `yaml:"parities"`
	DataBits int      `yaml:"data_bits"`
	StopBits int      `yaml:"stop_bits"`

	// TCP hosts are tried after every serial candidate.
	TCP []string `yaml:"tcp"`

	// NoSerial skips serial enumeration entirely.
	NoSerial bool `yaml:"no_serial"`

	ScanIntervalMs int  `yaml:"scan_interval_ms"`
	TimeoutMs      int  `yaml:"timeout_ms"`
	LogFrames      bool `yaml:"log_frames"`
}

// ---- SESSION ----

type SessionConfig struct {
	PollIntervalMs   int  `yaml:"poll_interval_ms"`
	FailureThreshold int  `yaml:"failure_threshold"`
	AutoConnect      bool `yaml:"auto_connect"`
}

// ---- SAMPLES ----

// ChannelsConfig names the registers sampled as CH1 and CH2.
type ChannelsConfig struct {
	CH1 string `yaml:"ch1"`
	CH2 string `yaml:"ch2"`
}

type SinkConfig struct {
	Capacity int `yaml:"capacity"`
}

// ---- OUTPUTS (all optional) ----

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// StatusBlockConfig publishes the session status block. Listen serves it
// locally; Target writes it into a remote holding-register area. Both are
// optional and may be combined.
type StatusBlockConfig struct {
	Listen     string              `yaml:"listen"`
	UnitID     uint8               `yaml:"unit_id"`
	DeviceName string              `yaml:"device_name"`
	Target     *StatusTargetConfig `yaml:"target"`
}

type StatusTargetConfig struct {
	Endpoint string `yaml:"endpoint"` // host[:port]
	UnitID   uint8  `yaml:"unit_id"`
	Address  uint16 `yaml:"address"`
}

// Enabled reports whether any status block output is configured.
func (s StatusBlockConfig) Enabled() bool {
	return s.Listen != "" || s.Target != nil
}
