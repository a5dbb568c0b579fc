// internal/config/load.go
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tamzrod/qmb-monitor/internal/fault"
)

// Environment keys that override file values.
const (
	EnvPort           = "QMB_PORT"
	EnvBaud           = "QMB_BAUD"
	EnvParity         = "QMB_PARITY"
	EnvTCP            = "QMB_TCP"
	EnvScanIntervalMs = "QMB_SCAN_INTERVAL_MS"
	EnvPollIntervalMs = "QMB_POLL_INTERVAL_MS"
	EnvLogLevel       = "QMB_LOG_LEVEL"
)

var envKeys = []string{
	EnvPort, EnvBaud, EnvParity, EnvTCP,
	EnvScanIntervalMs, EnvPollIntervalMs, EnvLogLevel,
}

// Load reads a YAML config file. An empty path yields an empty Config so
// the monitor can run on flags and defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &fault.ConfigError{Field: path, Msg: "read config", Err: err}
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, &fault.ConfigError{Field: path, Msg: "parse config", Err: err}
	}
	return cfg, nil
}

// Environ collects the QMB_* overrides. Values from dotenv files come first;
// the process environment wins over them. Missing dotenv files are skipped.
func Environ(dotenv ...string) (map[string]string, error) {
	env := make(map[string]string)

	for _, f := range dotenv {
		vals, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &fault.ConfigError{Field: f, Msg: "read env file", Err: err}
		}
		for _, k := range envKeys {
			if v, ok := vals[k]; ok {
				env[k] = v
			}
		}
	}

	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv overlays env onto cfg. List-valued keys (QMB_PORT, QMB_BAUD,
// QMB_PARITY, QMB_TCP) take comma-separated values and replace the file
// lists.
func ApplyEnv(cfg *Config, env map[string]string) error {
	if v, ok := env[EnvPort]; ok {
		cfg.Discovery.Ports = splitList(v)
	}
	if v, ok := env[EnvBaud]; ok {
		var bauds []int
		for _, s := range splitList(v) {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fault.Configf(EnvBaud, "invalid baud %q", s)
			}
			bauds = append(bauds, n)
		}
		cfg.Discovery.Bauds = bauds
	}
	if v, ok := env[EnvParity]; ok {
		cfg.Discovery.Parities = splitList(v)
	}
	if v, ok := env[EnvTCP]; ok {
		cfg.Discovery.TCP = splitList(v)
	}
	if v, ok := env[EnvScanIntervalMs]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fault.Configf(EnvScanIntervalMs, "invalid milliseconds %q", v)
		}
		cfg.Discovery.ScanIntervalMs = n
	}
	if v, ok := env[EnvPollIntervalMs]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fault.Configf(EnvPollIntervalMs, "invalid milliseconds %q", v)
		}
		cfg.Session.PollIntervalMs = n
	}
	if v, ok := env[EnvLogLevel]; ok {
		cfg.Log.Level = strings.TrimSpace(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
