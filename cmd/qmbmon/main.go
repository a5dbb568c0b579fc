// cmd/qmbmon/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/qmb-monitor/internal/config"
	"github.com/tamzrod/qmb-monitor/internal/metrics"
	"github.com/tamzrod/qmb-monitor/internal/poller"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
	"github.com/tamzrod/qmb-monitor/internal/session"
	"github.com/tamzrod/qmb-monitor/internal/sink"
	"github.com/tamzrod/qmb-monitor/internal/status"
	"github.com/tamzrod/qmb-monitor/internal/transport"
	"github.com/tamzrod/qmb-monitor/internal/writer"
)

func main() {
	var (
		cfgPath      = flag.String("config", "", "config file (yaml)")
		regPath      = flag.String("registers", "", "register map file, overrides register_map")
		port         = flag.String("port", "", "serial port(s) to try, comma separated; skips enumeration")
		baud         = flag.Int("baud", 0, "pin one baud rate")
		parity       = flag.String("parity", "", "pin one parity (N, E, O)")
		scanInterval = flag.Duration("scan-interval", 0, "wait between scan passes")
		envFile      = flag.String("env", ".env", "dotenv file with QMB_* overrides")
	)
	flag.Parse()

	// bootstrap logger until config says otherwise
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	var dotenv []string
	if *envFile != "" {
		dotenv = append(dotenv, *envFile)
	}
	env, err := config.Environ(dotenv...)
	if err != nil {
		log.Fatal().Err(err).Msg("env load failed")
	}
	if err := config.ApplyEnv(cfg, env); err != nil {
		log.Fatal().Err(err).Msg("env override failed")
	}

	if *regPath != "" {
		cfg.RegisterMap = *regPath
	}
	if *port != "" {
		cfg.Discovery.Ports = strings.Split(*port, ",")
	}
	if *baud != 0 {
		cfg.Discovery.Bauds = []int{*baud}
	}
	if *parity != "" {
		cfg.Discovery.Parities = []string{*parity}
	}
	if *scanInterval != 0 {
		cfg.Discovery.ScanIntervalMs = int(scanInterval.Milliseconds())
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validation failed")
	}
	config.Normalize(cfg)

	log = newLogger(cfg.Log)

	m, err := regmap.Load(cfg.RegisterMap)
	if err != nil {
		log.Fatal().Err(err).Msg("register map load failed")
	}
	log.Info().
		Str("register_map", cfg.RegisterMap).
		Int("registers", m.Len()).
		Uint8("slave_id", m.SlaveID).
		Str("probe", m.Probe().Name).
		Msg("register map loaded")

	p, err := poller.Build(cfg, m)
	if err != nil {
		log.Fatal().Err(err).Msg("poller build failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Transport + discovery
	// --------------------

	dialer := transport.NewDialer(transport.Options{
		Timeout:   time.Duration(cfg.Discovery.TimeoutMs) * time.Millisecond,
		LogFrames: cfg.Discovery.LogFrames,
	}, log)

	scanner := transport.NewScanner(transport.ScanPlan{
		SlaveID:    m.SlaveID,
		Ports:      cfg.Discovery.Ports,
		Bauds:      cfg.Discovery.Bauds,
		Parities:   cfg.Discovery.Parities,
		DataBits:   cfg.Discovery.DataBits,
		StopBits:   cfg.Discovery.StopBits,
		TCP:        cfg.Discovery.TCP,
		SkipSerial: cfg.Discovery.NoSerial,
	})

	// --------------------
	// Sinks
	// --------------------

	sinks := sink.Multi{sink.NewLog(log)}

	if cfg.MQTT.Broker != "" {
		mq := sink.NewMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		}, cfg.Sink.Capacity, log)
		if err := mq.Connect(); err != nil {
			// paho keeps retrying in the background
			log.Warn().Err(err).Msg("mqtt connect failed")
		}
		defer mq.Close()
		go mq.Run(ctx)
		sinks = append(sinks, mq)
	}

	// --------------------
	// Observers
	// --------------------

	met := metrics.New()
	observers := []session.Observer{
		{
			Status: met.ObserveStatus,
			Poll:   met.ObservePoll,
			Write:  func(_ scaledio.WriteRequest, err error) { met.ObserveWrite(err) },
		},
		statusLogger(log),
	}

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux(met), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("listen", cfg.Metrics.Listen).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		log.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics enabled")
	}

	pub, closeStatus, err := writer.Build(cfg.StatusBlock, dialer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("status block setup failed")
	}
	if pub != nil {
		defer closeStatus()
		observers = append(observers, pub.Observer())
		go pub.Run(ctx)
	}

	// --------------------
	// Engine
	// --------------------

	e, err := session.New(session.Config{
		Map:              m,
		Adapter:          dialer,
		Scanner:          scanner,
		Poller:           p,
		Sink:             sinks,
		PollInterval:     time.Duration(cfg.Session.PollIntervalMs) * time.Millisecond,
		ScanInterval:     time.Duration(cfg.Discovery.ScanIntervalMs) * time.Millisecond,
		FailureThreshold: cfg.Session.FailureThreshold,
		AutoConnect:      cfg.Session.AutoConnect,
		Observers:        observers,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("engine setup failed")
	}

	go func() {
		c := &console{e: e, m: m, out: os.Stdout}
		c.serve(ctx, os.Stdin)
		stop()
	}()

	if !cfg.Session.AutoConnect {
		log.Info().Msg("idle; type connect to start scanning")
	}

	if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutdown")
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if c.Format == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return log.Level(level).With().Timestamp().Logger()
}

// statusLogger logs the indicator line whenever it changes.
func statusLogger(log zerolog.Logger) session.Observer {
	var last string
	return session.Observer{
		Status: func(s status.Snapshot) {
			text := s.Text()
			if text == last {
				return
			}
			last = text
			log.Info().
				Stringer("state", s.State).
				Uint16("last_error", s.LastErrorCode).
				Msg(text)
		},
	}
}

func metricsMux(met *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	return mux
}
