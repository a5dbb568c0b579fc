// cmd/qmbsim/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/simulator"
)

func main() {
	var (
		regPath = flag.String("registers", "configs/registers.yaml", "register map file")
		listen  = flag.String("listen", "127.0.0.1:5020", "modbus tcp listen address")
		unitID  = flag.Uint("unit", 0, "unit id answered (0 = map slave_id)")
		rate    = flag.Float64("rate", simulator.DefaultRate, "deposition rate in A/s")
		tick    = flag.Duration("tick", 100*time.Millisecond, "simulation step")
		name    = flag.String("name", "QMB6-SIM", "device name")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	m, err := regmap.Load(*regPath)
	if err != nil {
		log.Fatal().Err(err).Msg("register map load failed")
	}
	if *unitID > 247 {
		log.Fatal().Uint("unit", *unitID).Msg("unit id out of range")
	}

	d := simulator.New(m, simulator.Options{UnitID: uint8(*unitID), Rate: *rate})

	// device defaults; entries missing from a custom map are skipped
	for reg, v := range map[string]float64{
		"CH1_Density":             1.0,
		"CH2_Density":             1.0,
		"CH1_ZFactor":             1.0,
		"CH2_ZFactor":             1.0,
		"CH1_ToolingFactor_x1000": 1.0,
		"CH2_ToolingFactor_x1000": 1.0,
		"CH1_MinFreq_Hz":          5_000_000,
		"CH2_MinFreq_Hz":          5_000_000,
		"CH1_MaxFreq_Hz":          6_000_000,
		"CH2_MaxFreq_Hz":          6_000_000,
	} {
		if err := d.Set(reg, v); err != nil {
			log.Debug().Err(err).Str("register", reg).Msg("preset skipped")
		}
	}
	if err := d.SetText("DeviceName", *name); err != nil {
		log.Debug().Err(err).Msg("device name skipped")
	}

	srv, err := simulator.Listen(*listen, d)
	if err != nil {
		log.Fatal().Err(err).Msg("listen failed")
	}
	defer srv.Close()

	log.Info().
		Str("listen", *listen).
		Str("register_map", *regPath).
		Float64("rate", *rate).
		Msg("simulator running")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.Run(ctx, *tick)
	log.Info().Int("writes", d.Writes()).Msg("shutdown")
}
