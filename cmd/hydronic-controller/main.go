package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/collector"
	"github.com/thatsimonsguy/hydronic-controller/internal/config"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/mockbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/logging"
	"github.com/thatsimonsguy/hydronic-controller/internal/storage"
	"github.com/thatsimonsguy/hydronic-controller/internal/telemetry"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

func main() {
	var (
		configPath  = flag.String("config", "/etc/hydronic/plant.conf", "Path to plant configuration file")
		logLevel    = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		logFile     = flag.String("log-file", "", "Log file path (default stderr)")
		dryRun      = flag.Bool("dry-run", false, "Route all hardware backends to in-memory mocks")
		metricsAddr = flag.String("metrics-addr", "", "Prometheus listener address, e.g. :9137")
		stateDB     = flag.String("state-db", "", "Runtime state database path (overrides config)")
		ddAgent     = flag.String("dd-agent", "", "DogStatsD agent address, e.g. 127.0.0.1:8125")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logging is not up yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	if err := logging.Init(level, *logFile); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log.Info().Str("config", *configPath).Bool("dry_run", *dryRun).Msg("Starting hydronic controller")

	var hook config.BackendHook
	if *dryRun {
		log.Warn().Msg("DRY RUN ENABLED — all relays route to in-memory mocks")
		hook = func(def config.BackendDef) (hwbackend.Backend, error) {
			return dryRunBackend(def)
		}
	}

	plt, err := config.Build(cfg, hook)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build plant from configuration")
	}

	stopClock := timekeep.Start()
	defer stopClock()

	statePath := cfg.Storage.Path
	if *stateDB != "" {
		statePath = *stateDB
	}
	var store *storage.Store
	if statePath != "" {
		store, err = storage.Open(statePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open state database")
		}
		defer store.Close()
		plt.RestoreState(store)
	}

	if err := plt.Online(); err != nil {
		log.Fatal().Err(err).Msg("Failed to bring plant online")
	}

	sink, err := telemetry.New(telemetry.Config{AgentAddr: *ddAgent})
	if err != nil {
		log.Warn().Err(err).Msg("Telemetry disabled")
	}

	if *metricsAddr != "" {
		go collector.Serve(*metricsAddr, plt)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(plt.TickInterval().Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			plt.Tick()
			sink.Publish(plt.TakeSnapshot())
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("Shutdown signal received")
			if store != nil {
				if err := plt.SaveState(store); err != nil {
					log.Warn().Err(err).Msg("State save incomplete")
				}
			}
			if err := plt.Offline(); err != nil {
				log.Error().Err(err).Msg("Plant offline reported errors")
				os.Exit(1)
			}
			return
		}
	}
}

// dryRunBackend builds a mock carrying the real device map's names, so a
// production configuration resolves unchanged.
func dryRunBackend(def config.BackendDef) (hwbackend.Backend, error) {
	b := mockbackend.New(def.Name)
	names, err := config.DeviceMapNames(def)
	if err != nil {
		return nil, err
	}
	for _, s := range names.Sensors {
		b.AddSensor(s)
	}
	for _, r := range names.Relays {
		b.AddRelay(r)
	}
	return b, nil
}
