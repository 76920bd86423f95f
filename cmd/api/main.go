package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/urmzd/ecovent/pkg/api"
	"github.com/urmzd/ecovent/pkg/config"
	"github.com/urmzd/ecovent/pkg/db"
	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/device/schema"
	"github.com/urmzd/ecovent/pkg/metrics"
	"github.com/urmzd/ecovent/pkg/mqttbridge"
	"github.com/urmzd/ecovent/pkg/vento"

	_ "github.com/urmzd/ecovent/docs"
)

// @title           EcoVent API
// @version         1.0
// @description     REST API for Blauberg/EcoVent Vento Expert ventilation fans

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

func main() {
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	opts, err := config.Load(pflag.CommandLine)
	if err != nil {
		// Logging is not configured yet
		log.Fatal().Err(err).Msg("Failed to load options")
	}
	opts.SetupLogging()
	if opts.ConfigFile != "" {
		log.Info().Str("path", opts.ConfigFile).Msg("Config file loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database
	database, err := db.Open(opts.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	log.Info().Str("path", database.Path()).Msg("Database opened")

	if err := database.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Bootstrap if needed (first run)
	needsBootstrap, err := database.NeedsBootstrap(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to check bootstrap status")
	}
	if needsBootstrap {
		log.Info().Msg("First run detected, bootstrapping database...")
		if err := database.Bootstrap(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to bootstrap database")
		}
		log.Info().Msg("Database bootstrapped successfully")
	}

	cfg, err := database.ActiveConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	addr := cfg.APIAddress()
	if opts.Listen != "" {
		addr = opts.Listen
	}
	searchTarget := cfg.SearchTarget()
	if opts.SearchTarget != "" {
		searchTarget = opts.SearchTarget
	}
	pollInterval := cfg.PollInterval()
	if opts.PollInterval > 0 {
		pollInterval = opts.PollInterval
	}

	log.Info().
		Str("profile", cfg.Profile.Name).
		Str("api_address", addr).
		Str("search_target", searchTarget).
		Dur("poll_interval", pollInterval).
		Msg("Configuration loaded")

	// Fall back to the null controller if saved fans cannot be loaded
	var controller device.Controller
	var eventSubscriber device.EventSubscriber
	var bridgeDone <-chan struct{}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fans, err := vento.NewController(ctx, vento.ControllerConfig{
		Store:        database.Registrations(),
		PollInterval: pollInterval,
		SearchTarget: searchTarget,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Fan controller unavailable, using null controller")
		controller = device.NewNullController()
		eventSubscriber = device.NewNullEventSubscriber()
	} else {
		defer fans.Close()
		controller = fans
		eventSubscriber = fans
		registry.MustRegister(metrics.NewCollector(fans))

		if opts.MQTT.Enabled() {
			bridgeDone = startBridge(ctx, opts.MQTT, fans)
		}
	}

	router := api.NewRouter(controller, eventSubscriber, schema.NewValidator(), registry)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Str("address", addr).Msg("Starting API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed")
		stop()
		os.Exit(1)
	}
	if bridgeDone != nil {
		<-bridgeDone
	}
}

// startBridge connects to the MQTT broker and mirrors fans into Home
// Assistant until ctx ends. The returned channel closes once the bridge has
// marked itself offline. A broker that cannot be reached is logged and
// skipped, and nil is returned.
func startBridge(ctx context.Context, opts config.MQTT, fans *vento.Controller) <-chan struct{} {
	broker, err := mqttbridge.Dial(mqttbridge.BrokerConfig{
		URL:         opts.URL,
		Username:    opts.Username,
		Password:    opts.Password,
		WillTopic:   mqttbridge.StatusTopic(opts.BaseTopic),
		WillPayload: "offline",
	})
	if err != nil {
		log.Error().Err(err).Str("broker", opts.URL).Msg("MQTT bridge disabled")
		return nil
	}

	bridge := mqttbridge.New(broker, fans, mqttbridge.Config{
		DiscoveryPrefix: opts.DiscoveryPrefix,
		BaseTopic:       opts.BaseTopic,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer broker.Close()
		if err := bridge.Run(ctx); err != nil {
			log.Error().Err(err).Msg("MQTT bridge stopped")
		}
	}()
	return done
}
