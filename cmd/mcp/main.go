package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/urmzd/ecovent/pkg/config"
	"github.com/urmzd/ecovent/pkg/db"
	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/device/schema"
	ecoventmcp "github.com/urmzd/ecovent/pkg/mcp"
	"github.com/urmzd/ecovent/pkg/vento"
)

func main() {
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	opts, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load options")
	}
	// Logging must go to stderr, stdout is the MCP transport
	opts.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	}

	cfg, err := database.ActiveConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	searchTarget := cfg.SearchTarget()
	if opts.SearchTarget != "" {
		searchTarget = opts.SearchTarget
	}
	pollInterval := cfg.PollInterval()
	if opts.PollInterval > 0 {
		pollInterval = opts.PollInterval
	}

	var controller device.Controller
	fans, err := vento.NewController(ctx, vento.ControllerConfig{
		Store:        database.Registrations(),
		PollInterval: pollInterval,
		SearchTarget: searchTarget,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Fan controller unavailable, using null controller")
		controller = device.NewNullController()
	} else {
		defer fans.Close()
		controller = fans
	}

	mcpServer := ecoventmcp.NewServer(controller, schema.NewValidator())

	log.Info().Msg("Starting MCP server on stdio")

	if err := mcpServer.ServeStdio(); err != nil {
		log.Error().Err(err).Msg("MCP server failed")
	}
}
