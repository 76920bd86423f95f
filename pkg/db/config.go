package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNoActiveProfile = errors.New("no active profile found")

// Config represents the complete runtime configuration loaded from the database.
type Config struct {
	Profile   *Profile
	APIServer *APIServer
}

// APIAddress returns the API server listen address.
func (c *Config) APIAddress() string {
	if c.APIServer == nil {
		return "0.0.0.0:8080"
	}
	return c.APIServer.Address()
}

// SearchTarget returns the broadcast address used for fan discovery.
func (c *Config) SearchTarget() string {
	if c.Profile == nil {
		return ""
	}
	return c.Profile.SearchTarget
}

// PollInterval returns the default refresh interval for registered fans.
func (c *Config) PollInterval() time.Duration {
	if c.Profile == nil || c.Profile.PollInterval <= 0 {
		return time.Minute
	}
	return c.Profile.PollInterval
}

// ActiveConfig loads the complete configuration for the active profile.
func (db *DB) ActiveConfig(ctx context.Context) (*Config, error) {
	profile, err := db.Profiles().GetActive(ctx)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrNoActiveProfile
		}
		return nil, fmt.Errorf("failed to get active profile: %w", err)
	}

	config := &Config{
		Profile: profile,
	}

	apiServer, err := db.APIServer(ctx, profile.ID)
	if err != nil && !errors.Is(err, ErrAPIServerNotFound) {
		return nil, fmt.Errorf("failed to get API server config: %w", err)
	}
	config.APIServer = apiServer

	return config, nil
}
