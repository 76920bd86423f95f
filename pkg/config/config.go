// Package config loads process options shared by the ecovent binaries.
// Values come from command-line flags, ECOVENT_* environment variables and
// an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ECOVENT"

const (
	keyConfig        = "config"
	keyDB            = "db"
	keyListen        = "listen"
	keySearchTarget  = "search-target"
	keyPollInterval  = "poll-interval"
	keyLogLevel      = "log-level"
	keyMQTTURL       = "mqtt-url"
	keyMQTTUsername  = "mqtt-username"
	keyMQTTPassword  = "mqtt-password"
	keyMQTTDiscovery = "mqtt-discovery-prefix"
	keyMQTTBaseTopic = "mqtt-base-topic"
)

// MQTT holds Home Assistant bridge options. An empty URL disables the bridge.
type MQTT struct {
	URL             string
	Username        string
	Password        string
	DiscoveryPrefix string
	BaseTopic       string
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool { return m.URL != "" }

// Options are the resolved process options. Empty Listen, SearchTarget and
// zero PollInterval defer to the active profile in the database.
type Options struct {
	ConfigFile   string
	DBPath       string
	Listen       string
	SearchTarget string
	PollInterval time.Duration
	LogLevel     zerolog.Level
	MQTT         MQTT
}

// RegisterFlags adds the shared flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(keyConfig, "", "Path to config file (default: ~/.config/ecovent/config.yaml if present)")
	fs.String(keyDB, "", "Path to database file (default: ~/.config/ecovent/ecovent.db)")
	fs.String(keyListen, "", "API listen address (overrides the profile's api_server)")
	fs.String(keySearchTarget, "", "Broadcast address used for fan discovery")
	fs.Duration(keyPollInterval, 0, "Default poll interval for fans without their own")
	fs.String(keyLogLevel, "info", "Log level (trace, debug, info, warn, error)")
	fs.String(keyMQTTURL, "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables the bridge)")
	fs.String(keyMQTTUsername, "", "MQTT username")
	fs.String(keyMQTTPassword, "", "MQTT password")
	fs.String(keyMQTTDiscovery, "homeassistant", "Home Assistant discovery prefix")
	fs.String(keyMQTTBaseTopic, "ecovent", "Base topic for fan state and commands")
}

// Load resolves options from fs, the environment and the config file.
// fs must have been parsed. A config file named explicitly must exist.
func Load(fs *pflag.FlagSet) (*Options, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "ecovent"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString(keyLogLevel)))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	poll := v.GetDuration(keyPollInterval)
	if poll < 0 {
		return nil, fmt.Errorf("poll interval must not be negative: %s", poll)
	}

	return &Options{
		ConfigFile:   v.ConfigFileUsed(),
		DBPath:       v.GetString(keyDB),
		Listen:       v.GetString(keyListen),
		SearchTarget: v.GetString(keySearchTarget),
		PollInterval: poll,
		LogLevel:     level,
		MQTT: MQTT{
			URL:             v.GetString(keyMQTTURL),
			Username:        v.GetString(keyMQTTUsername),
			Password:        v.GetString(keyMQTTPassword),
			DiscoveryPrefix: v.GetString(keyMQTTDiscovery),
			BaseTopic:       v.GetString(keyMQTTBaseTopic),
		},
	}, nil
}

// SetupLogging sends console-formatted logs to stderr at o.LogLevel.
func (o *Options) SetupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(o.LogLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
