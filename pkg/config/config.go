package config

import (
	"fmt"
	"time"
)

// Config holds client configuration values.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Player  PlayerConfig  `mapstructure:"player" yaml:"player"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	Compress          bool          `mapstructure:"compress" yaml:"compress"`
	ReconnectMinDelay time.Duration `mapstructure:"reconnect_min_delay" yaml:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
}

type PlayerConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Color channels are in [0, 1]
	ColorR float64 `mapstructure:"color_r" yaml:"color_r"`
	ColorG float64 `mapstructure:"color_g" yaml:"color_g"`
	ColorB float64 `mapstructure:"color_b" yaml:"color_b"`
}

// AuthConfig selects the credential provider: a fixed id token, or Firebase
// when an api key is set. Empty means anonymous.
type AuthConfig struct {
	IDToken        string `mapstructure:"id_token" yaml:"id_token"`
	FirebaseAPIKey string `mapstructure:"firebase_api_key" yaml:"firebase_api_key"`
	RefreshToken   string `mapstructure:"refresh_token" yaml:"refresh_token"`
	Email          string `mapstructure:"email" yaml:"email"`
	Password       string `mapstructure:"password" yaml:"password"`
}

const (
	StorageDriverNone     = "none"
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
)

type StorageConfig struct {
	Driver       string        `mapstructure:"driver" yaml:"driver"`
	Path         string        `mapstructure:"path" yaml:"path"`
	DatabaseURL  string        `mapstructure:"database_url" yaml:"database_url"`
	SaveInterval time.Duration `mapstructure:"save_interval" yaml:"save_interval"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			URL:               "ws://localhost:3000/ws",
			ReconnectMinDelay: 500 * time.Millisecond,
			ReconnectMaxDelay: 10 * time.Second,
			PingInterval:      5 * time.Second,
			QueueSize:         1024,
		},
		Player: PlayerConfig{
			Name:   "Sailor",
			ColorR: 0.2,
			ColorG: 0.4,
			ColorB: 0.8,
		},
		Storage: StorageConfig{
			Driver:       StorageDriverSQLite,
			Path:         "harbor.db",
			SaveInterval: 10 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	switch c.Storage.Driver {
	case StorageDriverNone, "":
	case StorageDriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case StorageDriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr is required when the api is enabled")
	}
	for _, channel := range []float64{c.Player.ColorR, c.Player.ColorG, c.Player.ColorB} {
		if channel < 0 || channel > 1 {
			return fmt.Errorf("player color channels must be in [0, 1]")
		}
	}
	return nil
}
