// Package config loads the call server's deployment configuration from YAML with
// environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"mqtt-call/protocol"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Broker    BrokerConfig    `yaml:"broker"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Name            string          `yaml:"name"`
	Debug           bool            `yaml:"debug"`
	QueueLength     int             `yaml:"queueLength"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	HandlerTimeout  time.Duration   `yaml:"handlerTimeout"` // 0 disables
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"` // 0 disables
	Burst int     `yaml:"burst"`
}

type BrokerConfig struct {
	URL                  string        `yaml:"url"`
	ClientID             string        `yaml:"clientId"`
	Username             string        `yaml:"username"`
	Password             string        `yaml:"password"`
	KeepAlive            time.Duration `yaml:"keepAlive"`
	ConnectTimeout       time.Duration `yaml:"connectTimeout"`
	MaxReconnectInterval time.Duration `yaml:"maxReconnectInterval"`
}

type IndicatorConfig struct {
	Path      string `yaml:"path"` // Empty: log-only indicator
	ActiveLow bool   `yaml:"activeLow"`
}

type DiscoveryConfig struct {
	Endpoints []string `yaml:"endpoints"` // Empty disables announcement
	TTL       int64    `yaml:"ttl"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // Empty disables /metrics
}

// Default returns a configuration with every optional field filled in.
func Default() Config {
	return Config{
		Server: ServerConfig{
			QueueLength:     1,
			ShutdownTimeout: 5 * time.Second,
		},
		Broker: BrokerConfig{
			KeepAlive:            30 * time.Second,
			ConnectTimeout:       10 * time.Second,
			MaxReconnectInterval: time.Minute,
		},
		Discovery: DiscoveryConfig{TTL: 10},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides, fills derived values and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Annotate(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parse %s", path)
		}
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies CALL_* environment variables.
func ApplyEnvOverrides(cfg *Config) error {
	if v := env("CALL_SERVER_NAME"); v != "" {
		cfg.Server.Name = v
	}
	if v := env("CALL_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := env("CALL_BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := env("CALL_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := env("CALL_ETCD_ENDPOINTS"); v != "" {
		cfg.Discovery.Endpoints = strings.Split(v, ",")
	}
	if v := env("CALL_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Annotate(err, "CALL_DEBUG")
		}
		cfg.Server.Debug = debug
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (c *Config) fill() {
	if c.Broker.ClientID == "" && c.Server.Name != "" {
		c.Broker.ClientID = c.Server.Name + "-" + uuid.NewString()
	}
	if c.Server.QueueLength < 1 {
		c.Server.QueueLength = 1
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := protocol.ValidateName("server.name", c.Server.Name); err != nil {
		return errors.Trace(err)
	}
	if c.Broker.URL == "" {
		return errors.NotValidf("empty broker.url")
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return errors.NotValidf("negative server.rateLimit")
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst == 0 {
		return errors.NotValidf("server.rateLimit.burst 0 with rps set")
	}
	if c.Server.HandlerTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return errors.NotValidf("negative timeout")
	}
	if len(c.Discovery.Endpoints) > 0 && c.Discovery.TTL < 1 {
		return errors.NotValidf("discovery.ttl %d", c.Discovery.TTL)
	}
	return nil
}
