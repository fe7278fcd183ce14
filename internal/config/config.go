// Package config loads the workforce process configuration from YAML, with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/workforce-oss/workforce-sub002/internal/bus"
	"github.com/workforce-oss/workforce-sub002/internal/docrepo"
	"github.com/workforce-oss/workforce-sub002/internal/logging"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/store"
	"github.com/workforce-oss/workforce-sub002/internal/worker"
	"gopkg.in/yaml.v3"
)

// DefaultDSN is the sqlite database used when none is configured.
const DefaultDSN = "workforce.db"

type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Cache    CacheConfig    `yaml:"cache"`
	NATS     NATSConfig     `yaml:"nats"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Daemons  DaemonsConfig  `yaml:"daemons"`
	Slack    SlackConfig    `yaml:"slack"`
	GitHub   GitHubConfig   `yaml:"github"`
	// Credentials maps the credential ids named in worker channel user
	// configs to their tokens.
	Credentials map[string]string `yaml:"credentials"`
	// Objects are registered at startup.
	Objects []objects.Config `yaml:"objects"`
}

type BrokerConfig struct {
	Mode bus.Mode `yaml:"mode"`
	// RequestTimeout bounds request/response round trips. Zero waits
	// until the caller gives up.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type CacheConfig struct {
	Mode bus.Mode `yaml:"mode"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DaemonsConfig holds the reconciliation intervals. A negative interval
// turns the daemon off.
type DaemonsConfig struct {
	DocumentSweep time.Duration `yaml:"document_sweep"`
	WorkerFlush   time.Duration `yaml:"worker_flush"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

type GitHubConfig struct {
	Token string `yaml:"token"`
}

// Load reads the YAML file at path. An empty path yields the defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and defaults,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var brokerMode, cacheMode string
	set("WORKFORCE_BROKER_MODE", &brokerMode)
	set("WORKFORCE_CACHE_MODE", &cacheMode)
	if brokerMode != "" {
		c.Broker.Mode = bus.Mode(brokerMode)
	}
	if cacheMode != "" {
		c.Cache.Mode = bus.Mode(cacheMode)
	}
	set("NATS_URL", &c.NATS.URL)
	set("WORKFORCE_DB_DRIVER", &c.Database.Driver)
	set("WORKFORCE_DB_DSN", &c.Database.DSN)
	set("WORKFORCE_LOG_LEVEL", &c.Log.Level)
	set("WORKFORCE_LOG_FORMAT", &c.Log.Format)
	set("SLACK_BOT_TOKEN", &c.Slack.BotToken)
	set("SLACK_APP_TOKEN", &c.Slack.AppToken)
	set("GITHUB_TOKEN", &c.GitHub.Token)
}

func (c *Config) applyDefaults() {
	if c.Broker.Mode == "" {
		c.Broker.Mode = bus.ModeLocal
	}
	if c.Cache.Mode == "" {
		c.Cache.Mode = c.Broker.Mode
	}
	if c.Database.Driver == "" {
		c.Database.Driver = store.DriverSQLite
	}
	if c.Database.DSN == "" && c.Database.Driver == store.DriverSQLite {
		c.Database.DSN = DefaultDSN
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatConsole
	}
	if c.Daemons.DocumentSweep == 0 {
		c.Daemons.DocumentSweep = docrepo.DefaultSweepInterval
	}
	if c.Daemons.WorkerFlush == 0 {
		c.Daemons.WorkerFlush = worker.DefaultFlushInterval
	}
}

func (c *Config) validate() error {
	var errs []error
	for name, mode := range map[string]bus.Mode{"broker.mode": c.Broker.Mode, "cache.mode": c.Cache.Mode} {
		switch mode {
		case bus.ModeLocal:
		case bus.ModeNATS:
			if c.NATS.URL == "" {
				errs = append(errs, fmt.Errorf("%s %s requires nats.url", name, mode))
			}
		default:
			errs = append(errs, fmt.Errorf("%s %q is not one of %s, %s", name, mode, bus.ModeLocal, bus.ModeNATS))
		}
	}
	if c.Broker.RequestTimeout < 0 {
		errs = append(errs, errors.New("broker.request_timeout must not be negative"))
	}
	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverMySQL:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of %s, %s", c.Database.Driver, store.DriverSQLite, store.DriverMySQL))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != logging.FormatConsole && c.Log.Format != logging.FormatJSON {
		errs = append(errs, fmt.Errorf("log.format %q is not one of %s, %s", c.Log.Format, logging.FormatConsole, logging.FormatJSON))
	}
	for name, d := range map[string]time.Duration{"daemons.document_sweep": c.Daemons.DocumentSweep, "daemons.worker_flush": c.Daemons.WorkerFlush} {
		if d > 0 && d < time.Second {
			errs = append(errs, fmt.Errorf("%s %s is shorter than a second", name, d))
		}
	}

	seen := make(map[string]bool, len(c.Objects))
	for i, obj := range c.Objects {
		if err := obj.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("objects[%d]: %w", i, err))
			continue
		}
		if obj.Subtype == "" {
			errs = append(errs, fmt.Errorf("objects[%d]: subtype is required", i))
		}
		if seen[obj.ID] {
			errs = append(errs, fmt.Errorf("objects[%d]: duplicate id %s", i, obj.ID))
		}
		seen[obj.ID] = true
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}
