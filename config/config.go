/*
config.go - Environment configuration for the commission engine

PURPOSE:
  Loads process configuration from the environment, optionally seeded from
  .env files. Both binaries (cmd/server, cmd/commissionctl) use it so that
  they agree on the database, rules and lock policy.

KEYS:
  PORT                         HTTP port (8080)
  DB_PATH                      SQLite path, ":memory:" allowed (commission.db)
  LOG_LEVEL                    debug|info|warn|error (info)
  LOG_FORMAT                   text|json (text)
  RULES_PATH                   Revenue rules YAML, optional
  SYNC_CONCURRENCY             Parallel project lookups during sync (8)
  SYNC_INTERVAL                Scheduled sync of open months, 0 disables (0s)
  LOCK_REQUIRES_COMPLETE_SYNC  Reject Lock unless the latest sync had no failures (false)
  TAX_INCLUSIVE_DIVISOR        Gross-to-net divisor, overridden by RULES_PATH (1.1)
  METRICS_ENABLED              Serve Prometheus metrics (true)
  METRICS_PATH                 Metrics route (/metrics)
  CORS_ORIGINS                 Comma separated allowed origins

SEE ALSO:
  - cmd/server/main.go: HTTP wiring
  - factory/rules.go: RULES_PATH document
*/
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultEnvFiles are read in order; missing files are ignored.
var DefaultEnvFiles = []string{".env", ".env.local"}

type Config struct {
	Port      int    `env:"PORT" envDefault:"8080"`
	DBPath    string `env:"DB_PATH" envDefault:"commission.db"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	RulesPath                string        `env:"RULES_PATH"`
	SyncConcurrency          int           `env:"SYNC_CONCURRENCY" envDefault:"8"`
	SyncInterval             time.Duration `env:"SYNC_INTERVAL" envDefault:"0s"`
	LockRequiresCompleteSync bool          `env:"LOCK_REQUIRES_COMPLETE_SYNC" envDefault:"false"`
	TaxInclusiveDivisor      string        `env:"TAX_INCLUSIVE_DIVISOR" envDefault:"1.1"`

	MetricsEnabled bool     `env:"METRICS_ENABLED" envDefault:"true"`
	MetricsPath    string   `env:"METRICS_PATH" envDefault:"/metrics"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","`
}

// LoadEnv seeds the environment from the env files that exist. Variables
// already set in the process win.
func LoadEnv(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return errors.Wrap(err, "load env files")
	}
	return nil
}

// Load reads DefaultEnvFiles and parses the environment.
func Load() (*Config, error) {
	if err := LoadEnv(DefaultEnvFiles); err != nil {
		return nil, err
	}
	return Parse()
}

// Parse reads the current environment without touching env files.
func Parse() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("PORT: %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH: must not be empty")
	}
	if c.SyncConcurrency <= 0 {
		return errors.Errorf("SYNC_CONCURRENCY: must be > 0, got %d", c.SyncConcurrency)
	}
	if c.SyncInterval < 0 {
		return errors.Errorf("SYNC_INTERVAL: must be >= 0, got %s", c.SyncInterval)
	}
	if _, err := c.Divisor(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Errorf("LOG_LEVEL: unknown level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.Errorf("LOG_FORMAT: expected text or json, got %q", c.LogFormat)
	}
	if c.MetricsEnabled && !strings.HasPrefix(c.MetricsPath, "/") {
		return errors.Errorf("METRICS_PATH: must start with /, got %q", c.MetricsPath)
	}
	return nil
}

// Divisor parses TaxInclusiveDivisor.
func (c *Config) Divisor() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.TaxInclusiveDivisor)
	if err != nil {
		return decimal.Zero, errors.Errorf("TAX_INCLUSIVE_DIVISOR: invalid decimal %q", c.TaxInclusiveDivisor)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.Errorf("TAX_INCLUSIVE_DIVISOR: must be > 0, got %s", d)
	}
	return d, nil
}

func (c *Config) LogrusLogLevel() logrus.Level {
	switch strings.ToLower(c.LogLevel) {
	case "error":
		return logrus.ErrorLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(c.LogrusLogLevel())
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
