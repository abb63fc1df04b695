package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"slotguard/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Backup      BackupConfig      `yaml:"backup"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
	Booking     BookingConfig     `yaml:"booking"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	HTTP APIHTTPConfig `yaml:"http"`
	GRPC APIGRPCConfig `yaml:"grpc"`
	Auth APIAuthConfig `yaml:"auth"`
	// TrustForwardedFor makes the first X-Forwarded-For hop the caller address.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey maps a caller key to the rate-limit tier it is billed against.
type APIClientKey struct {
	Key  string      `yaml:"key"`
	Name string      `yaml:"name"`
	Tier models.Tier `yaml:"tier"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConnections int    `yaml:"max_connections"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type BookingConfig struct {
	LockTimeout     time.Duration     `yaml:"lock_timeout"`
	LockMode        string            `yaml:"lock_mode"`
	DefaultCapacity int               `yaml:"default_capacity"`
	Resources       []models.Resource `yaml:"resources"`
	// PendingTTL cancels bookings left in pending longer than this. Zero disables the sweeper.
	PendingTTL    time.Duration `yaml:"pending_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RateLimitConfig struct {
	FallbackEnabled  *bool                      `yaml:"fallback_enabled"`
	RecoveryInterval time.Duration              `yaml:"recovery_interval"`
	IdleTTL          time.Duration              `yaml:"idle_ttl"`
	Tiers            map[models.Tier]TierLimits `yaml:"tiers"`
}

// TierLimits holds per-window quotas. Zero means unlimited for that window.
type TierLimits struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
}

type IdempotencyConfig struct {
	TTL   time.Duration `yaml:"ttl"`
	Lease time.Duration `yaml:"lease"`
	Wait  time.Duration `yaml:"wait"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	LockModeNoWait = "nowait"
	LockModeWait   = "wait"
)

func Load(configPath string) (*Config, error) {
	// .env is optional; real deployments inject the environment directly
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" {
			return errors.New("database.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Booking.LockMode != LockModeNoWait && c.Booking.LockMode != LockModeWait {
		return fmt.Errorf("booking.lock_mode must be %q or %q", LockModeNoWait, LockModeWait)
	}

	if err := ValidateResources(c.Booking.Resources); err != nil {
		return err
	}

	for tier, limits := range c.RateLimit.Tiers {
		if !tier.Valid() {
			return fmt.Errorf("unknown rate limit tier %q", tier)
		}
		if limits.PerMinute < 0 || limits.PerHour < 0 {
			return fmt.Errorf("rate limit tier %q has negative limits", tier)
		}
	}

	for _, k := range c.API.Auth.APIKeys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key %q is empty", k.Name)
		}
		if !k.Tier.Valid() {
			return fmt.Errorf("api key %q has unknown tier %q", k.Name, k.Tier)
		}
	}

	return nil
}

func ValidateResources(resources []models.Resource) error {
	seen := make(map[string]bool)
	for _, r := range resources {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return errors.New("resource with empty name")
		}
		if strings.ContainsAny(name, "/") {
			return fmt.Errorf("resource name %q must not contain '/'", name)
		}
		if r.Capacity <= 0 {
			return fmt.Errorf("resource %q has invalid capacity %d", name, r.Capacity)
		}
		if seen[name] {
			return fmt.Errorf("duplicate resource found: %s", name)
		}
		seen[name] = true
	}
	return nil
}

// FallbackOn reports whether the limiter may degrade to in-process counters.
func (c RateLimitConfig) FallbackOn() bool {
	return c.FallbackEnabled == nil || *c.FallbackEnabled
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "slotguard"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.MaxConnections == 0 {
		c.Database.Postgres.MaxConnections = 20
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Booking.LockTimeout <= 0 {
		c.Booking.LockTimeout = models.DefaultLockTimeout
	}
	if c.Booking.LockMode == "" {
		c.Booking.LockMode = LockModeNoWait
	}
	if c.Booking.DefaultCapacity <= 0 {
		c.Booking.DefaultCapacity = 1
	}
	if c.Booking.SweepInterval <= 0 {
		c.Booking.SweepInterval = time.Minute
	}

	if c.RateLimit.RecoveryInterval <= 0 {
		c.RateLimit.RecoveryInterval = time.Minute
	}
	if c.RateLimit.IdleTTL <= 0 {
		c.RateLimit.IdleTTL = 2 * time.Hour
	}
	if c.RateLimit.Tiers == nil {
		c.RateLimit.Tiers = make(map[models.Tier]TierLimits)
	}
	for tier, def := range DefaultTierLimits() {
		if _, ok := c.RateLimit.Tiers[tier]; !ok {
			c.RateLimit.Tiers[tier] = def
		}
	}

	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = models.DefaultIdempotencyTTL
	}
	if c.Idempotency.Lease <= 0 {
		c.Idempotency.Lease = 30 * time.Second
	}
	if c.Idempotency.Wait <= 0 {
		c.Idempotency.Wait = 2 * time.Second
	}
}

// DefaultTierLimits are conservative quotas used until real traffic data exists.
func DefaultTierLimits() map[models.Tier]TierLimits {
	return map[models.Tier]TierLimits{
		models.TierPublic:   {PerMinute: 20, PerHour: 200},
		models.TierCustomer: {PerMinute: 60, PerHour: 1000},
		models.TierAdmin:    {PerMinute: 600, PerHour: 0},
	}
}
