package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiry     = "JWT_EXPIRY"
	EnvCronSecret    = "CRON_SECRET"
	EnvRedisURL      = "REDIS_URL"
	EnvAdminUsername = "ADMIN_USERNAME"
	EnvAdminPassword = "ADMIN_PASSWORD"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// AdminConfig holds the bootstrap admin credentials.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// VerifyConfig controls the device-facing verification endpoint.
type VerifyConfig struct {
	ResponseFormat  string        `yaml:"response-format"`   // compact or descriptive.
	WallClockExpiry *bool         `yaml:"wall-clock-expiry"` // Gate on expires_at in addition to the flag.
	StoreTimeout    time.Duration `yaml:"store-timeout"`     // Upper bound for one store transaction.
}

// CacheConfig selects and tunes the verification lookup cache.
type CacheConfig struct {
	Backend  string        `yaml:"backend"` // redis, memory or none.
	RedisURL string        `yaml:"redis-url"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// RateLimitConfig configures per-client limits on the verification endpoint.
type RateLimitConfig struct {
	Limit  int  `yaml:"limit"`  // Requests per client address per second; 0 disables.
	Shared bool `yaml:"shared"` // Count windows in the cache.redis-url Redis.
}

// ReconcileConfig controls the in-process expiry reconciler loop.
type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ServerConfig is the runtime configuration read from the YAML file.
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	Debug          bool            `yaml:"debug"`
	LoggingToFile  bool            `yaml:"logging-to-file"`
	LogDir         string          `yaml:"log-dir"`
	CronSecret     string          `yaml:"cron-secret"`
	TrustedProxies []string        `yaml:"trusted-proxies"` // Peers whose X-Forwarded-For is believed; empty trusts none.
	Admin          AdminConfig     `yaml:"admin"`
	Verify         VerifyConfig    `yaml:"verify"`
	Cache          CacheConfig     `yaml:"cache"`
	RateLimit      RateLimitConfig `yaml:"rate-limit"`
	Reconcile      ReconcileConfig `yaml:"reconcile"`
}

// WallClockExpiryEnabled reports whether verification gates on expires_at directly.
func (c ServerConfig) WallClockExpiryEnabled() bool {
	if c.Verify.WallClockExpiry == nil {
		return true
	}
	return *c.Verify.WallClockExpiry
}

// LoadServerConfig loads runtime settings from the YAML config file.
// A missing file yields defaults so the service can run from env alone.
func LoadServerConfig(configPath string) (ServerConfig, error) {
	var cfg ServerConfig

	data, errRead := os.ReadFile(configPath)
	if errRead != nil && !os.IsNotExist(errRead) {
		return ServerConfig{}, fmt.Errorf("read config file: %w", errRead)
	}
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return ServerConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvCronSecret)); secret != "" {
		cfg.CronSecret = secret
	}
	if redisURL := strings.TrimSpace(os.Getenv(EnvRedisURL)); redisURL != "" {
		cfg.Cache.RedisURL = redisURL
		if strings.TrimSpace(cfg.Cache.Backend) == "" {
			cfg.Cache.Backend = internalsettings.CacheBackendRedis
		}
	}
	if username := strings.TrimSpace(os.Getenv(EnvAdminUsername)); username != "" {
		cfg.Admin.Username = username
	}
	if password := os.Getenv(EnvAdminPassword); strings.TrimSpace(password) != "" {
		cfg.Admin.Password = password
	}

	applyServerDefaults(&cfg)
	if errValidate := validateServerConfig(cfg); errValidate != nil {
		return ServerConfig{}, errValidate
	}
	return cfg, nil
}

// applyServerDefaults fills zero values with the documented defaults.
func applyServerDefaults(cfg *ServerConfig) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.CronSecret = strings.TrimSpace(cfg.CronSecret)
	cfg.Admin.Username = strings.TrimSpace(cfg.Admin.Username)
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = internalsettings.DefaultLogDir
	}

	cfg.Verify.ResponseFormat = strings.ToLower(strings.TrimSpace(cfg.Verify.ResponseFormat))
	if cfg.Verify.ResponseFormat == "" {
		cfg.Verify.ResponseFormat = internalsettings.ResponseFormatCompact
	}
	if cfg.Verify.StoreTimeout <= 0 {
		cfg.Verify.StoreTimeout = internalsettings.DefaultStoreTimeout
	}

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = internalsettings.CacheBackendMemory
	}
	cfg.Cache.RedisURL = strings.TrimSpace(cfg.Cache.RedisURL)
	cfg.Cache.Prefix = strings.TrimSpace(cfg.Cache.Prefix)
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = internalsettings.DefaultCacheTTL
	}

	if cfg.RateLimit.Limit < 0 {
		cfg.RateLimit.Limit = 0
	}

	proxies := cfg.TrustedProxies[:0]
	for _, proxy := range cfg.TrustedProxies {
		if proxy = strings.TrimSpace(proxy); proxy != "" {
			proxies = append(proxies, proxy)
		}
	}
	cfg.TrustedProxies = proxies

	if cfg.Reconcile.Interval < 0 {
		cfg.Reconcile.Interval = 0
	}
}

// validateServerConfig rejects settings that cannot be served.
func validateServerConfig(cfg ServerConfig) error {
	switch cfg.Verify.ResponseFormat {
	case internalsettings.ResponseFormatCompact, internalsettings.ResponseFormatDescriptive:
	default:
		return fmt.Errorf("config: unsupported verify.response-format %q", cfg.Verify.ResponseFormat)
	}
	switch cfg.Cache.Backend {
	case internalsettings.CacheBackendRedis:
		if cfg.Cache.RedisURL == "" {
			return fmt.Errorf("config: cache.redis-url is required for the redis backend")
		}
	case internalsettings.CacheBackendMemory, internalsettings.CacheBackendNone:
	default:
		return fmt.Errorf("config: unsupported cache.backend %q", cfg.Cache.Backend)
	}
	if cfg.RateLimit.Shared && cfg.Cache.RedisURL == "" {
		return fmt.Errorf("config: rate-limit.shared needs cache.redis-url")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("config: invalid port: %d", cfg.Port)
	}
	return nil
}
