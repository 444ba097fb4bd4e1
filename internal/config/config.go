// Package config loads service settings from the environment, optionally
// seeded from a YAML file named by CONFIG_FILE. Environment variables always
// win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinPasswordLength is the shortest accepted session password.
const MinPasswordLength = 32

type Config struct {
	Port        string   `yaml:"port"`
	ServiceName string   `yaml:"service_name"`
	Env         string   `yaml:"env"`
	LogLevel    string   `yaml:"log_level"`
	CORSOrigins []string `yaml:"cors_allowed_origins"`

	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Catalog CatalogConfig `yaml:"catalog"`
}

type SessionConfig struct {
	Password   string        `yaml:"password"`
	CookieName string        `yaml:"cookie_name"`
	MaxAge     time.Duration `yaml:"max_age"`
	// Secure defaults to true in production.
	Secure bool `yaml:"secure"`
}

type StoreConfig struct {
	Backend       string        `yaml:"backend"`
	DatabaseURL   string        `yaml:"database_url"`
	DBHost        string        `yaml:"db_host"`
	DBPort        string        `yaml:"db_port"`
	DBUser        string        `yaml:"db_user"`
	DBPassword    string        `yaml:"db_password"`
	DBName        string        `yaml:"db_name"`
	DBSSLMode     string        `yaml:"db_sslmode"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns"`
	ConnMaxIdle   time.Duration `yaml:"conn_max_idle"`
	ConnMaxLife   time.Duration `yaml:"conn_max_lifetime"`
	SQLitePath    string        `yaml:"sqlite_path"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type CatalogConfig struct {
	BackendURL string        `yaml:"backend_url"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:        "8080",
		ServiceName: "cart-service",
		Env:         "development",
		LogLevel:    "info",
		Session: SessionConfig{
			CookieName: "storefront_session",
			MaxAge:     30 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Backend:       "memory",
			DBPort:        "5432",
			DBUser:        "postgres",
			DBPassword:    "postgres",
			DBName:        "erp_ecommerce",
			DBSSLMode:     "disable",
			MaxOpenConns:  60,
			MaxIdleConns:  20,
			ConnMaxIdle:   5 * time.Minute,
			ConnMaxLife:   30 * time.Minute,
			SQLitePath:    "cart-sessions.db",
			PruneInterval: time.Hour,
		},
		Catalog: CatalogConfig{
			Timeout:  5 * time.Second,
			CacheTTL: 45 * time.Second,
		},
	}
}

// Load reads CONFIG_FILE (if set) and then the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := env("CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = env("PORT", c.Port)
	c.ServiceName = env("SERVICE_NAME", c.ServiceName)
	c.Env = strings.ToLower(env("APP_ENV", c.Env))
	c.LogLevel = env("LOG_LEVEL", c.LogLevel)
	if raw := env("CORS_ALLOWED_ORIGINS", ""); raw != "" {
		c.CORSOrigins = splitList(raw)
	}

	c.Session.Password = env("SESSION_PASSWORD", c.Session.Password)
	c.Session.CookieName = env("SESSION_COOKIE_NAME", c.Session.CookieName)
	c.Session.MaxAge = durationEnv("SESSION_MAX_AGE", c.Session.MaxAge)
	c.Session.Secure = boolEnv("SESSION_SECURE", c.Session.Secure || c.Production())

	c.Store.Backend = strings.ToLower(env("STORE_BACKEND", c.Store.Backend))
	c.Store.DatabaseURL = env("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.DBHost = env("DB_HOST", c.Store.DBHost)
	c.Store.DBPort = env("DB_PORT", c.Store.DBPort)
	c.Store.DBUser = env("DB_USER", c.Store.DBUser)
	c.Store.DBPassword = env("DB_PASSWORD", c.Store.DBPassword)
	c.Store.DBName = env("DB_NAME", c.Store.DBName)
	c.Store.DBSSLMode = env("DB_SSLMODE", c.Store.DBSSLMode)
	c.Store.MaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", c.Store.MaxOpenConns)
	c.Store.MaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", c.Store.MaxIdleConns)
	c.Store.ConnMaxIdle = durationEnv("DB_CONN_MAX_IDLE", c.Store.ConnMaxIdle)
	c.Store.ConnMaxLife = durationEnv("DB_CONN_MAX_LIFETIME", c.Store.ConnMaxLife)
	c.Store.SQLitePath = env("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.PruneInterval = durationEnv("STORE_PRUNE_INTERVAL", c.Store.PruneInterval)

	c.Catalog.BackendURL = env("BACKEND_URL", c.Catalog.BackendURL)
	c.Catalog.Timeout = durationEnv("CATALOG_TIMEOUT", c.Catalog.Timeout)
	c.Catalog.CacheTTL = durationEnv("CATALOG_CACHE_TTL", c.Catalog.CacheTTL)
}

func (c Config) Production() bool { return c.Env == "production" || c.Env == "prod" }

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch n := len(c.Session.Password); {
	case n == 0:
		errs = append(errs, errors.New("SESSION_PASSWORD is required"))
	case n < MinPasswordLength:
		errs = append(errs, fmt.Errorf("SESSION_PASSWORD must be at least %d characters", MinPasswordLength))
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		errs = append(errs, errors.New("SESSION_COOKIE_NAME must not be empty"))
	}
	if c.Session.MaxAge <= 0 {
		errs = append(errs, errors.New("SESSION_MAX_AGE must be positive"))
	}
	switch c.Store.Backend {
	case "memory", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	return errors.Join(errs...)
}

// DSN returns DATABASE_URL, or a URL assembled from the DB_* settings.
func (s StoreConfig) DSN() (string, error) {
	if dsn := strings.TrimSpace(s.DatabaseURL); dsn != "" {
		return dsn, nil
	}
	if strings.TrimSpace(s.DBHost) == "" {
		return "", errors.New("missing DATABASE_URL or DB_HOST")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		s.DBUser, s.DBPassword, s.DBHost, s.DBPort, s.DBName, s.DBSSLMode), nil
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func boolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
