package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port   string `yaml:"port" validate:"required,numeric"`
	AppEnv string `yaml:"app_env"`

	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`

	// postgres or memory
	StoreBackend   string        `yaml:"store_backend" validate:"oneof=postgres memory"`
	StoreTimeout   time.Duration `yaml:"store_timeout" validate:"gt=0"`
	RedisAddr      string        `yaml:"redis_addr"`
	LatestCacheTTL time.Duration `yaml:"latest_cache_ttl" validate:"gte=0"`

	JWTSecret    string        `yaml:"jwt_secret" validate:"required"`
	JWTExpiresIn time.Duration `yaml:"jwt_expires_in" validate:"gt=0"`

	CORSOrigin string `yaml:"cors_origin"`

	// Accept client-originated location-update frames as untrusted hints.
	WSAllowClientHints bool `yaml:"ws_allow_client_hints"`

	StaleAfter     time.Duration `yaml:"stale_after" validate:"gt=0"`
	StaleSweepSpec string        `yaml:"stale_sweep_spec"`

	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
	AdminFullName string `yaml:"admin_full_name"`

	// Seed a demo route, bus, driver and parent (password = AdminPassword).
	SeedDemo bool `yaml:"seed_demo"`

	LogLevel string `yaml:"log_level"`
}

func Load() *Config {
	return &Config{
		Port:           getenv("PORT", "5000"),
		AppEnv:         getenv("APP_ENV", "dev"),
		DBHost:         getenv("DB_HOST", "localhost"),
		DBPort:         getenv("DB_PORT", "5432"),
		DBUser:         getenv("DB_USER", "postgres"),
		DBPassword:     getenv("DB_PASSWORD", "postgres"),
		DBName:         getenv("DB_NAME", "bustrack"),
		DBSSLMode:      getenv("DB_SSLMODE", "disable"),
		StoreBackend:   strings.ToLower(getenv("STORE_BACKEND", "postgres")),
		StoreTimeout:   durationEnv("STORE_TIMEOUT", 5*time.Second),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		LatestCacheTTL: durationEnv("LATEST_CACHE_TTL", 10*time.Minute),
		JWTSecret:      getenv("JWT_SECRET", "supersecret_change_me"),
		JWTExpiresIn:   durationEnv("JWT_EXPIRES_IN", 7*24*time.Hour),
		CORSOrigin:     getenv("CORS_ORIGIN", "http://localhost:3001"),

		WSAllowClientHints: boolEnv("WS_ALLOW_CLIENT_HINTS", false),

		StaleAfter:     durationEnv("STALE_AFTER", 5*time.Minute),
		StaleSweepSpec: getenv("STALE_SWEEP_SPEC", "@every 1m"),

		AdminEmail:    getenv("ADMIN_EMAIL", "admin@example.com"),
		AdminPassword: getenv("ADMIN_PASSWORD", "admin123"),
		AdminFullName: getenv("ADMIN_FULL_NAME", "Administrator"),
		SeedDemo:      boolEnv("SEED_DEMO", false),

		LogLevel: getenv("LOG_LEVEL", "info"),
	}
}

// LoadFile overlays the YAML file at path on top of cfg. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.StoreBackend = strings.ToLower(c.StoreBackend)
	return nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
