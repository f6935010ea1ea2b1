package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config holds all runtime configuration. Every field maps to one
// environment variable; a local .env file is read when present.
type Config struct {
	// Server
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"APP_ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	AllowedOrigin string `mapstructure:"ALLOWED_ORIGIN"`

	// Storage
	StoreDriver       string `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	MongoURI          string `mapstructure:"MONGO_URI"`
	MongoDatabase     string `mapstructure:"MONGO_DATABASE"`
	MongoTransactions bool   `mapstructure:"MONGO_TRANSACTIONS"`
	SeedDemoData      bool   `mapstructure:"SEED_DEMO_DATA"`

	// Event stream
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	EventStream   string `mapstructure:"EVENT_STREAM"`

	// Auth
	AuthSecret             string `mapstructure:"AUTH_SECRET"`
	AccessTokenTTLMinutes  int    `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	BootstrapAdminUsername string `mapstructure:"BOOTSTRAP_ADMIN_USERNAME"`
	BootstrapAdminPassword string `mapstructure:"BOOTSTRAP_ADMIN_PASSWORD"`
	BootstrapAdminPIN      string `mapstructure:"BOOTSTRAP_ADMIN_PIN"`

	// Business
	CounterSaleCustomerID string `mapstructure:"COUNTER_SALE_CUSTOMER_ID"`
	LoyaltyPointsPerUnit  int64  `mapstructure:"LOYALTY_POINTS_PER_UNIT"`
	OrderIDAttempts       int    `mapstructure:"ORDER_ID_ATTEMPTS"`
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"APP_ENV":                  "development",
	"LOG_LEVEL":                "info",
	"ALLOWED_ORIGIN":           "http://127.0.0.1:3000",
	"STORE_DRIVER":             StoreMemory,
	"MONGO_DATABASE":           "comanda",
	"MONGO_TRANSACTIONS":       false,
	"SEED_DEMO_DATA":           false,
	"REDIS_DB":                 0,
	"EVENT_STREAM":             "comanda:events",
	"ACCESS_TOKEN_TTL_MINUTES": 480,
	"BOOTSTRAP_ADMIN_USERNAME": "admin",
	"COUNTER_SALE_CUSTOMER_ID": "balcao",
	"LOYALTY_POINTS_PER_UNIT":  1,
	"ORDER_ID_ATTEMPTS":        10,
}

// Secrets and credentials have no default; they are bound so that
// Unmarshal still sees them when they only exist in the environment.
var boundOnly = []string{
	"DATABASE_URL",
	"MONGO_URI",
	"REDIS_ADDR",
	"REDIS_PASSWORD",
	"AUTH_SECRET",
	"BOOTSTRAP_ADMIN_PASSWORD",
	"BOOTSTRAP_ADMIN_PIN",
}

// Load reads configuration from environment variables (and optional .env file).
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range boundOnly {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	// Optional .env file for local development; a missing file is fine.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.AuthSecret = strings.TrimSpace(c.AuthSecret)
	c.BootstrapAdminPIN = strings.TrimSpace(c.BootstrapAdminPIN)
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.AccessTokenTTLMinutes < 1 {
		c.AccessTokenTTLMinutes = 480
	}
	if c.LoyaltyPointsPerUnit < 0 {
		c.LoyaltyPointsPerUnit = 0
	}
	if c.OrderIDAttempts < 1 {
		c.OrderIDAttempts = 10
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
