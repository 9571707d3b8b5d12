package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

// Pricing holds the constants the checkout totals are computed from.
type Pricing struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	DeliveryLeadDays      int
}

type Config struct {
	App struct {
		Port string
	}
	Postgres PostgresConfig
	Pricing  Pricing
}

func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{}
	cfg.App.Port = envOrDefault("APP_PORT", "8080")

	cfg.Postgres.Host = os.Getenv("DB_HOST")
	if cfg.Postgres.Host == "" {
		return nil, fmt.Errorf("config: DB_HOST is required")
	}
	cfg.Postgres.Port = envOrDefault("DB_PORT", "5432")
	cfg.Postgres.User = os.Getenv("DB_USER")
	if cfg.Postgres.User == "" {
		return nil, fmt.Errorf("config: DB_USER is required")
	}
	cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
	cfg.Postgres.DBName = os.Getenv("DB_NAME")
	if cfg.Postgres.DBName == "" {
		return nil, fmt.Errorf("config: DB_NAME is required")
	}
	cfg.Postgres.SSLMode = envOrDefault("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = envOrDefault("DB_MIGRATIONS_PATH", "migrations")

	maxConns, err := envIntOrDefault("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MaxConns = int32(maxConns)

	minConns, err := envIntOrDefault("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MinConns = int32(minConns)
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute

	cfg.Pricing, err = loadPricing()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadPricing() (Pricing, error) {
	var p Pricing
	var err error

	if p.TaxRate, err = envDecimalOrDefault("TAX_RATE", "0.08"); err != nil {
		return p, err
	}
	if p.FreeShippingThreshold, err = envDecimalOrDefault("FREE_SHIPPING_THRESHOLD", "100.00"); err != nil {
		return p, err
	}
	if p.FlatShippingFee, err = envDecimalOrDefault("FLAT_SHIPPING_FEE", "10.00"); err != nil {
		return p, err
	}
	if p.DeliveryLeadDays, err = envIntOrDefault("DELIVERY_LEAD_DAYS", 7); err != nil {
		return p, err
	}

	return p, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", key, v, err)
	}
	return n, nil
}

func envDecimalOrDefault(key, def string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s must be a decimal number, got %q: %w", key, v, err)
	}
	return d, nil
}
