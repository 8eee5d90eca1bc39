// Package config loads service and simulation settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// ErrInvalidValue is returned when a variable is set but cannot be parsed.
var ErrInvalidValue = errors.New("config: invalid value")

type Config struct {
	Port string

	// Storage. DatabaseURL (Postgres) wins over MySQLDSN, which wins over
	// SQLitePath. With none set, state is kept in memory.
	DatabaseURL string
	MySQLDSN    string
	SQLitePath  string
	RedisURL    string

	GeminiAPIKey string
	GeminiModel  string

	MaxRounds      int
	MaxPerCategory int

	NumAgents      int
	InitialCapital decimal.Decimal
	InventorySize  int
	SimCycles      int
	SimConcurrency int
	SimSeed        int64
	// SimInterval enables a background simulation in the server when > 0,
	// in seconds between cycles.
	SimInterval int

	OutputDir string
}

// Load reads the environment. Unset variables take their defaults.
func Load() (Config, error) {
	c := Config{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		MySQLDSN:     os.Getenv("MYSQL_DSN"),
		SQLitePath:   os.Getenv("SQLITE_PATH"),
		RedisURL:     os.Getenv("REDIS_URL"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  os.Getenv("GEMINI_MODEL"),
		OutputDir:    getenv("OUTPUT_DIR", "simulation_data"),
	}

	var errs []error
	intVar := func(dst *int, key string, def, min int) {
		v, err := intEnv(key, def)
		if err == nil && v < min {
			err = fmt.Errorf("%w: %s must be >= %d, got %d", ErrInvalidValue, key, min, v)
		}
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}
	intVar(&c.MaxRounds, "MAX_ROUNDS", 5, 1)
	intVar(&c.MaxPerCategory, "MAX_PER_CATEGORY", 0, 0)
	intVar(&c.NumAgents, "NUM_AGENTS", 10, 2)
	intVar(&c.InventorySize, "INVENTORY_SIZE", 3, 0)
	intVar(&c.SimCycles, "SIM_CYCLES", 5, 0)
	intVar(&c.SimConcurrency, "SIM_CONCURRENCY", 4, 1)
	intVar(&c.SimInterval, "SIM_INTERVAL", 0, 0)

	seed, err := int64Env("SIM_SEED", 42)
	if err != nil {
		errs = append(errs, err)
	}
	c.SimSeed = seed

	c.InitialCapital = decimal.NewFromInt(5000)
	if s := os.Getenv("INITIAL_CAPITAL"); s != "" {
		v, err := decimal.NewFromString(s)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%w: INITIAL_CAPITAL=%q: %w", ErrInvalidValue, s, err))
		case v.IsNegative():
			errs = append(errs, fmt.Errorf("%w: INITIAL_CAPITAL must be non-negative", ErrInvalidValue))
		default:
			c.InitialCapital = v
		}
	}

	return c, errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, s)
	}
	return v, nil
}

func int64Env(key string, def int64) (int64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, s)
	}
	return v, nil
}
