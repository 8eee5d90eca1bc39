// Package app wires configuration into the storage, memory, policy and
// engine components shared by the server and the batch simulator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/agent-market/internal/config"
	"github.com/atmx/agent-market/internal/guard"
	"github.com/atmx/agent-market/internal/ledger"
	"github.com/atmx/agent-market/internal/memory"
	"github.com/atmx/agent-market/internal/negotiation"
	"github.com/atmx/agent-market/internal/policy"
	"github.com/atmx/agent-market/internal/simulation"
	"github.com/atmx/agent-market/internal/store"
)

// App holds the wired components of one run.
type App struct {
	Config config.Config
	Store  store.Store
	Ledger *ledger.Ledger
	Memory memory.Store
	Engine *negotiation.Engine
	Roster *simulation.Roster
	Runner *simulation.Runner

	cleanup []func()
}

// New builds an App. Extra engine options (a notifier, say) are applied
// after the configured ones.
func New(ctx context.Context, cfg config.Config, opts ...negotiation.Option) (*App, error) {
	a := &App{Config: cfg}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		a.cleanup = append(a.cleanup, func() { rdb.Close() })
	}

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rdb != nil {
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		slog.Info("Redis agent cache enabled")
	}
	a.Store = st

	a.Ledger, err = ledger.Open(ctx, st)
	if err != nil {
		a.Close()
		return nil, err
	}

	if rdb != nil {
		// Memory is scoped to the run.
		prefix := "agentmarket:" + ulid.Make().String()
		a.Memory = memory.NewRedisStore(rdb, prefix)
		slog.Info("Redis interaction memory enabled", "prefix", prefix)
	} else {
		a.Memory = memory.NewMemoryStore()
	}

	p, err := a.openPolicy(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	engineOpts := append([]negotiation.Option{
		negotiation.WithMaxRounds(cfg.MaxRounds),
		negotiation.WithGuard(guard.NewCommitGuard(cfg.MaxPerCategory)),
	}, opts...)
	a.Engine = negotiation.NewEngine(p, a.Memory, a.Ledger, engineOpts...)

	a.Roster = simulation.NewRoster(st)
	a.Runner = simulation.NewRunner(a.Engine, a.Roster, a.Ledger, simulation.RunnerConfig{
		Concurrency: cfg.SimConcurrency,
		MaxRounds:   cfg.MaxRounds,
		Seed:        cfg.SimSeed,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		return pg, nil

	case cfg.MySQLDSN != "":
		s, err := store.OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		a.cleanup = append(a.cleanup, func() { s.Close() })
		slog.Info("connected to MySQL")
		return s, nil

	case cfg.SQLitePath != "":
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.cleanup = append(a.cleanup, func() { s.Close() })
		slog.Info("opened SQLite", "path", cfg.SQLitePath)
		return s, nil
	}

	slog.Warn("no database configured, using in-memory store (data will not persist)")
	return store.NewMemoryStore(), nil
}

func (a *App) openPolicy(ctx context.Context, cfg config.Config) (policy.Policy, error) {
	if cfg.GeminiAPIKey == "" {
		slog.Info("using rule-based policy", "seed", cfg.SimSeed)
		return policy.NewRuleBased(cfg.SimSeed), nil
	}
	g, err := policy.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	a.cleanup = append(a.cleanup, func() { g.Close() })
	slog.Info("using Gemini policy", "model", cfg.GeminiModel)
	return g, nil
}

// Populate loads persisted agents, seeding a fresh roster when the store
// holds none.
func (a *App) Populate(ctx context.Context) error {
	n, err := a.Roster.Load(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("loaded agents", "count", n)
		return nil
	}

	seed := uint64(a.Config.SimSeed)
	rng := rand.New(rand.NewPCG(seed, seed+1))
	created, err := a.Roster.Seed(simulation.SeedConfig{
		NumAgents:      a.Config.NumAgents,
		InitialCapital: a.Config.InitialCapital,
		InventorySize:  a.Config.InventorySize,
	}, rng)
	if err != nil {
		return err
	}
	if err := a.Roster.Save(ctx, a.Engine); err != nil {
		return err
	}
	slog.Info("seeded agents", "count", len(created), "capital", a.Config.InitialCapital.String())
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
