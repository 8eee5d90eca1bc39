// Command simulate runs a batch marketplace simulation, prints the analytics
// report as JSON and writes ledger and agent CSVs to OUTPUT_DIR.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/atmx/agent-market/internal/analytics"
	"github.com/atmx/agent-market/internal/app"
	"github.com/atmx/agent-market/internal/config"
	"github.com/atmx/agent-market/internal/export"
	"github.com/atmx/agent-market/internal/model"
	"github.com/atmx/agent-market/internal/simulation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Populate(ctx); err != nil {
		return err
	}

	slog.Info("simulation starting", "agents", a.Roster.Len(), "cycles", cfg.SimCycles)
	stats, runErr := a.Runner.Run(ctx, cfg.SimCycles)

	// Whatever was committed before a failure is still reported.
	entries, err := a.Ledger.ReadAll(ctx)
	if err != nil {
		return err
	}
	agents := make([]*model.Agent, 0, a.Roster.Len())
	for _, ag := range a.Roster.List() {
		agents = append(agents, a.Engine.Snapshot(ag))
	}

	out := struct {
		Cycles []simulation.CycleStats `json:"cycles"`
		Report analytics.Report        `json:"report"`
	}{stats, analytics.Compute(entries, agents)}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(cfg.OutputDir, "ledger.csv"), func(w io.Writer) error {
		return export.WriteLedgerCSV(w, entries)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(cfg.OutputDir, "agents.csv"), func(w io.Writer) error {
		return export.WriteAgentsCSV(w, agents)
	}); err != nil {
		return err
	}
	slog.Info("simulation data written", "dir", cfg.OutputDir, "entries", len(entries))

	return runErr
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
