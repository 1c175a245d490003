// Package app assembles the roll service: user store, character sheets,
// history, evaluation gate, engine and command router.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/rollcall/internal/services/roll/command"
	"github.com/louisbranch/rollcall/internal/services/roll/dice"
	"github.com/louisbranch/rollcall/internal/services/roll/engine"
	"github.com/louisbranch/rollcall/internal/services/roll/gate"
	"github.com/louisbranch/rollcall/internal/services/roll/history"
	"github.com/louisbranch/rollcall/internal/services/roll/resolve"
	"github.com/louisbranch/rollcall/internal/services/roll/sheet"
	"github.com/louisbranch/rollcall/internal/services/roll/storage/sqlite"
)

// Config defines the inputs for the roll service.
type Config struct {
	DBPath    string
	SheetsDir string
	BotName   string

	EvalMode    string
	EvalTimeout time.Duration
	WorkerPath  string
	MaxWorkers  int

	HistorySize int
}

// App owns the roll service components and their shared state.
type App struct {
	store  *sqlite.Store
	sheets *sheet.Lookup
	engine *engine.Engine
	router *command.Router
}

// Open builds the roll service. Close releases it.
func Open(ctx context.Context, cfg Config) (*App, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, errors.New("db path is required")
	}
	if strings.TrimSpace(cfg.SheetsDir) == "" {
		return nil, errors.New("sheets dir is required")
	}
	mode, err := gate.ParseMode(cfg.EvalMode)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.SheetsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sheets dir: %w", err)
	}

	g, err := gate.New(gate.Config{
		Mode:       mode,
		Timeout:    cfg.EvalTimeout,
		WorkerPath: cfg.WorkerPath,
		MaxWorkers: cfg.MaxWorkers,
	}, dice.Evaluate)
	if err != nil {
		return nil, fmt.Errorf("init evaluation gate: %w", err)
	}

	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}

	sheets := sheet.NewLookup(cfg.SheetsDir, store)
	hist := history.New(cfg.HistorySize)
	e := engine.New(resolve.New(sheets, hist), g, hist)

	registry := command.NewRegistry()
	if err := (command.Builtins{Sheets: sheets, History: hist}).Register(registry); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register commands: %w", err)
	}

	return &App{
		store:  store,
		sheets: sheets,
		engine: e,
		router: command.NewRouter(registry, e, store, cfg.BotName),
	}, nil
}

// Router returns the message router every front end dispatches to.
func (a *App) Router() *command.Router {
	return a.router
}

// Engine returns the roll engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// WatchSheets reloads character sheets when their files change, until ctx
// is done.
func (a *App) WatchSheets(ctx context.Context) error {
	return a.sheets.Watch(ctx)
}

// Close releases the user store.
func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}
