// Package rollmcp parses MCP flags and serves the roll tool over stdio.
package rollmcp

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/rollcall/internal/platform/cmd"
	"github.com/louisbranch/rollcall/internal/services/roll/app"
	"github.com/louisbranch/rollcall/internal/services/roll/mcptool"
	"golang.org/x/sync/errgroup"
)

// Config holds MCP command configuration. The store and sheets are shared
// with the chat bot, so defines made in either place are visible in both.
type Config struct {
	DBPath    string `env:"DB_PATH"    envDefault:"data/rollcall.db"`
	SheetsDir string `env:"SHEETS_DIR" envDefault:"data/sheets"`

	EvalTimeout time.Duration `env:"EVAL_TIMEOUT"`
	HistorySize int           `env:"HISTORY_SIZE" envDefault:"10"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "user state SQLite path")
	fs.StringVar(&cfg.SheetsDir, "sheets-dir", cfg.SheetsDir, "character sheet directory")
	fs.DurationVar(&cfg.EvalTimeout, "eval-timeout", cfg.EvalTimeout, "evaluation budget per roll")
	fs.IntVar(&cfg.HistorySize, "history-size", cfg.HistorySize, "rolls remembered per user")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves the roll tool on stdio until ctx ends or the client disconnects.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMCP, func(ctx context.Context) error {
		rolls, err := app.Open(ctx, app.Config{
			DBPath:      cfg.DBPath,
			SheetsDir:   cfg.SheetsDir,
			EvalTimeout: cfg.EvalTimeout,
			HistorySize: cfg.HistorySize,
		})
		if err != nil {
			return fmt.Errorf("open roll service: %w", err)
		}
		defer rolls.Close()

		server, err := mcptool.New(rolls.Router())
		if err != nil {
			return fmt.Errorf("init MCP server: %w", err)
		}

		// The watcher stops once the client disconnects.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		group, ctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return rolls.WatchSheets(ctx)
		})
		group.Go(func() error {
			defer cancel()
			return server.Serve(ctx)
		})
		return group.Wait()
	})
}
