// Package rollcall parses bot flags and composes the chat host around the
// roll service.
package rollcall

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	entrypoint "github.com/louisbranch/rollcall/internal/platform/cmd"
	server "github.com/louisbranch/rollcall/internal/services/chat/app"
	"github.com/louisbranch/rollcall/internal/services/roll/app"
)

// Config holds bot command configuration.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR"  envDefault:":8090"`
	JWTSecret string `env:"JWT_SECRET"`
	BotName   string `env:"BOT_NAME"   envDefault:"rollcall"`

	DBPath    string `env:"DB_PATH"    envDefault:"data/rollcall.db"`
	SheetsDir string `env:"SHEETS_DIR" envDefault:"data/sheets"`

	EvalMode    string        `env:"EVAL_MODE"    envDefault:"trusted"`
	EvalTimeout time.Duration `env:"EVAL_TIMEOUT"`
	WorkerPath  string        `env:"WORKER_PATH"  envDefault:"rollworker"`
	MaxWorkers  int           `env:"MAX_WORKERS"  envDefault:"4"`
	HistorySize int           `env:"HISTORY_SIZE" envDefault:"10"`

	// IssueTokenFor prints an access token for the named user and exits.
	IssueTokenFor string
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "chat HTTP listen address")
	fs.StringVar(&cfg.BotName, "bot-name", cfg.BotName, "name the bot answers to")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "user state SQLite path")
	fs.StringVar(&cfg.SheetsDir, "sheets-dir", cfg.SheetsDir, "character sheet directory")
	fs.StringVar(&cfg.EvalMode, "eval-mode", cfg.EvalMode, "evaluation mode (trusted, isolated)")
	fs.DurationVar(&cfg.EvalTimeout, "eval-timeout", cfg.EvalTimeout, "evaluation budget per roll")
	fs.StringVar(&cfg.WorkerPath, "worker-path", cfg.WorkerPath, "worker binary for isolated evaluation")
	fs.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "concurrent isolated evaluations")
	fs.IntVar(&cfg.HistorySize, "history-size", cfg.HistorySize, "rolls remembered per user")
	fs.StringVar(&cfg.IssueTokenFor, "issue-token", "", "print an access token for this user and exit")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "lifetime of issued access tokens")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) appConfig() app.Config {
	return app.Config{
		DBPath:      c.DBPath,
		SheetsDir:   c.SheetsDir,
		BotName:     c.BotName,
		EvalMode:    c.EvalMode,
		EvalTimeout: c.EvalTimeout,
		WorkerPath:  c.WorkerPath,
		MaxWorkers:  c.MaxWorkers,
		HistorySize: c.HistorySize,
	}
}

// Run builds the roll service and serves the chat host until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	if cfg.IssueTokenFor != "" {
		return issueToken(os.Stdout, cfg)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRollcall, func(ctx context.Context) error {
		rolls, err := app.Open(ctx, cfg.appConfig())
		if err != nil {
			return fmt.Errorf("open roll service: %w", err)
		}
		defer rolls.Close()

		group, ctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return rolls.WatchSheets(ctx)
		})
		group.Go(func() error {
			return server.Run(ctx, server.Config{
				HTTPAddr:  cfg.HTTPAddr,
				JWTSecret: cfg.JWTSecret,
				BotName:   cfg.BotName,
			}, rolls.Router())
		})
		return group.Wait()
	})
}

func issueToken(w io.Writer, cfg Config) error {
	token, err := server.IssueToken(cfg.JWTSecret, cfg.IssueTokenFor, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
