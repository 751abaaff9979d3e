// Package cli implements phrasectl, the offline admin tool that works on the
// bot's store directly.
package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"phrasebot/internal/config"
	"phrasebot/internal/storage"
	logx "phrasebot/pkg/logx"
)

// Opener opens the store described by the config file at path.
type Opener func(ctx context.Context, path string) (storage.Store, error)

// OpenFromConfig is the default Opener.
func OpenFromConfig(_ context.Context, path string) (storage.Store, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:   cfg.Storage.Driver,
		Path:     cfg.Storage.Path,
		DSN:      cfg.Storage.DSN,
		MaxConns: cfg.Storage.MaxConns,
	}, logx.Nop())
}

type env struct {
	cfgPath string
	open    Opener
}

// withStore opens the store for the duration of fn.
func (e *env) withStore(cmd *cobra.Command, fn func(ctx context.Context, st storage.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := e.open(ctx, e.cfgPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(ctx, st)
}

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("!")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// NewRootCmd builds the phrasectl command tree. A nil open uses
// OpenFromConfig.
func NewRootCmd(open Opener) *cobra.Command {
	if open == nil {
		open = OpenFromConfig
	}
	e := &env{open: open}

	root := &cobra.Command{
		Use:   "phrasectl",
		Short: "Manage phrasebot sources, schedules and channels",
		Long: `phrasectl edits the phrasebot store directly.

Schedule changes are picked up by a running bot on its next start;
use the bot's /schedule command for live changes.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&e.cfgPath, "config", "c", "./config.yaml", "path to the bot config")

	root.AddCommand(
		ingestCmd(e),
		sourcesCmd(e),
		resetCmd(e),
		deleteCmd(e),
		scheduleCmd(e),
		channelCmd(e),
		logsCmd(e),
		statusCmd(e),
	)
	return root
}
