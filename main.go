package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/llehouerou/shelf/internal/app"
	"github.com/llehouerou/shelf/internal/config"
	"github.com/llehouerou/shelf/internal/errmsg"
	"github.com/llehouerou/shelf/internal/logger"
)

var (
	log *logrus.Entry

	// Global options
	configPath string
	logLevel   string
)

func init() {
	log = logger.WithName("cli")
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shelf",
		Short: "Music library indexer",
		Long: `shelf - keeps a SQLite catalogue of a music collection.

It scans directories for audio files, reads their tags and cover art, and
maintains artists, albums, tracks and playlists in a local database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/shelf/config.toml, ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error or silent")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newLedgerCmd(),
		newScanCmd(),
		newWatchCmd(),
		newAlbumsCmd(),
		newAlbumCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newPlaylistCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ce *cliError
		if errors.As(err, &ce) {
			if hint := errmsg.Hint(ce.err); hint != "" {
				fmt.Fprintln(os.Stderr, "hint:", hint)
			}
		}
		os.Exit(1)
	}
}

// cliError carries a formatted message and the cause it was built from.
type cliError struct {
	msg string
	err error
}

func (e *cliError) Error() string { return e.msg }
func (e *cliError) Unwrap() error { return e.err }

func fail(op errmsg.Op, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{msg: errmsg.Format(op, err), err: err}
}

func failWith(op errmsg.Op, context string, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{msg: errmsg.FormatWith(op, context, err), err: err}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fail(errmsg.OpConfigLoad, err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := logger.Configure(level); err != nil {
		return nil, fail(errmsg.OpConfigLoad, err)
	}
	return cfg, nil
}

// openApp loads the configuration and opens the library. Callers close it.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return nil, failWith(errmsg.OpInitialize, cfg.Database.Library, err)
	}
	return a, nil
}
