package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/pkg/config"
)

const serviceName = "autopilot"

type rootOptions struct {
	settingsPath string
	settingsURI  string
	envFile      string
	debug        bool

	settings *config.Settings
	store    config.Config
	logger   lg.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Run database, remote shell and HTTP automation tasks",
		Long: `autopilot runs the tasks of a JSON configuration document.

A document holds a "basic" phase, or "pre" and "post" phases. Each phase is
an ordered list of db, shell and api tasks; a failing task is reported and the
phase continues with the next one.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.settingsPath, "settings", "s", "", "settings file (yaml, toml or json)")
	flags.StringVar(&opts.settingsURI, "settings-mongo", "", "MongoDB URI holding the settings document")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with AUTOPILOT_* overrides")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newServeCmd(opts),
		newWorkerCmd(opts),
	)
	return cmd
}

// load resolves settings and builds the logger. A settings file that does
// not exist falls back to defaults.
func (o *rootOptions) load(ctx context.Context) error {
	store, err := o.openStore(ctx)
	if err != nil {
		return err
	}
	o.store = store

	settings, err := config.Load(ctx, store, o.envFile)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if o.debug {
		settings.Log.Debug = true
	}
	o.settings = settings
	o.logger = lg.New(&lg.Config{
		ServiceName: serviceName,
		Debug:       settings.Log.Debug,
		Format:      settings.Log.Format,
	})
	return nil
}

func (o *rootOptions) openStore(ctx context.Context) (config.Config, error) {
	switch {
	case o.settingsURI != "":
		return config.NewStore(ctx, config.MongoStore, &config.MongoConfig{
			URI:      o.settingsURI,
			DBName:   serviceName,
			CollName: "settings",
			ID:       serviceName,
		})
	case o.settingsPath != "":
		if _, err := os.Stat(o.settingsPath); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return config.NewStore(ctx, config.FileStore, &config.FileConfig{Path: o.settingsPath})
	default:
		return nil, nil
	}
}
