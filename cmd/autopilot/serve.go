package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/internal/server"
	"github.com/andrej220/autopilot/internal/serverutil"
	dm "github.com/andrej220/autopilot/pkg/shared-models"
	"github.com/andrej220/autopilot/pkg/workerpool"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API:

  POST /api/run-config    run a document and answer with its report
  POST /api/runs          queue a document, answer with its exuid
  GET  /api/runs/{id}     fetch a queued or finished run
  POST /api/upload-file   store a pem key or shell script
  GET  /metrics           Prometheus metrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), root, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also consume run requests from kafka")
	return cmd
}

func serve(ctx context.Context, root *rootOptions, withWorker bool) error {
	s, logger := root.settings, root.logger
	ctx = lg.Attach(ctx, logger)

	reg, metrics := newRegistry()
	proc, err := newProcessor(s, logger, metrics)
	if err != nil {
		return err
	}
	archive, release, err := newArchive(ctx, s)
	if err != nil {
		return err
	}
	defer release()

	pool := workerpool.NewPool[dm.RunRequest](s.Server.Workers)
	defer pool.Stop()

	opts := server.Options{
		Runner:       proc,
		Store:        archive,
		Pool:         pool,
		UploadDir:    s.Server.UploadDir,
		MaxBodyBytes: s.Server.MaxBodyBytes,
		Logger:       logger,
		BaseContext:  ctx,
	}
	if s.Server.Metrics {
		opts.Gatherer = reg
	}
	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	watchSettings(ctx, root)

	cfg := serverutil.DefaultServerConfig()
	cfg.Addr = s.Server.Addr
	cfg.ShutdownTimeout = s.Server.ShutdownTimeout.Std()
	cfg.Logger = logger

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serverutil.RunServer(gctx, srv, cfg) })
	if withWorker {
		w, closeWorker := newKafkaWorker(s, proc, archive, logger)
		defer closeWorker()
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// watchSettings logs when the settings file changes. Settings are read once
// at startup, so a change only takes effect after a restart.
func watchSettings(ctx context.Context, root *rootOptions) {
	if root.store == nil {
		return
	}
	err := root.store.Watch(ctx, func() {
		root.logger.Warn("settings changed on disk, restart to apply")
	})
	if err != nil {
		root.logger.Debug("settings are not watched", lg.Err(err))
	}
}
