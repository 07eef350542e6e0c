package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/andrej220/autopilot/internal/executor"
	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/internal/processor"
	"github.com/andrej220/autopilot/pkg/config"
	"github.com/andrej220/autopilot/pkg/config/mongostore"
	"github.com/andrej220/autopilot/pkg/reportstore"
)

func newShellExecutor(s *config.Settings, logger lg.Logger) *executor.ShellExecutor {
	policy := executor.HostKeyPolicy{
		Insecure:       s.SSH.InsecureIgnoreHostKey,
		KnownHostsFile: s.SSH.KnownHostsFile,
	}
	runner := executor.NewExecRunner()

	var transport executor.Transport
	switch s.SSH.Transport {
	case "native":
		transport = executor.NewNativeTransport(logger, policy, executor.DefaultResilience())
	default:
		transport = executor.NewSubprocessTransport(runner, policy, logger)
	}
	return executor.NewShellExecutor(logger,
		executor.WithRunner(runner),
		executor.WithTransport(transport),
		executor.WithKeygen(s.SSH.Keygen),
	)
}

func newProcessor(s *config.Settings, logger lg.Logger, metrics *processor.Metrics) (*processor.Processor, error) {
	return processor.New(processor.Dependencies{
		SQL:         executor.NewSQLExecutor(logger),
		Shell:       newShellExecutor(s, logger),
		API:         executor.NewAPIExecutor(logger, &http.Client{Timeout: s.Tasks.HTTPTimeout.Std()}),
		Logger:      logger,
		Metrics:     metrics,
		TaskTimeout: s.Tasks.Timeout.Std(),
	})
}

// newRegistry returns a registry with the runtime collectors and the
// processor metrics registered on it.
func newRegistry() (*prometheus.Registry, *processor.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, processor.MustNewMetrics(reg)
}

// newArchive opens the configured report archive and returns a func
// releasing it.
func newArchive(ctx context.Context, s *config.Settings) (reportstore.Store, func(), error) {
	switch s.Archive.Backend {
	case "file":
		fs, err := reportstore.NewFileStore(s.Archive.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	case "mongo":
		client, err := mongostore.Connect(ctx, s.Archive.Mongo.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open report archive: %w", err)
		}
		ms := reportstore.NewMongoStore(client, s.Archive.Mongo.DBName, s.Archive.Mongo.CollName)
		return ms, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		return reportstore.NewMemory(), func() {}, nil
	}
}
