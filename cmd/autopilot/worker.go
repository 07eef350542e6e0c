package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/internal/worker"
	"github.com/andrej220/autopilot/pkg/config"
	"github.com/andrej220/autopilot/pkg/consumer"
	"github.com/andrej220/autopilot/pkg/reportstore"
	dm "github.com/andrej220/autopilot/pkg/shared-models"
)

func newWorkerCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run documents requested on the kafka request topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, logger := root.settings, root.logger
			if len(s.Kafka.Brokers) == 0 {
				return errors.New("no kafka brokers configured, set kafka.brokers or AUTOPILOT_KAFKA_BROKERS")
			}
			ctx := lg.Attach(cmd.Context(), logger)

			_, metrics := newRegistry()
			proc, err := newProcessor(s, logger, metrics)
			if err != nil {
				return err
			}
			archive, release, err := newArchive(ctx, s)
			if err != nil {
				return err
			}
			defer release()

			w, closeWorker := newKafkaWorker(s, proc, archive, logger)
			defer closeWorker()
			return w.Run(ctx)
		},
	}
}

func newKafkaWorker(s *config.Settings, runner worker.Runner, archive reportstore.Store, logger lg.Logger) (*worker.Worker, func()) {
	source := consumer.NewConsumer[dm.RunRequest](consumer.Config{
		Brokers: s.Kafka.Brokers,
		GroupID: s.Kafka.GroupID,
		Topic:   s.Kafka.RequestTopic,
	})
	sink := consumer.NewProducer[dm.RunResult](s.Kafka.Brokers, s.Kafka.ResultTopic)
	logger = logger.With(lg.String("request_topic", s.Kafka.RequestTopic), lg.String("result_topic", s.Kafka.ResultTopic))

	closeAll := func() {
		if err := source.Close(); err != nil {
			logger.Warn("failed to close consumer", lg.Err(err))
		}
		if err := sink.Close(); err != nil {
			logger.Warn("failed to close producer", lg.Err(err))
		}
	}
	return worker.New(runner, source, sink, archive, logger), closeAll
}
