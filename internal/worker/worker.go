// Package worker runs configuration documents requested over kafka and
// publishes and archives their results.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/internal/processor"
	"github.com/andrej220/autopilot/pkg/consumer"
	"github.com/andrej220/autopilot/pkg/reportstore"
	dm "github.com/andrej220/autopilot/pkg/shared-models"
	"github.com/andrej220/autopilot/pkg/tasks"
)

type Runner interface {
	RunDocument(ctx context.Context, doc tasks.Document) (*processor.RunResult, error)
}

type Source interface {
	Fetch(ctx context.Context) (consumer.Message[dm.RunRequest], error)
	Commit(ctx context.Context, m consumer.Message[dm.RunRequest]) error
}

type Sink interface {
	Publish(ctx context.Context, key []byte, result dm.RunResult) error
}

// Execute runs the raw document and returns its finished record. The record
// is saved as running first and once more when finished; archive failures
// are logged and never fail the run.
func Execute(ctx context.Context, runner Runner, store reportstore.Store, id string, raw []byte) (rec reportstore.RunRecord) {
	logger := lg.FromContext(ctx).With(lg.String("exuid", id))
	rec = reportstore.RunRecord{ID: id, Status: reportstore.StatusRunning, CreatedAt: time.Now().UTC()}
	if prev, err := store.Load(ctx, id); err == nil {
		rec.CreatedAt = prev.CreatedAt
	}
	save(ctx, store, rec, logger)

	defer func() {
		finished := time.Now().UTC()
		rec.FinishedAt = &finished
		save(ctx, store, rec, logger)
	}()

	doc, err := tasks.ParseDocument(raw)
	if err != nil {
		return failRecord(rec, err, logger)
	}
	res, err := runner.RunDocument(lg.Attach(ctx, logger), doc)
	if err != nil {
		return failRecord(rec, err, logger)
	}
	rec.Reports = res.Reports
	rec.Text = res.Text
	rec.Status = reportstore.StatusCompleted
	if n := res.Failed(); n > 0 {
		rec.Status = reportstore.StatusFailed
		logger.Warn("run finished with failed tasks", lg.Int("failed", n))
	} else {
		logger.Info("run completed")
	}
	return rec
}

func failRecord(rec reportstore.RunRecord, err error, logger lg.Logger) reportstore.RunRecord {
	logger.Error("run aborted", lg.Err(err))
	rec.Status = reportstore.StatusFailed
	rec.Error = err.Error()
	return rec
}

func save(ctx context.Context, store reportstore.Store, rec reportstore.RunRecord, logger lg.Logger) {
	// the run outlives a canceled caller long enough to record its end
	if err := store.Save(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed to archive run", lg.String("status", string(rec.Status)), lg.Err(err))
	}
}

type Worker struct {
	runner Runner
	source Source
	sink   Sink
	store  reportstore.Store
	logger lg.Logger
	// newBackOff paces retries after fetch errors
	newBackOff func() backoff.BackOff
}

func New(runner Runner, source Source, sink Sink, store reportstore.Store, logger lg.Logger) *Worker {
	if logger == nil {
		logger = lg.Discard
	}
	if store == nil {
		store = reportstore.NewMemory()
	}
	return &Worker{
		runner: runner,
		source: source,
		sink:   sink,
		store:  store,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run consumes requests until ctx is done. A message is committed only
// after its result has been published, so a crash mid-run redelivers it.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	bo := w.newBackOff()
	for {
		msg, err := w.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, consumer.ErrUndecodable) {
				w.logger.Error("dropping message", lg.Err(err))
				continue
			}
			wait := bo.NextBackOff()
			w.logger.Error("failed to fetch message", lg.Err(err), lg.Duration("retry_in", wait))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		bo.Reset()

		result := w.Handle(ctx, msg.Payload)
		if err := w.sink.Publish(ctx, result.ExecutionUID[:], result); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("failed to publish result",
				lg.String("exuid", result.ExecutionUID.String()), lg.Err(err))
			continue
		}
		if err := w.source.Commit(ctx, msg); err != nil {
			w.logger.Error("failed to commit message", lg.Err(err))
		}
	}
}

// Handle runs one request. Requests without an id get a fresh one.
func (w *Worker) Handle(ctx context.Context, req dm.RunRequest) dm.RunResult {
	if req.ExecutionUID == uuid.Nil {
		req.ExecutionUID = uuid.New()
	}
	ctx = lg.Attach(ctx, w.logger)
	rec := Execute(ctx, w.runner, w.store, req.ExecutionUID.String(), req.Document)
	return dm.RunResult{
		ExecutionUID: req.ExecutionUID,
		Status:       string(rec.Status),
		Text:         rec.Text,
		Reports:      rec.Reports,
		Error:        rec.Error,
	}
}
