// Package processor runs the phases of a configuration document: every task
// is dispatched to its executor in declared order and the outcomes are
// collected into a report. A failing task never stops the phase.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/pkg/tasks"
)

const (
	PhaseBasic = "basic"
	PhasePre   = "pre"
	PhasePost  = "post"
)

// SQLRunner runs a SQL script file.
type SQLRunner interface {
	Execute(ctx context.Context, scriptPath string, cfg *tasks.DatabaseConfig) (string, error)
}

// ShellRunner runs a script on a remote host.
type ShellRunner interface {
	RunFromConfig(ctx context.Context, cfg *tasks.ShellConfig) (string, error)
}

// APIRunner performs an HTTP call and reports its status in the returned config.
type APIRunner interface {
	Execute(ctx context.Context, cfg tasks.HTTPConfig) tasks.HTTPConfig
}

type Dependencies struct {
	SQL     SQLRunner
	Shell   ShellRunner
	API     APIRunner
	Logger  lg.Logger
	Metrics *Metrics
	// TaskTimeout bounds each task; zero leaves tasks unbounded.
	TaskTimeout time.Duration
}

type Processor struct {
	sql     SQLRunner
	shell   ShellRunner
	api     APIRunner
	logger  lg.Logger
	metrics *Metrics
	timeout time.Duration
}

func New(deps Dependencies) (*Processor, error) {
	if deps.SQL == nil || deps.Shell == nil || deps.API == nil {
		return nil, errors.New("processor: SQL, Shell and API runners are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = lg.Discard
	}
	return &Processor{
		sql:     deps.SQL,
		shell:   deps.Shell,
		api:     deps.API,
		logger:  logger,
		metrics: deps.Metrics,
		timeout: deps.TaskTimeout,
	}, nil
}

// ProcessPhase runs every task of phase in order. A missing or non-array
// phase yields a "no tasks" report. The error is non-nil only when the
// phase cannot be loaded.
func (p *Processor) ProcessPhase(ctx context.Context, doc tasks.Document, phase string) (*tasks.Report, error) {
	list, err := doc.Phase(phase)
	if err != nil {
		p.logger.Error("failed to load phase", lg.String("phase", phase), lg.Err(err))
		return nil, err
	}
	return p.runPhase(ctx, phase, list), nil
}

func (p *Processor) runPhase(ctx context.Context, phase string, list []tasks.Task) *tasks.Report {
	ctx, span := startSpan(ctx, spanPhase, attribute.String(attrPhase, phase))
	defer span.End()
	p.metrics.incPhases()
	defer p.metrics.decPhases()

	logger := p.logger.With(lg.String("phase", phase))
	if len(list) == 0 {
		logger.Info(tasks.NoTasksMessage(phase))
		return tasks.NewReport(phase, nil)
	}

	logger.Info("phase started", lg.Int("tasks", len(list)))
	outcomes := make([]tasks.Outcome, 0, len(list))
	for _, task := range list {
		outcomes = append(outcomes, p.runTask(ctx, task, logger))
	}
	report := tasks.NewReport(phase, outcomes)
	logger.Info("phase finished", lg.Int("tasks", len(outcomes)), lg.Int("failed", report.Failed()))
	return report
}

// runTask executes one task and never panics.
func (p *Processor) runTask(ctx context.Context, task tasks.Task, logger lg.Logger) (out tasks.Outcome) {
	start := time.Now()
	out = tasks.Outcome{Index: task.Index, Type: task.Type}
	logger = logger.With(lg.Int("task", task.Index), lg.String("type", task.Type))

	ctx, span := startSpan(ctx, spanTask,
		attribute.Int(attrTaskIndex, task.Index),
		attribute.String(attrTaskType, task.Type))

	defer func() {
		if r := recover(); r != nil {
			out = failed(out, fmt.Errorf("panic: %v", r))
			logger.Error("task panicked", lg.Any("panic", r))
		}
		out.Duration = time.Since(start)
		p.metrics.ObserveTask(metricType(task), string(out.Status), out.Duration)
		markSpanOutcome(span, out)
		span.End()

		fields := []lg.Field{lg.String("status", string(out.Status)), lg.Duration("duration", out.Duration)}
		switch out.Status {
		case tasks.StatusFailed:
			logger.Error(out.Message, fields...)
		case tasks.StatusWarning:
			logger.Warn(out.Message, fields...)
		default:
			logger.Info(out.Message, fields...)
		}
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	switch cfg := task.Config.(type) {
	case *tasks.DatabaseConfig:
		if _, err := p.sql.Execute(ctx, cfg.ScriptPath, cfg); err != nil {
			markSpanError(span, err)
			return failed(out, err)
		}
		return succeeded(out, "SQL executed successfully for file: "+cfg.ScriptPath)

	case *tasks.ShellConfig:
		msg, err := p.shell.RunFromConfig(ctx, cfg)
		if err != nil {
			markSpanError(span, err)
			return failed(out, err)
		}
		return succeeded(out, msg)

	case *tasks.HTTPConfig:
		return classifyHTTP(out, p.api.Execute(ctx, *cfg))
	}

	out.Status = tasks.StatusWarning
	out.Message = "Unknown task type: " + task.Type
	out.Lines = []string{"⚠️ " + out.Message}
	return out
}

func succeeded(o tasks.Outcome, msg string) tasks.Outcome {
	o.Status = tasks.StatusSucceeded
	o.Message = msg
	o.Lines = []string{"✅ " + msg}
	return o
}

func failed(o tasks.Outcome, err error) tasks.Outcome {
	o.Status = tasks.StatusFailed
	o.Message = err.Error()
	o.Lines = []string{"❌ Task failed: " + o.Message}
	return o
}

// classifyHTTP maps the executor's status code to an outcome: 200 succeeds,
// any other positive code is an HTTP failure and -1 is a transport failure.
func classifyHTTP(o tasks.Outcome, resp tasks.HTTPConfig) tasks.Outcome {
	code := resp.StatusCode
	switch {
	case code == 200:
		return succeeded(o, fmt.Sprintf("API executed successfully with response code: %d", code))
	case code > 0:
		o.Status = tasks.StatusFailed
		o.Message = fmt.Sprintf("API execution failed with response code: %d", code)
		o.Lines = []string{"❌ " + o.Message}
	case code == -1:
		o.Status = tasks.StatusFailed
		o.Message = "API execution threw an exception: " + resp.StatusMessage
		o.Lines = []string{"Incorrect URL", "❌ " + o.Message}
	default:
		o.Status = tasks.StatusFailed
		o.Message = fmt.Sprintf("API execution returned unknown status code: %d", code)
		o.Lines = []string{"❌ " + o.Message}
	}
	return o
}

func metricType(t tasks.Task) string {
	if t.Config == nil {
		return "unknown"
	}
	return string(t.Config.Kind())
}

// RunResult is the outcome of RunDocument.
type RunResult struct {
	Reports []*tasks.Report `json:"reports"`
	Text    string          `json:"text"`
}

// Failed returns the number of failed tasks over all phases.
func (r *RunResult) Failed() int {
	n := 0
	for _, rep := range r.Reports {
		n += rep.Failed()
	}
	return n
}

// Phases returns the phases RunDocument executes for doc: "basic" alone
// when present, otherwise "pre" then "post".
func Phases(doc tasks.Document) []string {
	if doc.Has(PhaseBasic) {
		return []string{PhaseBasic}
	}
	return []string{PhasePre, PhasePost}
}

// RunDocument runs the document's phases and joins their reports between
// start and completion banners. All phases are loaded before any task runs,
// so a malformed later phase does not leave an earlier one half applied.
func (p *Processor) RunDocument(ctx context.Context, doc tasks.Document) (*RunResult, error) {
	phases := Phases(doc)
	lists := make([][]tasks.Task, len(phases))
	for i, phase := range phases {
		list, err := doc.Phase(phase)
		if err != nil {
			p.logger.Error("failed to load phase", lg.String("phase", phase), lg.Err(err))
			return nil, err
		}
		lists[i] = list
	}

	res := &RunResult{}
	var b strings.Builder
	for i, phase := range phases {
		name := strings.ToUpper(phase[:1]) + phase[1:]
		fmt.Fprintf(&b, "🚀 Running %s Tasks...\n", name)

		report := p.runPhase(ctx, phase, lists[i])
		res.Reports = append(res.Reports, report)
		b.WriteString(report.Text)
		if !strings.HasSuffix(report.Text, "\n") {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "✅ %s tasks completed.\n", name)
		if i < len(phases)-1 {
			b.WriteByte('\n')
		}
	}
	res.Text = b.String()
	return res, nil
}
