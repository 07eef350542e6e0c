package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/autopilot/internal/lg"
	"github.com/andrej220/autopilot/internal/processor"
	"github.com/andrej220/autopilot/pkg/tasks"
)

type runOptions struct {
	configs  []string
	parallel int
	strict   bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] [document...]",
		Short: "Run configuration documents and print their reports",
		Example: `  autopilot run -c deploy.json
  autopilot run --parallel 2 site-a.json site-b.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := append(append([]string{}, opts.configs...), args...)
			if len(paths) == 0 {
				return errors.New("no configuration document given")
			}
			return runDocuments(cmd, root, paths, opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.configs, "config", "c", nil, "configuration document (repeatable)")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 1, "documents run at the same time")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero when any task failed")
	return cmd
}

type docResult struct {
	path string
	res  *processor.RunResult
	err  error
}

// runDocuments runs every document, at most opts.parallel at a time, and
// prints the reports in argument order. Tasks inside a document always run
// sequentially. A document that fails to load does not stop the others.
func runDocuments(cmd *cobra.Command, root *rootOptions, paths []string, opts *runOptions) error {
	logger := root.logger
	_, metrics := newRegistry()
	proc, err := newProcessor(root.settings, logger, metrics)
	if err != nil {
		return err
	}

	ctx := lg.Attach(cmd.Context(), logger)
	results := make([]docResult, len(paths))
	var g errgroup.Group
	g.SetLimit(max(opts.parallel, 1))
	for i, path := range paths {
		g.Go(func() error {
			results[i] = docResult{path: path}
			doc, err := tasks.ReadDocument(path)
			if err == nil {
				results[i].res, err = proc.RunDocument(ctx, doc)
			}
			results[i].err = err
			return nil
		})
	}
	_ = g.Wait()

	failed, errs := printResults(cmd.OutOrStdout(), cmd.ErrOrStderr(), results)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if opts.strict && failed > 0 {
		return fmt.Errorf("%d task(s) failed", failed)
	}
	return nil
}

// printResults prints every report and returns the number of failed tasks
// together with the load errors.
func printResults(out, errOut io.Writer, results []docResult) (int, []error) {
	failed := 0
	var errs []error
	for _, r := range results {
		if len(results) > 1 {
			fmt.Fprintf(out, "==> %s\n", r.path)
		}
		if r.err != nil {
			fmt.Fprintf(errOut, "❌ Automation failed: %s: %v\n", r.path, r.err)
			errs = append(errs, fmt.Errorf("%s: %w", r.path, r.err))
			continue
		}
		fmt.Fprint(out, r.res.Text)
		failed += r.res.Failed()
	}
	return failed, errs
}
