package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrej220/autopilot/pkg/tasks"
)

func newValidateCmd(_ *rootOptions) *cobra.Command {
	var configs []string
	cmd := &cobra.Command{
		Use:   "validate [flags] [document...]",
		Short: "Check configuration documents without running them",
		Long: `Load every phase of the given documents and report malformed tasks
and unknown task types. Nothing is executed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := append(append([]string{}, configs...), args...)
			if len(paths) == 0 {
				return errors.New("no configuration document given")
			}
			var errs []error
			for _, path := range paths {
				doc, err := tasks.ReadDocument(path)
				if err == nil {
					err = doc.Validate()
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", path, err)
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", path)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVarP(&configs, "config", "c", nil, "configuration document (repeatable)")
	return cmd
}
