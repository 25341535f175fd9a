package main

import (
	"fmt"

	"lecrec/internal/tasks"

	"github.com/spf13/cobra"
)

func newValidateCmd(a *app) *cobra.Command {
	var tasksPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a task list without scheduling anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := tasks.Load(tasksPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", tasksPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tasksPath, "tasks", "t", tasks.DefaultPath, "Path to the task list (JSON or YAML)")
	return cmd
}

