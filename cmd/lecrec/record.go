package main

import (
	"fmt"
	"strconv"
	"time"

	"lecrec/internal/capture"

	"github.com/spf13/cobra"
)

const recordUsage = "Usage: lecrec record <source_url> <duration_seconds> <outfile_path>"

func newRecordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "record <source_url> <duration_seconds> <outfile_path>",
		Short: "Record one stream for a fixed number of seconds",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				return fmt.Errorf("expected 3 arguments, got %d\n%s", len(args), recordUsage)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.Atoi(args[1])
			if err != nil || seconds < 0 {
				return fmt.Errorf("invalid duration %q: must be a whole number of seconds\n%s", args[1], recordUsage)
			}

			mgr := capture.NewManager(a.log, a.client(), capture.DefaultConfig(), nil, nil)
			return mgr.Capture(cmd.Context(), args[0], time.Duration(seconds)*time.Second, args[2])
		},
	}
}
