package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"lecrec/internal/logger"
	"lecrec/internal/playlist"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries the global flags and what they build.
type app struct {
	logLevel  string
	logFormat string
	userAgent string
	rps       float64

	stdin          io.Reader
	stdout, stderr io.Writer
	log            logger.Logger
}

func (a *app) client() *playlist.Client {
	return playlist.NewClient(a.log, playlist.Options{
		UserAgent:         a.userAgent,
		RequestsPerSecond: a.rps,
	})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "lecrec",
		Short:         "Records scheduled lectures from live HLS streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.log = logger.NewLoggerWithOptions(logger.Options{
				Level:  a.logLevel,
				Format: a.logFormat,
				Stdout: a.stdout,
				Stderr: a.stderr,
			})
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.logLevel, "log-level", "L", "info", "Log level (error, warn, info, debug)")
	flags.StringVar(&a.logFormat, "log-format", "json", "Log format (json, text)")
	flags.StringVar(&a.userAgent, "user-agent", "", "User-Agent sent to the stream origin")
	flags.Float64Var(&a.rps, "rps", 0, "Maximum requests per second to the origin (0 for the default, negative for unlimited)")

	root.AddCommand(newScheduleCmd(a), newRecordCmd(a), newValidateCmd(a))
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, log: logger.Nop()}
	root := newRootCmd(a)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
