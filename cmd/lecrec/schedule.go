package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lecrec/internal/api"
	"lecrec/internal/capture"
	"lecrec/internal/history"
	"lecrec/internal/instance"
	"lecrec/internal/metrics"
	"lecrec/internal/scheduler"
	"lecrec/internal/tasks"

	"github.com/spf13/cobra"
)

type scheduleOptions struct {
	tasksPath   string
	killOld     bool
	pidFile     string
	listenAddr  string
	historyPath string
}

func newScheduleCmd(a *app) *cobra.Command {
	opts := &scheduleOptions{}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Record today's targets from the task list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.tasksPath, "tasks", "t", tasks.DefaultPath, "Path to the task list (JSON or YAML)")
	flags.BoolVar(&opts.killOld, "kill-old", false, "Stop a running recorder without asking")
	flags.StringVar(&opts.pidFile, "pid-file", instance.DefaultPIDFile, "File holding the pid of the running recorder")
	flags.StringVarP(&opts.listenAddr, "listen", "l", "", "Serve /sessions, /recordings and /metrics on this address")
	flags.StringVar(&opts.historyPath, "history", "", "sqlite file journaling every recording")
	return cmd
}

func runSchedule(ctx context.Context, a *app, opts *scheduleOptions) error {
	log := a.log

	guard := instance.New(log, opts.pidFile, opts.killOld)
	guard.In, guard.Out = a.stdin, a.stdout
	guard.Interactive = instance.IsTerminal(a.stdin)
	outcome, err := guard.Acquire(ctx)
	if err != nil {
		return err
	}
	if !outcome.Continue() {
		return nil
	}
	defer func() {
		if err := guard.Release(); err != nil {
			log.Warnf("%v", err)
		}
	}()

	log.Infof("Loading task(s)...")
	spec, err := tasks.Load(opts.tasksPath)
	if err != nil {
		return err
	}

	m := metrics.New()
	var store *history.Store
	if opts.historyPath != "" {
		store, err = history.Open(opts.historyPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	mgr := capture.NewManager(log, a.client(), capture.DefaultConfig(), m, store)
	sched := scheduler.New(log, spec, mgr, m)

	if opts.listenAddr != "" {
		server := &http.Server{
			Addr:    opts.listenAddr,
			Handler: api.New(mgr, store, m),
		}
		go func() {
			log.Infof("Status server starting on %s", opts.listenAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Could not listen on %s: %v", opts.listenAddr, err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Status server shutdown failed: %v", err)
			}
		}()
	}

	sched.Schedule(ctx)

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Infof("Shutting down, finishing active recordings...")
		sched.Stop()
		<-done
	}
	return nil
}
