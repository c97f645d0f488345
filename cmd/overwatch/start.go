package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sznuper/overwatch/internal/api"
	"github.com/sznuper/overwatch/internal/config"
	"github.com/sznuper/overwatch/internal/events"
	"github.com/sznuper/overwatch/internal/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the overwatch daemon",
	Long:  "Runs scheduled checks, serves the HTTP API and streams events until interrupted. With --watch the config file is reloaded on change.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		logger := setupLogger()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := newEngine(logger)
		if err != nil {
			return err
		}
		defer e.Close()

		e.sched = scheduler.New(e.runner, logger)
		if err := e.sched.Reload(e.cfg.Checks()); err != nil {
			return err
		}
		e.sched.Start(ctx)
		defer e.sched.Stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})

		if e.cfg.Elastic.Enabled {
			sink, err := events.NewElasticSink(e.cfg.Elastic, logger)
			if err != nil {
				return err
			}
			ch, unsubscribe := e.bus.Subscribe(256)
			defer unsubscribe()
			g.Go(func() error {
				sink.Run(ctx, ch)
				return nil
			})
		}

		if addr := viper.GetString("api-addr"); addr != "" {
			srv := api.New(api.Deps{
				Runner:    e.runner,
				Store:     e.store,
				Pipeline:  e.pipeline,
				Scheduler: e.sched,
				Events:    events.NewHub(e.bus, logger),
			}, api.Options{Addr: addr}, logger)
			g.Go(func() error { return srv.Start(ctx) })
		}

		if watch {
			g.Go(func() error {
				return config.Watch(ctx, e.cfg.Path, logger, e.reload, optionOverrides()...)
			})
		}

		logger.Info("overwatch started", "config", e.cfg.Path, "checks", len(e.cfg.Checks()), "scheduled", len(e.sched.Entries()))
		err = g.Wait()
		logger.Info("overwatch stopped")
		return err
	},
}

func init() {
	startCmd.Flags().Bool("watch", false, "reload the config file when it changes")
	rootCmd.AddCommand(startCmd)
}
