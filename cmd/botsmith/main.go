package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/botsmith/botsmith/internal/api"
	"github.com/botsmith/botsmith/internal/bot"
	"github.com/botsmith/botsmith/internal/config"
	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/health"
	"github.com/botsmith/botsmith/internal/integrations"
	"github.com/botsmith/botsmith/internal/scheduler"
	"github.com/botsmith/botsmith/internal/store"
	"github.com/botsmith/botsmith/pkg/logger"
)

const version = "v0.3.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "botsmith",
		Short:   "Supervisor for a fleet of configurable Discord bots",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	log.Info().Str("version", version).Msg("botsmith starting")

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	guard := store.NewSelfWriteGuard()
	agg := health.NewAggregator()
	registry := integrations.NewRegistry(log)

	sup := bot.NewSupervisor(st, guard, gateway.NewDialer(), registry, agg, log)

	sched := scheduler.New(st, guard, log)
	sched.SetNotifier(func(botID, message string) {
		agg.RecordAnnouncement()
		sup.Notifier().Publish(bot.Event{BotID: botID, Kind: bot.KindAnnouncement, Message: message})
	})
	sup.SetJobRunner(sched)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sup.WatchChanges(ctx, cfg.Watch.Interval)
	sup.StartAll(ctx)

	server := api.NewServer(st, sup, sched, agg, log)
	err = server.Run(ctx, cfg.Server.Addr)

	log.Info().Msg("shutting down")
	sup.StopAll()
	sched.Stop()
	return err
}
