package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/teaclave-sh/lifecycle/internal/config"
	"github.com/teaclave-sh/lifecycle/internal/log"
	"github.com/teaclave-sh/lifecycle/internal/transport"
	"github.com/teaclave-sh/lifecycle/internal/worker"
)

const schedulerSubject = "scheduler.rpc"

var (
	configPath string
	workerID   string
)

func main() {
	root := &cobra.Command{
		Use:          "worker",
		Short:        "Execution worker pool client: heartbeat, pull, execute, report",
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to service config file (required)")
	root.PersistentFlags().StringVar(&workerID, "worker-id", "", "stable worker identity (defaults to a random id)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	root.MarkPersistentFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if workerID == "" {
		workerID = "worker-" + uuid.NewString()
	}

	nc, err := nats.Connect(cfg.InternalEndpoints.Scheduler.AdvertisedAddress)
	if err != nil {
		return fmt.Errorf("connect to scheduler nats at %s: %w", cfg.InternalEndpoints.Scheduler.AdvertisedAddress, err)
	}
	defer nc.Close()

	rpc := transport.NewClient(nc, schedulerSubject)
	client := worker.NewTransportClient(rpc)
	runner := worker.New(workerID, client, worker.NoopExecutor{})

	log.Logger.Info().Str("worker_id", workerID).Msg("worker started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runner.Run(ctx)

	log.Logger.Info().Msg("shutting down")
	return nil
}
