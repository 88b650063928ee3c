package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/teaclave-sh/lifecycle/internal/accesscontrol"
	"github.com/teaclave-sh/lifecycle/internal/audit"
	"github.com/teaclave-sh/lifecycle/internal/config"
	"github.com/teaclave-sh/lifecycle/internal/kv"
	"github.com/teaclave-sh/lifecycle/internal/log"
	"github.com/teaclave-sh/lifecycle/internal/management"
	"github.com/teaclave-sh/lifecycle/internal/metrics"
	"github.com/teaclave-sh/lifecycle/internal/repository"
	"github.com/teaclave-sh/lifecycle/internal/rpcutil"
	"github.com/teaclave-sh/lifecycle/internal/scheduler"
	"github.com/teaclave-sh/lifecycle/internal/transport"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// This binary hosts both the Management and Scheduler services in one
// process: Scheduler's ready queue, worker registry and lease table
// are in-memory state keyed to the same Entity Repository Management
// writes through (spec §2's "single active instance per role"
// non-goal), so splitting them across processes would need a second
// replication layer the spec never calls for. Frontend reaches
// Management on the "management.rpc" subject; workers reach Scheduler
// directly on "scheduler.rpc".
const (
	managementSubject = "management.rpc"
	schedulerSubject  = "scheduler.rpc"
)

var (
	configPath    string
	healthAddress string
	metricsAddr   string
)

func main() {
	root := &cobra.Command{
		Use:          "management",
		Short:        "Management + Scheduler service for the Teaclave task lifecycle engine",
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to service config file (required)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	root.PersistentFlags().StringVar(&healthAddress, "health-address", ":8081", "gRPC health check listen address")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-address", ":9090", "Prometheus metrics listen address")
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

	store, err := kv.NewStore(kv.Config{NodeID: cfg.ListenAddress, DataDir: cfg.Storage.Path})
	if err != nil {
		return err
	}
	defer store.Close()

	repo := repository.New(store)
	auditIdx := audit.New(store)

	// The real authorization authority is an external oracle service
	// (spec §1 out-of-scope); allow-all stands in for it until one is
	// deployed in front of this process.
	oracle := accesscontrol.NewInMemory(true)

	sched := scheduler.New(repo, func(e types.AuditEntry) { _ = auditIdx.Append(e) })
	if err := sched.RecoverReadyQueue(repo.ResolveStagedTask); err != nil {
		log.Logger.Error().Err(err).Msg("failed to recover ready queue at startup")
		return err
	}

	stopFailureDetection := make(chan struct{})
	go sched.RunFailureDetection(stopFailureDetection)
	defer close(stopFailureDetection)

	svc := management.New(repo, oracle, auditIdx, sched)

	nc, err := nats.Connect(cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("connect to nats at %s: %w", cfg.ListenAddress, err)
	}
	defer nc.Close()

	mgmtServer := transport.NewServer(nc, managementSubject)
	svc.RegisterHandlers(mgmtServer)
	if err := mgmtServer.Start(); err != nil {
		return err
	}
	defer mgmtServer.Stop()

	schedServer := transport.NewServer(nc, schedulerSubject)
	sched.RegisterHandlers(schedServer)
	if err := schedServer.Start(); err != nil {
		return err
	}
	defer schedServer.Stop()

	health := rpcutil.NewHealthServer()
	health.SetServing("", true)
	go func() {
		if err := health.Serve(healthAddress); err != nil {
			log.Logger.Warn().Err(err).Msg("health server stopped")
		}
	}()
	defer health.Stop()

	go func() {
		if err := http.ListenAndServe(metricsAddr, metrics.Handler()); err != nil {
			log.Logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Logger.Info().Str("nats_url", cfg.ListenAddress).Msg("management+scheduler service started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Logger.Info().Msg("shutting down")
	return nil
}
