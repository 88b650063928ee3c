package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/teaclave-sh/lifecycle/internal/accesscontrol"
	"github.com/teaclave-sh/lifecycle/internal/attestation"
	"github.com/teaclave-sh/lifecycle/internal/auditagent"
	"github.com/teaclave-sh/lifecycle/internal/config"
	"github.com/teaclave-sh/lifecycle/internal/frontend"
	"github.com/teaclave-sh/lifecycle/internal/log"
	"github.com/teaclave-sh/lifecycle/internal/metrics"
	"github.com/teaclave-sh/lifecycle/internal/rpcutil"
	"github.com/teaclave-sh/lifecycle/internal/transport"
)

const managementSubject = "management.rpc"

var (
	configPath    string
	healthAddress string
	metricsAddr   string
)

func main() {
	root := &cobra.Command{
		Use:          "frontend",
		Short:        "Attested entry point proxying authoring RPCs to Management",
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to service config file (required)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	root.PersistentFlags().StringVar(&healthAddress, "health-address", ":8082", "gRPC health check listen address")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-address", ":9091", "Prometheus metrics listen address")
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

	attCfg, err := cfg.AttestationConfig()
	if err != nil {
		return err
	}
	verifier := attestation.NewMeasurementVerifier(attCfg)

	// The perimeter oracle stands in for an external authorization
	// service (spec §1 out-of-scope), same as Management's.
	oracle := accesscontrol.NewInMemory(true)

	nc, err := nats.Connect(cfg.InternalEndpoints.Management.AdvertisedAddress)
	if err != nil {
		return fmt.Errorf("connect to management nats at %s: %w", cfg.InternalEndpoints.Management.AdvertisedAddress, err)
	}
	defer nc.Close()

	mgmtClient := transport.NewClient(nc, managementSubject)

	// FlushFunc only closes over mgmtClient, so a throwaway Gateway
	// supplies it before the real Gateway (holding the Agent it feeds)
	// is constructed.
	flushGateway := frontend.New(verifier, oracle, mgmtClient, nil)
	buffer := auditagent.NewBuffer(0)
	agent := auditagent.New(buffer, flushGateway.FlushFunc, 0)
	gateway := frontend.New(verifier, oracle, mgmtClient, agent)

	agentCtx, cancelAgent := context.WithCancel(context.Background())
	go agent.Run(agentCtx)
	defer cancelAgent()

	// No attestation collateral distribution exists in this config
	// schema, so the external listener's certificate and trust root
	// are generated fresh at startup rather than loaded from disk;
	// the peer's embedded attestation report, not the X.509 chain
	// itself, is what VerifyPeer actually relies on.
	cert, pool, err := ephemeralTLSIdentity()
	if err != nil {
		return fmt.Errorf("generate tls identity: %w", err)
	}
	tlsConfig := attestation.ServerTLSConfig(cert, pool, verifier)

	listener := frontend.NewListener(gateway, tlsConfig)
	go func() {
		if err := listener.Serve(cfg.ListenAddress); err != nil {
			log.Logger.Error().Err(err).Msg("frontend listener stopped")
		}
	}()

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

	log.Logger.Info().Str("listen_address", cfg.ListenAddress).Msg("frontend service started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Logger.Info().Msg("shutting down")
	return nil
}

// ephemeralTLSIdentity generates a short-lived self-signed certificate
// used as both this process's server certificate and its own trust
// root, since attested TLS here authenticates peers via the embedded
// attestation report rather than a shared PKI.
func ephemeralTLSIdentity() (tls.Certificate, *x509.CertPool, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "teaclave-frontend"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(parsed)
	return cert, pool, nil
}
