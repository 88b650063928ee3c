package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teaclave-sh/lifecycle/internal/dcap"
	"github.com/teaclave-sh/lifecycle/internal/log"
)

var listenAddress string

func main() {
	root := &cobra.Command{
		Use:          "dcap",
		Short:        "IAS-compatible attestation report signing endpoint",
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVar(&listenAddress, "listen-address", ":8090", "HTTP listen address")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "emit logs as JSON")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	key, cert, err := ephemeralSigningIdentity()
	if err != nil {
		return fmt.Errorf("generate signing identity: %w", err)
	}
	signer := dcap.NewSigner(key, cert)
	handler := dcap.NewHandler(signer)

	log.Logger.Info().Str("listen_address", listenAddress).Msg("dcap signing endpoint started")
	return http.ListenAndServe(listenAddress, handler)
}

// ephemeralSigningIdentity generates a throwaway RSA key and
// self-signed certificate at startup. No real IAS/DCAP signing
// collateral is distributed through this module's config schema;
// this endpoint exists for wire compatibility, not for a trust chain
// any real verifier relies on.
func ephemeralSigningIdentity() (*rsa.PrivateKey, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "teaclave-dcap"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	return key, der, nil
}
