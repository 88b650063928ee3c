package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	measurement := base64.StdEncoding.EncodeToString([]byte("expected-measurement"))
	path := writeTestConfig(t, `
attestation:
  algorithm: sgx_ecdsa
  url: https://pccs.example.com
  api_key: secret
  spid: "0123456789abcdef0123456789abcdef"
listen_address: "0.0.0.0:9443"
internal_endpoints:
  authentication:
    advertised_address: "auth.internal:9000"
  management:
    advertised_address: "mgmt.internal:9001"
  scheduler:
    advertised_address: "sched.internal:9002"
  storage:
    advertised_address: "storage.internal:9003"
audit:
  enclave_info_bytes: "`+measurement+`"
storage:
  path: /var/lib/lifecycle/data
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sgx_ecdsa", cfg.Attestation.Algorithm)
	require.Equal(t, "0.0.0.0:9443", cfg.ListenAddress)
	require.Equal(t, "mgmt.internal:9001", cfg.InternalEndpoints.Management.AdvertisedAddress)
	require.Equal(t, "/var/lib/lifecycle/data", cfg.Storage.Path)

	attCfg, err := cfg.AttestationConfig()
	require.NoError(t, err)
	require.Equal(t, []byte("expected-measurement"), attCfg.EnclaveInfoBytes)
	require.Equal(t, "sgx_ecdsa", attCfg.Algorithm)
}

func TestLoadRejectsMissingListenAddress(t *testing.T) {
	path := writeTestConfig(t, `
storage:
  path: /var/lib/lifecycle/data
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingStoragePath(t *testing.T) {
	path := writeTestConfig(t, `
listen_address: "0.0.0.0:9443"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownAttestationAlgorithm(t *testing.T) {
	path := writeTestConfig(t, `
listen_address: "0.0.0.0:9443"
storage:
  path: /var/lib/lifecycle/data
attestation:
  algorithm: sgx_whatever
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
