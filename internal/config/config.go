package config

import (
	"encoding/base64"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teaclave-sh/lifecycle/internal/attestation"
	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

// Attestation holds the collateral parameters a Verifier is built
// from: which quote scheme to expect and where to fetch revocation
// and signing collateral.
type Attestation struct {
	Algorithm string `yaml:"algorithm"` // "sgx_epid" or "sgx_ecdsa"
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	SPID      string `yaml:"spid"`
}

// Endpoint is one internal service's advertised address, the address
// peers should dial to reach it.
type Endpoint struct {
	AdvertisedAddress string `yaml:"advertised_address"`
}

// InternalEndpoints names where each service in the cluster can be
// reached.
type InternalEndpoints struct {
	Authentication Endpoint `yaml:"authentication"`
	Management     Endpoint `yaml:"management"`
	Scheduler      Endpoint `yaml:"scheduler"`
	Storage        Endpoint `yaml:"storage"`
}

// Audit configures the audit verification wire-compatibility layer.
type Audit struct {
	EnclaveInfoBytes string `yaml:"enclave_info_bytes"`
}

// Storage configures the KV store backing every service.
type Storage struct {
	Path string `yaml:"path"`
}

// Config is the full shape of a service's --config file.
type Config struct {
	Attestation       Attestation       `yaml:"attestation"`
	ListenAddress     string            `yaml:"listen_address"`
	InternalEndpoints InternalEndpoints `yaml:"internal_endpoints"`
	Audit             Audit             `yaml:"audit"`
	Storage           Storage           `yaml:"storage"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domerr.Wrap(domerr.Internal, "config.Load", "read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domerr.Wrap(domerr.Internal, "config.Load", "parse config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AttestationConfig translates the YAML attestation and audit
// sections into the shape internal/attestation.NewMeasurementVerifier
// expects. enclave_info_bytes is base64-decoded into the raw expected
// measurement.
func (c *Config) AttestationConfig() (attestation.Config, error) {
	var enclaveInfo []byte
	if c.Audit.EnclaveInfoBytes != "" {
		decoded, err := base64.StdEncoding.DecodeString(c.Audit.EnclaveInfoBytes)
		if err != nil {
			return attestation.Config{}, domerr.Wrap(domerr.InvalidArgument, "config.AttestationConfig", "decode enclave_info_bytes", err)
		}
		enclaveInfo = decoded
	}
	return attestation.Config{
		Algorithm:        c.Attestation.Algorithm,
		URL:              c.Attestation.URL,
		APIKey:           c.Attestation.APIKey,
		SPID:             c.Attestation.SPID,
		EnclaveInfoBytes: enclaveInfo,
	}, nil
}

// Validate checks the fields every service binary depends on being
// present before it starts accepting connections.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return domerr.New(domerr.InvalidArgument, "config.Validate", "listen_address is required")
	}
	if c.Storage.Path == "" {
		return domerr.New(domerr.InvalidArgument, "config.Validate", "storage.path is required")
	}
	switch c.Attestation.Algorithm {
	case "sgx_epid", "sgx_ecdsa", "":
	default:
		return domerr.New(domerr.InvalidArgument, "config.Validate", "attestation.algorithm must be sgx_epid or sgx_ecdsa")
	}
	return nil
}
