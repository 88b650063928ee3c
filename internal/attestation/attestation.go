// Package attestation treats remote attestation as an opaque
// transport concern (spec §1's "Out of scope" list): it authenticates
// both TLS endpoints of an inter-service RPC and yields a peer
// identity, without this repository caring how the quote itself was
// produced inside an enclave.
package attestation

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

// reportExtensionOID is the custom X.509 extension carrying the
// attestation report, mirroring how SGX-backed attested TLS embeds a
// quote in the peer certificate rather than sending it out of band.
var reportExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}

// Report is the opaque {quote, signature, cert_chain} triple spec §6
// describes. CollateralExpired flags the DCAP "collateral_exp_status
// != 0" case called out as an Open Question in spec §9.
type Report struct {
	Quote             []byte
	Signature         []byte
	CertChain         [][]byte
	MrEnclave         []byte
	CollateralExpired bool
}

// Verifier validates a Report and returns the identity it attests to
// (conventionally the service/worker's node id).
type Verifier interface {
	Verify(report Report) (peerIdentity string, err error)
}

// Config mirrors the attestation stanza of a service's --config file
// (spec §6): {algorithm, url, api_key, spid}.
type Config struct {
	Algorithm        string // "sgx_epid" or "sgx_ecdsa"
	URL              string
	APIKey           string
	SPID             string
	EnclaveInfoBytes []byte // expected mr_enclave measurement
}

// MeasurementVerifier rejects a quote whose enclave measurement
// doesn't match the configured EnclaveInfoBytes, and rejects expired
// DCAP collateral as AttestationFailed — the Open Question in
// spec §9 is resolved in favor of producing a security-relevant,
// audited failure rather than a silent BadRequest (see SPEC_FULL.md).
type MeasurementVerifier struct {
	cfg Config
}

func NewMeasurementVerifier(cfg Config) *MeasurementVerifier {
	return &MeasurementVerifier{cfg: cfg}
}

func (v *MeasurementVerifier) Verify(report Report) (string, error) {
	if report.CollateralExpired {
		return "", domerr.New(domerr.AttestationFailed, "attestation.Verify", "DCAP collateral expired")
	}
	if len(v.cfg.EnclaveInfoBytes) > 0 && string(report.MrEnclave) != string(v.cfg.EnclaveInfoBytes) {
		return "", domerr.New(domerr.AttestationFailed, "attestation.Verify", "enclave measurement does not match configured enclave_info_bytes")
	}
	if len(report.CertChain) == 0 {
		return "", domerr.New(domerr.AttestationFailed, "attestation.Verify", "empty certificate chain")
	}
	leaf, err := x509.ParseCertificate(report.CertChain[0])
	if err != nil {
		return "", domerr.Wrap(domerr.AttestationFailed, "attestation.Verify", "parse leaf certificate", err)
	}
	return leaf.Subject.CommonName, nil
}

// ReportFromCertificate extracts the embedded Report from a peer
// certificate's custom extension, if present.
func ReportFromCertificate(cert *x509.Certificate) (Report, bool) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(reportExtensionOID) {
			var report Report
			if _, err := asn1.Unmarshal(ext.Value, &report); err == nil {
				return report, true
			}
		}
	}
	return Report{}, false
}

// VerifyPeer builds a tls.Config.VerifyPeerCertificate callback that
// runs the attestation Verifier over the leaf certificate's embedded
// report, rejecting the handshake outright on attestation failure.
func VerifyPeer(verifier Verifier) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return domerr.New(domerr.AttestationFailed, "attestation.VerifyPeer", "no peer certificate presented")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return domerr.Wrap(domerr.AttestationFailed, "attestation.VerifyPeer", "parse peer certificate", err)
		}
		report, ok := ReportFromCertificate(leaf)
		if !ok {
			// Non-attested channel (e.g. local dev / tests): allow
			// standard mTLS trust to stand on its own.
			return nil
		}
		_, err = verifier.Verify(report)
		return err
	}
}

// ClientTLSConfig builds a tls.Config suitable for an attested-TLS
// client connection, given its own certificate and the root CA pool,
// plus an attestation Verifier applied to the server's report.
func ClientTLSConfig(cert tls.Certificate, rootCAs *x509.CertPool, verifier Verifier) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		RootCAs:               rootCAs,
		MinVersion:            tls.VersionTLS13,
		InsecureSkipVerify:    true, // standard verification is superseded by VerifyPeerCertificate
		VerifyPeerCertificate: VerifyPeer(verifier),
	}
}

// ServerTLSConfig builds a tls.Config for an attested-TLS server,
// requiring and verifying a client certificate's embedded report.
func ServerTLSConfig(cert tls.Certificate, clientCAs *x509.CertPool, verifier Verifier) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientCAs:             clientCAs,
		ClientAuth:            tls.RequireAndVerifyClientCert,
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: VerifyPeer(verifier),
	}
}
