package dcap

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"time"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/log"
)

// quoteStatus mirrors the values IAS historically reported in
// isvEnclaveQuoteStatus.
type quoteStatus string

const (
	statusOK                  quoteStatus = "OK"
	statusGroupOutOfDate      quoteStatus = "GROUP_OUT_OF_DATE"
	statusConfigurationNeeded quoteStatus = "CONFIGURATION_NEEDED"
)

// Report is the IAS-compatible JSON envelope returned by the signing
// endpoint.
type Report struct {
	ID                    string      `json:"id"`
	Version               int         `json:"version"`
	Timestamp             string      `json:"timestamp"`
	ISVEnclaveQuoteStatus quoteStatus `json:"isvEnclaveQuoteStatus"`
	ISVEnclaveQuoteBody   string      `json:"isvEnclaveQuoteBody"`
}

// Signer produces signed attestation reports for raw quotes.
type Signer struct {
	key  *rsa.PrivateKey
	cert []byte // DER-encoded signing certificate
}

// NewSigner builds a Signer from an RSA private key and its DER
// certificate.
func NewSigner(key *rsa.PrivateKey, cert []byte) *Signer {
	return &Signer{key: key, cert: cert}
}

// Sign wraps quote in an IAS-style Report, determines its quote
// status from collateralExpired, and returns the envelope's canonical
// JSON bytes alongside the base64 RSA-PKCS1-SHA256 signature over
// those bytes.
func (s *Signer) Sign(quote []byte, collateralExpired bool) (body []byte, signatureB64 string, err error) {
	status := statusOK
	if collateralExpired {
		status = statusGroupOutOfDate
	}

	report := Report{
		ID:                    reportID(quote),
		Version:               4,
		Timestamp:             time.Now().UTC().Format("2006-01-02T15:04:05.000000"),
		ISVEnclaveQuoteStatus: status,
		ISVEnclaveQuoteBody:   base64.StdEncoding.EncodeToString(quote),
	}

	body, err = json.Marshal(report)
	if err != nil {
		return nil, "", domerr.Wrap(domerr.Internal, "dcap.Sign", "marshal report", err)
	}

	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, "", domerr.Wrap(domerr.Internal, "dcap.Sign", "sign report", err)
	}

	return body, base64.StdEncoding.EncodeToString(sig), nil
}

// CertificatePEM returns the signing certificate PEM-encoded, for the
// X-IASReport-Signing-Certificate response header.
func (s *Signer) CertificatePEM() string {
	block := &pem.Block{Type: "CERTIFICATE", Bytes: s.cert}
	return string(pem.EncodeToMemory(block))
}

func reportID(quote []byte) string {
	sum := sha256.Sum256(quote)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// Handler serves the attestation report signing HTTP endpoint: POST a
// raw quote body, receive the signed IAS-style envelope with its
// signature and signing certificate in response headers.
type Handler struct {
	signer *Signer
	mux    *http.ServeMux
}

func NewHandler(signer *Signer) *Handler {
	mux := http.NewServeMux()
	h := &Handler{signer: signer, mux: mux}
	mux.HandleFunc("/attestation/sigrl", h.reportHandler)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) reportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	quote, err := readQuote(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	collateralExpired := r.URL.Query().Get("collateral_expired") == "true"

	body, signature, err := h.signer.Sign(quote, collateralExpired)
	if err != nil {
		log.WithComponent("dcap").Error().Err(err).Msg("failed to sign attestation report")
		http.Error(w, "failed to sign report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-IASReport-Signature", signature)
	w.Header().Set("X-IASReport-Signing-Certificate", h.signer.CertificatePEM())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func readQuote(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var req struct {
		Quote string `json:"isvEnclaveQuote"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, domerr.Wrap(domerr.InvalidArgument, "dcap.readQuote", "decode request", err)
	}
	quote, err := base64.StdEncoding.DecodeString(req.Quote)
	if err != nil {
		return nil, domerr.Wrap(domerr.InvalidArgument, "dcap.readQuote", "decode base64 quote", err)
	}
	return quote, nil
}
