package dcap

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewSigner(key, []byte("fake-der-cert"))
}

func TestSignProducesVerifiableSignature(t *testing.T) {
	signer := testSigner(t)
	quote := []byte("fake-quote-bytes")

	body, sigB64, err := signer.Sign(quote, false)
	require.NoError(t, err)

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	require.NoError(t, err)

	digest := sha256.Sum256(body)
	require.NoError(t, rsa.VerifyPKCS1v15(&signer.key.PublicKey, crypto.SHA256, digest[:], sig))

	var report Report
	require.NoError(t, json.Unmarshal(body, &report))
	require.Equal(t, statusOK, report.ISVEnclaveQuoteStatus)
	require.Equal(t, base64.StdEncoding.EncodeToString(quote), report.ISVEnclaveQuoteBody)
}

func TestSignMarksExpiredCollateral(t *testing.T) {
	signer := testSigner(t)
	body, _, err := signer.Sign([]byte("quote"), true)
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal(body, &report))
	require.Equal(t, statusGroupOutOfDate, report.ISVEnclaveQuoteStatus)
}

func TestReportIDIsDeterministicPerQuote(t *testing.T) {
	require.Equal(t, reportID([]byte("a")), reportID([]byte("a")))
	require.NotEqual(t, reportID([]byte("a")), reportID([]byte("b")))
}
