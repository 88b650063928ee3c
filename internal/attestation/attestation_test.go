package attestation

import (
	"testing"

	"github.com/stretchr/testify/require"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

func TestMeasurementVerifierRejectsExpiredCollateral(t *testing.T) {
	v := NewMeasurementVerifier(Config{EnclaveInfoBytes: []byte("mrenclave-a")})

	_, err := v.Verify(Report{MrEnclave: []byte("mrenclave-a"), CollateralExpired: true, CertChain: [][]byte{{0}}})
	require.Error(t, err)
	require.Equal(t, domerr.AttestationFailed, domerr.KindOf(err))
}

func TestMeasurementVerifierRejectsMismatch(t *testing.T) {
	v := NewMeasurementVerifier(Config{EnclaveInfoBytes: []byte("mrenclave-a")})

	_, err := v.Verify(Report{MrEnclave: []byte("mrenclave-b"), CertChain: [][]byte{{0}}})
	require.Error(t, err)
	require.Equal(t, domerr.AttestationFailed, domerr.KindOf(err))
}

func TestMeasurementVerifierRejectsEmptyChain(t *testing.T) {
	v := NewMeasurementVerifier(Config{})

	_, err := v.Verify(Report{})
	require.Error(t, err)
	require.Equal(t, domerr.AttestationFailed, domerr.KindOf(err))
}
