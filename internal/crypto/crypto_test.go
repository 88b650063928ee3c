package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeAndVerifyTagRoundTrip(t *testing.T) {
	key, err := DeriveFileKey([]byte("master-secret"), "input-abc")
	require.NoError(t, err)
	nonce, err := NewNonce()
	require.NoError(t, err)

	ciphertext, tag, err := ComputeTag(key, nonce, []byte("hello world"), []byte("input-abc"))
	require.NoError(t, err)

	plaintext, err := VerifyTag(key, nonce, ciphertext, tag, []byte("input-abc"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(plaintext))
}

func TestVerifyTagRejectsTamperedCiphertext(t *testing.T) {
	key, err := DeriveFileKey([]byte("master-secret"), "input-abc")
	require.NoError(t, err)
	nonce, err := NewNonce()
	require.NoError(t, err)

	ciphertext, tag, err := ComputeTag(key, nonce, []byte("hello world"), nil)
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = VerifyTag(key, nonce, ciphertext, tag, nil)
	require.Error(t, err)
}

func TestDeriveFileKeyIsPerFile(t *testing.T) {
	k1, err := DeriveFileKey([]byte("master-secret"), "input-a")
	require.NoError(t, err)
	k2, err := DeriveFileKey([]byte("master-secret"), "input-b")
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}
