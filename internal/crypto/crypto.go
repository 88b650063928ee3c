// Package crypto computes and verifies the per-file authentication
// tag (types.InputFile.Cmac / OutputFile.Cmac) and derives per-file
// data-encryption keys from a task's master secret, keeping the cryptographic primitives isolated
// from the repository and task state machine packages.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

// TagSize matches types.InputFile.Cmac / OutputFile.Cmac: a 16-byte
// AES-GCM authentication tag over the file's ciphertext.
const TagSize = 16

// ComputeTag seals plaintext under key with AES-GCM and returns the
// resulting ciphertext and its 16-byte authentication tag. nonce must
// be 12 bytes and unique per key.
func ComputeTag(key, nonce, plaintext, additionalData []byte) (ciphertext []byte, tag [TagSize]byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, tag, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, tag, domerr.New(domerr.InvalidArgument, "crypto.ComputeTag", "nonce must be 12 bytes")
	}
	sealed := gcm.Seal(nil, nonce, plaintext, additionalData)
	ct := sealed[:len(sealed)-gcm.Overhead()]
	copy(tag[:], sealed[len(sealed)-gcm.Overhead():])
	return ct, tag, nil
}

// VerifyTag re-seals (conceptually, opens) ciphertext under key and
// reports whether it authenticates against the stored tag, returning
// the plaintext on success.
func VerifyTag(key, nonce, ciphertext []byte, tag [TagSize]byte, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, domerr.New(domerr.InvalidArgument, "crypto.VerifyTag", "nonce must be 12 bytes")
	}
	sealed := append(append([]byte{}, ciphertext...), tag[:]...)
	plaintext, err := gcm.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, domerr.Wrap(domerr.InvalidArgument, "crypto.VerifyTag", "authentication tag mismatch", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domerr.Wrap(domerr.InvalidArgument, "crypto.newGCM", "invalid key", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domerr.Wrap(domerr.Internal, "crypto.newGCM", "build GCM", err)
	}
	return gcm, nil
}

// NewNonce returns a fresh random 12-byte GCM nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, domerr.Wrap(domerr.Internal, "crypto.NewNonce", "read random", err)
	}
	return nonce, nil
}

// DeriveFileKey derives a 32-byte AES-256 key for one file from a
// task's master secret via HKDF-SHA256, binding the derived key to
// the file's id so two files under the same task never share a key.
func DeriveFileKey(masterSecret []byte, fileID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterSecret, nil, []byte("teaclave-lifecycle-file:"+fileID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, domerr.Wrap(domerr.Internal, "crypto.DeriveFileKey", "hkdf expand", err)
	}
	return key, nil
}
