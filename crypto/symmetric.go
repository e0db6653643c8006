package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// Nonce is a 24-byte value used for symmetric encryption. A fresh nonce is
// generated for every envelope and never reused, even on retry.
type Nonce [24]byte

// ContentKeySize is the size of the symmetric content key in bytes.
const ContentKeySize = 32

// MaxPlaintextSize bounds plaintext accepted for sealing (1MB, preventing
// excessive memory usage on hostile input).
const MaxPlaintextSize = 1024 * 1024

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	_, err := rand.Read(nonce[:])
	if err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// GenerateContentKey creates a fresh random 256-bit content key.
func GenerateContentKey() ([ContentKeySize]byte, error) {
	var key [ContentKeySize]byte
	_, err := rand.Read(key[:])
	if err != nil {
		return [ContentKeySize]byte{}, err
	}
	return key, nil
}

// EncryptSymmetric encrypts a message with a content key using authenticated
// symmetric encryption (NaCl secretbox).
func EncryptSymmetric(message []byte, nonce Nonce, key [ContentKeySize]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}

	if len(message) > MaxPlaintextSize {
		return nil, errors.New("message too large")
	}

	out := secretbox.Seal(nil, message, (*[24]byte)(&nonce), (*[32]byte)(&key))

	return out, nil
}

// DecryptSymmetric decrypts a cipher body with a content key, verifying the
// authentication tag.
func DecryptSymmetric(ciphertext []byte, nonce Nonce, key [ContentKeySize]byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	out, ok := secretbox.Open(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&key))
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return out, nil
}
