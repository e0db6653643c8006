package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/veilchat/veilchat/crypto"
)

// identityEntry is the store name holding the private half of the identity
// key pair.
const identityEntry = "identity.key"

// PrivateKeyHandle is an opaque reference to the identity private key. It is
// passed by reference into crypto engine calls and never serialized outward;
// the raw bytes are reachable only through OpenEnvelope.
type PrivateKeyHandle struct {
	key [32]byte
}

// OpenEnvelope decrypts a sealed message addressed to the handle's owner.
// This is the only operation the handle supports.
func (h *PrivateKeyHandle) OpenEnvelope(sealed *crypto.SealedMessage, userID, deviceID string) ([]byte, error) {
	return crypto.DecryptEnvelope(sealed, h.key, userID, deviceID)
}

// String redacts the key material from logs and format verbs.
func (h *PrivateKeyHandle) String() string {
	return "PrivateKeyHandle(redacted)"
}

// Identity manages the account's identity key pair on top of a Store:
// generated once, persisted, reused thereafter.
type Identity struct {
	store Store
	keys  *crypto.KeyPair
	mu    sync.Mutex
}

// NewIdentity creates an identity manager backed by store.
func NewIdentity(store Store) *Identity {
	return &Identity{store: store}
}

// GetOrCreate returns the identity key pair, generating and persisting it on
// first call. Idempotent: every later call returns the same pair.
//
// Unreadable or corrupt persisted material fails with ErrCorrupt; the
// identity is lost and is never silently regenerated, since a new key would
// invalidate every wrap addressed to the old one.
func (i *Identity) GetOrCreate() (*crypto.KeyPair, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.keys != nil {
		return i.keys, nil
	}

	data, err := i.store.Read(identityEntry)
	switch {
	case err == nil:
		keys, err := keyPairFromStored(data)
		crypto.ZeroBytes(data)
		if err != nil {
			return nil, err
		}
		i.keys = keys

		logrus.WithFields(logrus.Fields{
			"function":   "GetOrCreate",
			"public_key": hex.EncodeToString(keys.Public[:8]),
		}).Debug("Loaded existing identity")

		return i.keys, nil

	case errors.Is(err, ErrNotFound):
		keys, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("failed to generate identity: %w", err)
		}

		if err := i.store.Write(identityEntry, keys.Private[:]); err != nil {
			crypto.WipeKeyPair(keys)
			return nil, fmt.Errorf("failed to persist identity: %w", err)
		}
		i.keys = keys

		logrus.WithFields(logrus.Fields{
			"function":   "GetOrCreate",
			"public_key": hex.EncodeToString(keys.Public[:8]),
		}).Info("Generated new identity")

		return i.keys, nil

	default:
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
}

// keyPairFromStored validates persisted private-key bytes and rebuilds the
// key pair. Anything malformed is corruption, not a recoverable state.
func keyPairFromStored(data []byte) (*crypto.KeyPair, error) {
	if len(data) != 32 {
		return nil, fmt.Errorf("stored identity has %d bytes, want 32: %w", len(data), ErrCorrupt)
	}

	var secret [32]byte
	copy(secret[:], data)

	keys, err := crypto.FromSecretKey(secret)
	if err != nil {
		crypto.ZeroBytes(secret[:])
		return nil, fmt.Errorf("stored identity unusable: %w", ErrCorrupt)
	}
	return keys, nil
}

// PublicKeyExport returns the public half hex-encoded for publishing to the
// relay.
func (i *Identity) PublicKeyExport() (string, error) {
	keys, err := i.GetOrCreate()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(keys.Public[:]), nil
}

// PrivateKeyHandle returns the opaque handle used for decryption. The
// handle shares no storage with the identity and cannot leak the key.
func (i *Identity) PrivateKeyHandle() (*PrivateKeyHandle, error) {
	keys, err := i.GetOrCreate()
	if err != nil {
		return nil, err
	}
	return &PrivateKeyHandle{key: keys.Private}, nil
}

// Teardown wipes in-memory key material and closes the backing store.
func (i *Identity) Teardown() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.keys != nil {
		crypto.WipeKeyPair(i.keys)
		i.keys = nil
	}
	return i.store.Close()
}
