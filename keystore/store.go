package keystore

import "errors"

var (
	// ErrNotFound indicates no value is stored under the requested name.
	ErrNotFound = errors.New("keystore: entry not found")

	// ErrCorrupt indicates persisted key material is unreadable or failed
	// authentication. The identity must be treated as lost; regenerating
	// silently would orphan every wrap addressed to the old public key.
	ErrCorrupt = errors.New("keystore: key material corrupt")
)

// Store persists named blobs of sensitive key material. Implementations
// have an explicit lifecycle: construct, use, Close.
type Store interface {
	// Write persists data under name, replacing any previous value.
	Write(name string, data []byte) error

	// Read returns the value stored under name. It returns ErrNotFound if
	// nothing is stored and ErrCorrupt if the value cannot be decrypted or
	// fails authentication.
	Read(name string) ([]byte, error)

	// Delete removes the value stored under name, if any.
	Delete(name string) error

	// Close releases resources and wipes in-memory key material. The store
	// must not be used afterwards.
	Close() error
}
