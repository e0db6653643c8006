package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/veilchat/veilchat/crypto"
)

// FileStore wraps file storage with AES-GCM encryption at rest. This keeps
// identity key material protected even if the filesystem is compromised.
type FileStore struct {
	encryptionKey [32]byte
	dataDir       string
	saltFile      string
}

const (
	// pbkdf2Iterations is the number of iterations for key derivation.
	pbkdf2Iterations = 100000
	// storeVersion is the current on-disk format version.
	storeVersion = 1
	// saltSize is the size of the PBKDF2 salt.
	saltSize = 32
)

// NewFileStore creates a store rooted at dataDir, deriving the at-rest
// encryption key from passphrase with PBKDF2. The passphrase slice is wiped
// before returning.
func NewFileStore(dataDir string, passphrase []byte) (*FileStore, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fs := &FileStore{
		dataDir:  dataDir,
		saltFile: filepath.Join(dataDir, ".salt"),
	}

	salt, err := fs.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derivedKey := pbkdf2.Key(passphrase, salt, pbkdf2Iterations, 32, sha256.New)
	copy(fs.encryptionKey[:], derivedKey)

	crypto.ZeroBytes(derivedKey)
	crypto.ZeroBytes(passphrase)

	return fs, nil
}

// loadOrGenerateSalt loads the existing salt or generates a new one.
func (fs *FileStore) loadOrGenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)

	data, err := os.ReadFile(fs.saltFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}

		if err := os.WriteFile(fs.saltFile, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}

		return salt, nil
	}

	if len(data) != saltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d: %w", len(data), saltSize, ErrCorrupt)
	}

	copy(salt, data)
	return salt, nil
}

// Write encrypts and persists data under name.
// On-disk format: [version:2][nonce:12][ciphertext+tag:N], written via a
// temporary file and rename so a crash never leaves a torn entry.
func (fs *FileStore) Write(name string, data []byte) error {
	block, err := aes.NewCipher(fs.encryptionKey[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, data, nil)

	output := make([]byte, 2+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], storeVersion)
	copy(output[2:2+len(nonce)], nonce)
	copy(output[2+len(nonce):], ciphertext)

	tmpFile := filepath.Join(fs.dataDir, name+".tmp")
	finalFile := filepath.Join(fs.dataDir, name)

	if err := os.WriteFile(tmpFile, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Read loads and decrypts the value stored under name.
func (fs *FileStore) Read(name string) ([]byte, error) {
	filePath := filepath.Join(fs.dataDir, name)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// version + nonce + tag is the smallest well-formed entry
	if len(data) < 2+12+16 {
		return nil, fmt.Errorf("entry too short (%d bytes): %w", len(data), ErrCorrupt)
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != storeVersion {
		return nil, fmt.Errorf("unsupported store version %d: %w", version, ErrCorrupt)
	}

	block, err := aes.NewCipher(fs.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < 2+nonceSize {
		return nil, fmt.Errorf("entry too short for nonce: %w", ErrCorrupt)
	}

	nonce := data[2 : 2+nonceSize]
	ciphertext := data[2+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed (wrong passphrase or corrupted data): %w", ErrCorrupt)
	}

	return plaintext, nil
}

// Delete removes the entry stored under name, overwriting it with zeros
// first as best-effort secure deletion.
func (fs *FileStore) Delete(name string) error {
	filePath := filepath.Join(fs.dataDir, name)

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat file: %w", err)
	}

	zeros := make([]byte, info.Size())
	if err := os.WriteFile(filePath, zeros, 0o600); err != nil {
		return os.Remove(filePath)
	}

	return os.Remove(filePath)
}

// Close wipes the at-rest encryption key from memory. The store must not be
// used afterwards.
func (fs *FileStore) Close() error {
	crypto.ZeroBytes(fs.encryptionKey[:])
	return nil
}
