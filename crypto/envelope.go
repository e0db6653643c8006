package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// RecipientKey identifies one reader device and its current public key.
type RecipientKey struct {
	UserID    string
	DeviceID  string
	PublicKey [32]byte
}

// CipherBody is the opaque encrypted payload of an envelope: the content
// ciphertext and the nonce (IV) it was sealed with. Immutable once sent.
type CipherBody struct {
	Content []byte
	IV      Nonce
}

// KeyWrap is the content key asymmetrically encrypted for one specific
// reader device.
type KeyWrap struct {
	RecipientID string
	DeviceID    string
	WrappedKey  []byte
}

// SealedMessage is the cryptographic half of an envelope: exactly one cipher
// body produced by one content key, plus one key wrap per reader device.
type SealedMessage struct {
	Body  CipherBody
	Wraps []KeyWrap
}

// EncryptEnvelope seals plaintext for a set of recipients plus the sender's
// own key. It generates a fresh content key and nonce, encrypts once, and
// wraps the content key for every (user, device) pair. The self-wrap is
// mandatory: omitting it would make the sender's own sent messages
// permanently unreadable to them.
//
// Pure transform: no network or storage side effects. Fails with
// ErrNoRecipientKey if any recipient has no usable public key.
func EncryptEnvelope(plaintext []byte, recipients []RecipientKey, self RecipientKey) (*SealedMessage, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}

	if isZeroKey(self.PublicKey) {
		return nil, fmt.Errorf("sender %s: %w", self.UserID, ErrNoRecipientKey)
	}

	for _, r := range recipients {
		if isZeroKey(r.PublicKey) {
			return nil, fmt.Errorf("recipient %s: %w", r.UserID, ErrNoRecipientKey)
		}
	}

	contentKey, err := GenerateContentKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	defer SecureWipe(contentKey[:])

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	content, err := EncryptSymmetric(plaintext, nonce, contentKey)
	if err != nil {
		return nil, err
	}

	// One wrap per reader device, sender last. A recipient list that
	// already names the sender's device does not get a second wrap.
	readers := make([]RecipientKey, 0, len(recipients)+1)
	seen := make(map[string]bool, len(recipients)+1)
	for _, r := range append(append([]RecipientKey{}, recipients...), self) {
		key := r.UserID + "/" + r.DeviceID
		if seen[key] {
			continue
		}
		seen[key] = true
		readers = append(readers, r)
	}

	wraps := make([]KeyWrap, 0, len(readers))
	for _, r := range readers {
		pub := r.PublicKey
		wrapped, err := box.SealAnonymous(nil, contentKey[:], &pub, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to wrap content key for %s: %w", r.UserID, err)
		}
		wraps = append(wraps, KeyWrap{
			RecipientID: r.UserID,
			DeviceID:    r.DeviceID,
			WrappedKey:  wrapped,
		})
	}

	logrus.WithFields(logrus.Fields{
		"function":       "EncryptEnvelope",
		"plaintext_size": len(plaintext),
		"wrap_count":     len(wraps),
	}).Debug("Envelope sealed")

	return &SealedMessage{
		Body:  CipherBody{Content: content, IV: nonce},
		Wraps: wraps,
	}, nil
}

// DecryptEnvelope opens a sealed message for one viewer. It selects the
// wraps addressed to userID (preferring an exact deviceID match), unwraps
// the content key with the private key, and decrypts the cipher body.
// The first successfully-unwrapped wrap wins.
//
// Idempotent and side-effect free: opening the same envelope any number of
// times yields the same plaintext or the same failure.
func DecryptEnvelope(sealed *SealedMessage, privateKey [32]byte, userID, deviceID string) ([]byte, error) {
	if sealed == nil {
		return nil, errors.New("nil sealed message")
	}

	var publicKey [32]byte
	curve25519.ScalarBaseMult(&publicKey, &privateKey)

	addressed := selectWraps(sealed.Wraps, userID, deviceID)
	if len(addressed) == 0 {
		return nil, fmt.Errorf("viewer %s: %w", userID, ErrNoWrapForViewer)
	}

	for _, w := range addressed {
		rawKey, ok := box.OpenAnonymous(nil, w.WrappedKey, &publicKey, &privateKey)
		if !ok || len(rawKey) != ContentKeySize {
			continue
		}

		var contentKey [ContentKeySize]byte
		copy(contentKey[:], rawKey)
		SecureWipe(rawKey)

		plaintext, err := DecryptSymmetric(sealed.Body.Content, sealed.Body.IV, contentKey)
		SecureWipe(contentKey[:])
		if err != nil {
			return nil, err
		}
		return plaintext, nil
	}

	logrus.WithFields(logrus.Fields{
		"function":   "DecryptEnvelope",
		"viewer":     userID,
		"wrap_count": len(addressed),
	}).Debug("No addressed wrap could be opened")

	return nil, ErrDecryptionFailed
}

// selectWraps returns the wraps addressed to a viewer, exact device matches
// first so a multi-device viewer tries their own wrap before siblings'.
func selectWraps(wraps []KeyWrap, userID, deviceID string) []KeyWrap {
	var exact, fallback []KeyWrap
	for _, w := range wraps {
		if w.RecipientID != userID {
			continue
		}
		if deviceID != "" && w.DeviceID == deviceID {
			exact = append(exact, w)
		} else {
			fallback = append(fallback, w)
		}
	}
	return append(exact, fallback...)
}
