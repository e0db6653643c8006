package crypto

import "errors"

var (
	// ErrNoRecipientKey indicates a recipient in the encryption set has no
	// usable public key. Callers must surface this rather than dropping the
	// recipient: a dropped recipient can never read the message.
	ErrNoRecipientKey = errors.New("recipient has no usable public key")

	// ErrNoWrapForViewer indicates the envelope carries no key wrap
	// addressed to the viewer; they were never a legitimate recipient.
	ErrNoWrapForViewer = errors.New("no key wrap addressed to viewer")

	// ErrDecryptionFailed indicates cryptographic verification failed:
	// tampered ciphertext, a wrong key, or corruption in transit. It is a
	// per-message condition and must never take down the conversation view.
	ErrDecryptionFailed = errors.New("decryption failed")
)
