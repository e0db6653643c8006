// Package crypto implements the hybrid encryption protocol for veilchat
// envelopes.
//
// Every message is encrypted exactly once with a fresh 256-bit symmetric
// content key (NaCl secretbox, XSalsa20-Poly1305), and that content key is
// then wrapped asymmetrically for each recipient device with a sealed NaCl
// box. The relay only ever sees the cipher body and the wraps; it can route
// an envelope but never read one.
//
// # Core Types
//
//   - [KeyPair]: NaCl crypto_box key pair (Curve25519) identifying one account
//   - [Nonce]: 24-byte random nonce, fresh per envelope
//   - [SealedMessage]: one cipher body plus one key wrap per recipient device
//
// # Sealing and Opening
//
//	keys, _ := crypto.GenerateKeyPair()
//
//	sealed, err := crypto.EncryptEnvelope(plaintext, recipients, crypto.RecipientKey{
//	    UserID:    myID,
//	    DeviceID:  myDevice,
//	    PublicKey: keys.Public,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	plaintext, err := crypto.DecryptEnvelope(sealed, keys.Private, myID, myDevice)
//
// EncryptEnvelope is a pure transform with no network or storage side
// effects. It always adds a wrap for the sender's own key (the self-wrap);
// without it the sender could never redisplay their own sent messages.
//
// # Failure Modes
//
// The distinguishable error conditions form the protocol's crypto taxonomy:
//
//   - [ErrNoRecipientKey]: a recipient has no usable public key; the caller
//     must not silently drop that recipient
//   - [ErrNoWrapForViewer]: the viewer was never addressed by the envelope
//   - [ErrDecryptionFailed]: authentication failed (tampering, wrong key, or
//     transport corruption); callers degrade to an "unavailable" placeholder
//
// # Secure Memory Handling
//
// Raw content keys are wiped after sealing and after opening:
//
//	defer crypto.SecureWipe(contentKey[:])
//	defer crypto.WipeKeyPair(keyPair)
//
// Wiping uses constant-time operations that the compiler cannot optimize
// away, so the memory is actually zeroed.
package crypto
