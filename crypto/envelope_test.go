package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func makeReader(t *testing.T, userID, deviceID string) (RecipientKey, *KeyPair) {
	t.Helper()
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	return RecipientKey{UserID: userID, DeviceID: deviceID, PublicKey: keys.Public}, keys
}

func TestEncryptEnvelopeRoundTrip(t *testing.T) {
	plaintext := []byte("hello")

	alice, aliceKeys := makeReader(t, "alice", "web")
	bob, bobKeys := makeReader(t, "bob", "web")
	carol, carolKeys := makeReader(t, "carol", "mobile")

	sealed, err := EncryptEnvelope(plaintext, []RecipientKey{bob, carol}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}

	// Two recipients plus the mandatory self-wrap.
	if len(sealed.Wraps) != 3 {
		t.Fatalf("EncryptEnvelope() produced %d wraps, want 3", len(sealed.Wraps))
	}

	cases := []struct {
		name   string
		keys   *KeyPair
		userID string
		device string
	}{
		{"Recipient bob", bobKeys, "bob", "web"},
		{"Recipient carol", carolKeys, "carol", "mobile"},
		{"Sender self-wrap", aliceKeys, "alice", "web"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecryptEnvelope(sealed, tc.keys.Private, tc.userID, tc.device)
			if err != nil {
				t.Fatalf("DecryptEnvelope() error: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("DecryptEnvelope() = %q, want %q", got, plaintext)
			}
		})
	}
}

func TestEncryptEnvelopeFreshKeyPerCall(t *testing.T) {
	plaintext := []byte("same plaintext twice")
	alice, _ := makeReader(t, "alice", "web")
	bob, _ := makeReader(t, "bob", "web")

	first, err := EncryptEnvelope(plaintext, []RecipientKey{bob}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}
	second, err := EncryptEnvelope(plaintext, []RecipientKey{bob}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}

	if bytes.Equal(first.Body.Content, second.Body.Content) {
		t.Error("Encrypting the same plaintext twice produced identical cipher bodies")
	}
	if bytes.Equal(first.Body.IV[:], second.Body.IV[:]) {
		t.Error("Encrypting the same plaintext twice reused a nonce")
	}
}

func TestEncryptEnvelopeSelfInRecipients(t *testing.T) {
	alice, aliceKeys := makeReader(t, "alice", "web")
	bob, _ := makeReader(t, "bob", "web")

	// Caller redundantly listing the sender must not get a duplicate wrap.
	sealed, err := EncryptEnvelope([]byte("hi"), []RecipientKey{bob, alice}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}

	if len(sealed.Wraps) != 2 {
		t.Fatalf("EncryptEnvelope() produced %d wraps, want 2", len(sealed.Wraps))
	}

	got, err := DecryptEnvelope(sealed, aliceKeys.Private, "alice", "web")
	if err != nil {
		t.Fatalf("DecryptEnvelope() error: %v", err)
	}
	if string(got) != "hi" {
		t.Errorf("DecryptEnvelope() = %q, want %q", got, "hi")
	}
}

func TestEncryptEnvelopeMissingRecipientKey(t *testing.T) {
	alice, _ := makeReader(t, "alice", "web")
	keyless := RecipientKey{UserID: "mallory", DeviceID: "web"}

	_, err := EncryptEnvelope([]byte("hi"), []RecipientKey{keyless}, alice)
	if !errors.Is(err, ErrNoRecipientKey) {
		t.Errorf("EncryptEnvelope() with keyless recipient: got %v, want ErrNoRecipientKey", err)
	}
}

func TestDecryptEnvelopeNoWrapForViewer(t *testing.T) {
	alice, _ := makeReader(t, "alice", "web")
	bob, _ := makeReader(t, "bob", "web")
	_, eveKeys := makeReader(t, "eve", "web")

	sealed, err := EncryptEnvelope([]byte("private"), []RecipientKey{bob}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}

	_, err = DecryptEnvelope(sealed, eveKeys.Private, "eve", "web")
	if !errors.Is(err, ErrNoWrapForViewer) {
		t.Errorf("DecryptEnvelope() for non-recipient: got %v, want ErrNoWrapForViewer", err)
	}
}

func TestDecryptEnvelopeWrongKeyFails(t *testing.T) {
	alice, _ := makeReader(t, "alice", "web")
	bob, _ := makeReader(t, "bob", "web")
	imposterKeys, _ := GenerateKeyPair()

	sealed, err := EncryptEnvelope([]byte("private"), []RecipientKey{bob}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}

	// An addressed wrap exists for bob, but the imposter's private key
	// cannot open it.
	_, err = DecryptEnvelope(sealed, imposterKeys.Private, "bob", "web")
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("DecryptEnvelope() with wrong private key: got %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptEnvelopeTamperedBody(t *testing.T) {
	alice, _ := makeReader(t, "alice", "web")
	bob, bobKeys := makeReader(t, "bob", "web")

	sealed, err := EncryptEnvelope([]byte("integrity matters"), []RecipientKey{bob}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}

	sealed.Body.Content[len(sealed.Body.Content)/2] ^= 0x01

	_, err = DecryptEnvelope(sealed, bobKeys.Private, "bob", "web")
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("DecryptEnvelope() on tampered body: got %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptEnvelopeIdempotent(t *testing.T) {
	alice, _ := makeReader(t, "alice", "web")
	bob, bobKeys := makeReader(t, "bob", "web")

	sealed, err := EncryptEnvelope([]byte("stable"), []RecipientKey{bob}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}

	first, err := DecryptEnvelope(sealed, bobKeys.Private, "bob", "web")
	if err != nil {
		t.Fatalf("DecryptEnvelope() error: %v", err)
	}
	second, err := DecryptEnvelope(sealed, bobKeys.Private, "bob", "web")
	if err != nil {
		t.Fatalf("repeat DecryptEnvelope() error: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("Repeated DecryptEnvelope() calls returned different plaintexts")
	}
}

func TestDecryptEnvelopeMultiDevice(t *testing.T) {
	alice, _ := makeReader(t, "alice", "web")
	bobWeb, _ := makeReader(t, "bob", "web")
	bobMobile, bobMobileKeys := makeReader(t, "bob", "mobile")

	sealed, err := EncryptEnvelope([]byte("per device"), []RecipientKey{bobWeb, bobMobile}, alice)
	if err != nil {
		t.Fatalf("EncryptEnvelope() error: %v", err)
	}

	// The mobile device holds only its own private key; its wrap must be
	// tried first and succeed.
	got, err := DecryptEnvelope(sealed, bobMobileKeys.Private, "bob", "mobile")
	if err != nil {
		t.Fatalf("DecryptEnvelope() error: %v", err)
	}
	if string(got) != "per device" {
		t.Errorf("DecryptEnvelope() = %q, want %q", got, "per device")
	}
}

func TestEncryptEnvelopeEmptyPlaintext(t *testing.T) {
	alice, _ := makeReader(t, "alice", "web")
	bob, _ := makeReader(t, "bob", "web")

	if _, err := EncryptEnvelope(nil, []RecipientKey{bob}, alice); err == nil {
		t.Error("EncryptEnvelope() with empty plaintext expected error but got nil")
	}
}
