package protocol

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/veilchat/veilchat/crypto"
)

// ContentType tags what an envelope's plaintext contains. The tag itself is
// routing metadata and is not encrypted.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeVideo ContentType = "video"
)

// CipherBody is the wire form of an envelope's encrypted payload.
type CipherBody struct {
	Content string `json:"content"`
	IV      string `json:"iv"`
}

// RecipientKey is the wire form of one key wrap: the content key encrypted
// for one reader device.
type RecipientKey struct {
	UserID       string `json:"user_id"`
	DeviceID     string `json:"device_id"`
	EncryptedKey string `json:"encrypted_key"`
}

// Receipt records one reader's delivered or read acknowledgement.
type Receipt struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the unit exchanged with the relay. The cipher body and wraps
// are immutable once sent; the deletion flag and receipt sets are the only
// fields that change afterwards.
type Envelope struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	ContentType    ContentType `json:"content_type"`

	Body          CipherBody     `json:"cipher_body"`
	RecipientKeys []RecipientKey `json:"recipient_keys"`

	DeliveredTo        []Receipt `json:"delivered_to"`
	ReadBy             []Receipt `json:"read_by"`
	DeletedForEveryone bool      `json:"deleted_for_everyone"`

	CreatedAt time.Time `json:"created_at"`
}

// NewEnvelope builds the wire envelope for a sealed message, base64-encoding
// the opaque fields.
func NewEnvelope(conversationID, senderID string, contentType ContentType, sealed *crypto.SealedMessage) *Envelope {
	wraps := make([]RecipientKey, 0, len(sealed.Wraps))
	for _, w := range sealed.Wraps {
		wraps = append(wraps, RecipientKey{
			UserID:       w.RecipientID,
			DeviceID:     w.DeviceID,
			EncryptedKey: base64.StdEncoding.EncodeToString(w.WrappedKey),
		})
	}

	return &Envelope{
		ConversationID: conversationID,
		SenderID:       senderID,
		ContentType:    contentType,
		Body: CipherBody{
			Content: base64.StdEncoding.EncodeToString(sealed.Body.Content),
			IV:      base64.StdEncoding.EncodeToString(sealed.Body.IV[:]),
		},
		RecipientKeys: wraps,
	}
}

// Sealed decodes the envelope's opaque fields back into the form the crypto
// engine opens. Malformed encodings are transport corruption and map to the
// crypto taxonomy's decryption failure.
func (e *Envelope) Sealed() (*crypto.SealedMessage, error) {
	content, err := base64.StdEncoding.DecodeString(e.Body.Content)
	if err != nil {
		return nil, fmt.Errorf("malformed cipher body: %w", crypto.ErrDecryptionFailed)
	}

	iv, err := base64.StdEncoding.DecodeString(e.Body.IV)
	if err != nil || len(iv) != len(crypto.Nonce{}) {
		return nil, fmt.Errorf("malformed IV: %w", crypto.ErrDecryptionFailed)
	}

	sealed := &crypto.SealedMessage{
		Body: crypto.CipherBody{Content: content},
	}
	copy(sealed.Body.IV[:], iv)

	for _, rk := range e.RecipientKeys {
		wrapped, err := base64.StdEncoding.DecodeString(rk.EncryptedKey)
		if err != nil {
			return nil, fmt.Errorf("malformed key wrap for %s: %w", rk.UserID, crypto.ErrDecryptionFailed)
		}
		sealed.Wraps = append(sealed.Wraps, crypto.KeyWrap{
			RecipientID: rk.UserID,
			DeviceID:    rk.DeviceID,
			WrappedKey:  wrapped,
		})
	}

	return sealed, nil
}
