package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/veilchat/crypto"
)

func TestEnvelopeCarriesSealedMessage(t *testing.T) {
	senderKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	recipientKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := crypto.EncryptEnvelope([]byte("hello"),
		[]crypto.RecipientKey{{UserID: "bob", DeviceID: "web", PublicKey: recipientKeys.Public}},
		crypto.RecipientKey{UserID: "alice", DeviceID: "web", PublicKey: senderKeys.Public})
	require.NoError(t, err)

	envelope := NewEnvelope("conv-1", "alice", ContentTypeText, sealed)
	assert.Equal(t, "conv-1", envelope.ConversationID)
	assert.Equal(t, "alice", envelope.SenderID)
	assert.Len(t, envelope.RecipientKeys, 2)

	// The opaque fields survive the wire encoding and still open.
	decoded, err := envelope.Sealed()
	require.NoError(t, err)

	plaintext, err := crypto.DecryptEnvelope(decoded, recipientKeys.Private, "bob", "web")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)

	self, err := crypto.DecryptEnvelope(decoded, senderKeys.Private, "alice", "web")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), self)
}

func TestEnvelopeSealedRejectsMalformedFields(t *testing.T) {
	cases := []struct {
		name   string
		mangle func(e *Envelope)
	}{
		{"Bad content encoding", func(e *Envelope) { e.Body.Content = "not base64!!" }},
		{"Bad IV encoding", func(e *Envelope) { e.Body.IV = "not base64!!" }},
		{"Truncated IV", func(e *Envelope) { e.Body.IV = "c2hvcnQ=" }},
		{"Bad wrap encoding", func(e *Envelope) { e.RecipientKeys[0].EncryptedKey = "not base64!!" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			senderKeys, err := crypto.GenerateKeyPair()
			require.NoError(t, err)

			sealed, err := crypto.EncryptEnvelope([]byte("x"), nil,
				crypto.RecipientKey{UserID: "alice", DeviceID: "web", PublicKey: senderKeys.Public})
			require.NoError(t, err)

			envelope := NewEnvelope("conv-1", "alice", ContentTypeText, sealed)
			tc.mangle(envelope)

			_, err = envelope.Sealed()
			assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
		})
	}
}

func TestEventPayloadRoundTrip(t *testing.T) {
	event, err := NewEvent(EventTypingIndicator, TypingIndicatorData{
		ConversationID: "conv-1",
		UserID:         "bob",
		IsTyping:       true,
	})
	require.NoError(t, err)

	var data TypingIndicatorData
	require.NoError(t, event.Decode(&data))
	assert.Equal(t, "conv-1", data.ConversationID)
	assert.True(t, data.IsTyping)
}

func TestEventDecodeWithoutPayload(t *testing.T) {
	event, err := NewEvent(EventPing, nil)
	require.NoError(t, err)

	var data map[string]interface{}
	assert.Error(t, event.Decode(&data))
}
