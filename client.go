package veilchat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/veilchat/veilchat/contact"
	"github.com/veilchat/veilchat/crypto"
	"github.com/veilchat/veilchat/keystore"
	"github.com/veilchat/veilchat/lifecycle"
	"github.com/veilchat/veilchat/protocol"
	"github.com/veilchat/veilchat/relay"
	"github.com/veilchat/veilchat/transport"
)

// Client is a connected chat account: the identity key, the recipient
// roster, both relay channels, and the message state machine behind one
// API. Create it with New, wire the callbacks, then Connect.
type Client struct {
	opts *Options

	identity    *keystore.Identity
	keyHandle   *keystore.PrivateKeyHandle
	selfKey     crypto.RecipientKey
	roster      *contact.Roster
	relayClient relay.Client
	manager     *transport.Manager
	coordinator *lifecycle.Coordinator

	mu        sync.Mutex
	onMessage func(*lifecycle.Message, []byte)
}

// New creates a Client from the options. The identity key is loaded from
// the key store, or generated and persisted on first run.
func New(opts *Options) (*Client, error) {
	if opts.UserID == "" {
		return nil, errors.New("veilchat: UserID is required")
	}
	if opts.DeviceID == "" {
		opts.DeviceID = "default"
	}

	store := opts.Store
	if store == nil {
		if opts.KeyStoreDir == "" {
			return nil, errors.New("veilchat: KeyStoreDir or Store is required")
		}
		fs, err := keystore.NewFileStore(opts.KeyStoreDir, opts.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to open key store: %w", err)
		}
		store = fs
	}

	identity := keystore.NewIdentity(store)
	keyPair, err := identity.GetOrCreate()
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	handle, err := identity.PrivateKeyHandle()
	if err != nil {
		return nil, fmt.Errorf("failed to open identity: %w", err)
	}

	relayClient := opts.Relay
	if relayClient == nil {
		relayClient = relay.NewHTTPClient(opts.RelayURL, opts.AuthToken)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transport.WebSocketDialer{URL: opts.WebSocketURL, AuthToken: opts.AuthToken}
	}

	c := &Client{
		opts:      opts,
		identity:  identity,
		keyHandle: handle,
		selfKey: crypto.RecipientKey{
			UserID:    opts.UserID,
			DeviceID:  opts.DeviceID,
			PublicKey: keyPair.Public,
		},
		roster:      contact.NewRoster(),
		relayClient: relayClient,
		coordinator: lifecycle.NewCoordinator(lifecycle.Config{
			SelfID:        opts.UserID,
			DeleteWindow:  opts.DeleteWindow,
			TypingTimeout: opts.TypingTimeout,
		}),
	}

	c.manager = transport.NewManager(transport.Config{
		Dialer:       dialer,
		Relay:        relayClient,
		BackoffBase:  opts.BackoffBase,
		BackoffCap:   opts.BackoffCap,
		PollInterval: opts.PollInterval,
	})
	c.manager.OnEvent(c.handleEvent)

	// The debounce decided the user stopped typing; tell the peers.
	c.coordinator.OnTypingStop(func(conversationID string) {
		c.signal(protocol.EventTypingStop, protocol.TypingData{ConversationID: conversationID})
	})
	c.coordinator.OnMessage(c.handleApplied)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"user_id":  opts.UserID,
		"device":   opts.DeviceID,
	}).Info("Client created")

	return c, nil
}

// Roster exposes the recipient roster for membership and key management.
func (c *Client) Roster() *contact.Roster {
	return c.roster
}

// PublicKey returns the identity public key as hex, for publishing to the
// relay's key directory.
func (c *Client) PublicKey() (string, error) {
	return c.identity.PublicKeyExport()
}

// OnMessage registers the callback for newly applied messages. The
// plaintext is nil with an undecryptable or tombstoned envelope; the
// message record still carries the metadata.
func (c *Client) OnMessage(fn func(msg *lifecycle.Message, plaintext []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnStatusUpdate registers the callback for delivery-status transitions.
func (c *Client) OnStatusUpdate(fn func(messageID string, status lifecycle.Status)) {
	c.coordinator.OnStatusChange(fn)
}

// OnDeleted registers the callback for deletion transitions.
func (c *Client) OnDeleted(fn func(messageID string, deletion lifecycle.Deletion)) {
	c.coordinator.OnDeleted(fn)
}

// OnTyping registers the callback for remote typing-set changes.
func (c *Client) OnTyping(fn func(conversationID string, users []string)) {
	c.coordinator.OnTypingChange(fn)
}

// OnTransportMode registers the callback for connectivity-mode changes, so
// the UI can show a degraded indicator in poll or offline mode.
func (c *Client) OnTransportMode(fn func(transport.Mode)) {
	c.manager.OnModeChange(fn)
}

// OnPresence registers the callback for contacts going online or offline.
func (c *Client) OnPresence(fn func(userID string, presence contact.Presence)) {
	c.roster.OnPresence(fn)
}

// Connect loads message history from the relay and starts the push
// connection. History gaps from offline time are covered by the fetch; the
// push cursor resumes from the newest fetched envelope.
func (c *Client) Connect(ctx context.Context) error {
	envelopes, err := c.relayClient.FetchMessages(ctx, "", time.Time{})
	if err != nil {
		return fmt.Errorf("history load failed: %w", err)
	}

	// Newest-first from the relay; apply in arrival order.
	for i := len(envelopes) - 1; i >= 0; i-- {
		env := envelopes[i]
		c.coordinator.ApplyEnvelope(env)
		c.manager.AdvanceCursor(env.CreatedAt)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"user_id":  c.opts.UserID,
		"history":  len(envelopes),
	}).Info("History loaded, starting transport")

	c.manager.Connect()
	return nil
}

// Disconnect stops both channels. Terminal until Connect is called again.
func (c *Client) Disconnect() {
	c.manager.Disconnect()
}

// Close disconnects, wipes in-memory key material, and releases the key
// store.
func (c *Client) Close() error {
	c.manager.Disconnect()
	c.coordinator.Close()
	return c.identity.Teardown()
}

// Mode returns the current delivery mode.
func (c *Client) Mode() transport.Mode {
	return c.manager.Mode()
}

// SendMessage encrypts plaintext for the conversation's current members and
// hands the envelope to the relay. The message appears locally as a pending
// entry immediately and is confirmed when the relay acknowledges; on error
// the pending entry remains for the caller to retry or discard.
func (c *Client) SendMessage(ctx context.Context, conversationID string, contentType protocol.ContentType, plaintext []byte) (*lifecycle.Message, error) {
	recipients, err := c.roster.RecipientKeys(conversationID, c.opts.UserID)
	if err != nil {
		return nil, err
	}

	sealed, err := crypto.EncryptEnvelope(plaintext, recipients, c.selfKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal message: %w", err)
	}

	env := protocol.NewEnvelope(conversationID, c.opts.UserID, contentType, sealed)

	localID := "local-" + uuid.NewString()
	msg := c.coordinator.TrackLocalSend(localID, conversationID, contentType)

	confirmed, err := c.relayClient.SendMessage(ctx, env)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "SendMessage",
			"conversation": conversationID,
			"error":        err.Error(),
		}).Error("Relay rejected message")
		return msg, fmt.Errorf("relay send failed: %w", err)
	}

	if err := c.coordinator.ConfirmLocalSend(localID, confirmed); err != nil {
		return msg, err
	}
	c.manager.AdvanceCursor(confirmed.CreatedAt)
	return msg, nil
}

// Decrypt opens a message's envelope with the local identity key.
func (c *Client) Decrypt(msg *lifecycle.Message) ([]byte, error) {
	if msg.Envelope == nil {
		return nil, fmt.Errorf("message %s has no envelope: %w", msg.ID, lifecycle.ErrUnknownMessage)
	}
	sealed, err := msg.Envelope.Sealed()
	if err != nil {
		return nil, err
	}
	return c.keyHandle.OpenEnvelope(sealed, c.opts.UserID, c.opts.DeviceID)
}

// MarkTyping records a local keystroke in a conversation. The first
// keystroke after silence emits typing_start; the matching typing_stop is
// emitted automatically after the debounce window.
func (c *Client) MarkTyping(conversationID string) {
	if c.coordinator.MarkLocalTyping(conversationID) {
		c.signal(protocol.EventTypingStart, protocol.TypingData{ConversationID: conversationID})
	}
}

// MarkRead records the read receipt for a message with the relay and
// clears the conversation's unread counter.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	if err := c.relayClient.MarkRead(ctx, messageID); err != nil {
		return fmt.Errorf("mark read failed: %w", err)
	}
	if msg, ok := c.coordinator.Message(messageID); ok {
		c.coordinator.MarkConversationRead(msg.ConversationID)
	}
	return nil
}

// DeleteMessage deletes a message for the local user only, or for every
// participant. Delete-for-everyone is sender-only and time-limited; the
// relay's verdict is authoritative, the local check just fails fast.
func (c *Client) DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error {
	if forEveryone {
		if err := c.coordinator.ValidateDeleteForEveryone(messageID); err != nil {
			return err
		}
	}

	if err := c.relayClient.DeleteMessage(ctx, messageID, forEveryone); err != nil {
		return fmt.Errorf("relay delete failed: %w", err)
	}

	if forEveryone {
		c.coordinator.ConfirmDeleteForEveryone(messageID)
		return nil
	}
	return c.coordinator.DeleteForSelf(messageID)
}

// Conversations returns the conversation list ordered by recency.
func (c *Client) Conversations() []lifecycle.Conversation {
	return c.coordinator.Conversations()
}

// Messages returns a conversation's visible messages in arrival order.
func (c *Client) Messages(conversationID string) []*lifecycle.Message {
	return c.coordinator.Messages(conversationID)
}

// TypingIn returns who is currently typing in a conversation.
func (c *Client) TypingIn(conversationID string) []string {
	return c.coordinator.TypingIn(conversationID)
}

// handleEvent dispatches one inbound transport event.
func (c *Client) handleEvent(event protocol.Event) {
	switch event.Type {
	case protocol.EventUserOnline, protocol.EventUserOffline:
		var data protocol.PresenceData
		if err := event.Decode(&data); err != nil {
			return
		}
		c.roster.ApplyPresence(data, event.Type == protocol.EventUserOnline)

	default:
		c.coordinator.HandleEvent(event)
	}
}

// handleApplied runs after the coordinator accepts a new envelope: decrypt
// for the registered callback and acknowledge delivery to the sender.
func (c *Client) handleApplied(msg *lifecycle.Message) {
	if msg.SenderID != c.opts.UserID {
		c.signal(protocol.EventMessageDelivered, protocol.ReceiptData{MessageID: msg.ID})
	}

	c.mu.Lock()
	onMessage := c.onMessage
	c.mu.Unlock()
	if onMessage == nil {
		return
	}

	plaintext, err := c.Decrypt(msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleApplied",
			"message_id": msg.ID,
			"error":      err.Error(),
		}).Warn("Envelope not decryptable on this device")
		plaintext = nil
	}
	onMessage(msg, plaintext)
}

// signal sends a best-effort event on the push channel. Typing and
// delivered signals are dropped silently while push is down; delivery
// state catches up through the relay's receipt bookkeeping.
func (c *Client) signal(eventType protocol.EventType, payload interface{}) {
	event, err := protocol.NewEvent(eventType, payload)
	if err != nil {
		return
	}
	if err := c.manager.Send(event); err != nil && !errors.Is(err, transport.ErrUnavailable) {
		logrus.WithFields(logrus.Fields{
			"function": "signal",
			"type":     string(eventType),
			"error":    err.Error(),
		}).Debug("Signal send failed")
	}
}
