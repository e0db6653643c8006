package lifecycle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilchat/veilchat/protocol"
)

const (
	// DefaultDeleteWindow is how long after sending a delete-for-everyone
	// stays available. Client-side enforcement is advisory; the relay is
	// authoritative.
	DefaultDeleteWindow = time.Hour

	// DefaultTypingTimeout is the debounce window: typing_stop is emitted
	// after this much keystroke silence, and remote indicators expire
	// defensively after it in case the stop event was lost.
	DefaultTypingTimeout = 2 * time.Second
)

// Config configures a Coordinator.
type Config struct {
	// SelfID is the local account id, used to tell own sends from peers'.
	SelfID string

	// DeleteWindow overrides DefaultDeleteWindow.
	DeleteWindow time.Duration

	// TypingTimeout overrides DefaultTypingTimeout.
	TypingTimeout time.Duration
}

// Coordinator is the state machine for message status, deletion, typing
// indicators, and the conversation projections. All mutations are driven by
// inbound events; local sends enter as optimistic entries.
type Coordinator struct {
	selfID        string
	deleteWindow  time.Duration
	typingTimeout time.Duration
	now           func() time.Time

	messages      map[string]*Message
	order         map[string][]string // conversation id -> message ids, arrival order
	applied       map[string]bool     // envelope id dedup across transports
	conversations map[string]*Conversation

	typing       map[string]map[string]time.Time // conversation -> user -> renewed at
	typingTimers map[string]*time.Timer          // local debounce per conversation
	sweepTimers  map[*time.Timer]struct{}        // pending remote-expiry sweeps

	onMessage      func(*Message)
	onStatusChange func(messageID string, status Status)
	onDeleted      func(messageID string, deletion Deletion)
	onTypingChange func(conversationID string, users []string)
	onTypingStop   func(conversationID string)

	mu sync.Mutex
}

// NewCoordinator creates a Coordinator for the local account.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.DeleteWindow <= 0 {
		cfg.DeleteWindow = DefaultDeleteWindow
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}

	return &Coordinator{
		selfID:        cfg.SelfID,
		deleteWindow:  cfg.DeleteWindow,
		typingTimeout: cfg.TypingTimeout,
		now:           time.Now,
		messages:      make(map[string]*Message),
		order:         make(map[string][]string),
		applied:       make(map[string]bool),
		conversations: make(map[string]*Conversation),
		typing:        make(map[string]map[string]time.Time),
		typingTimers:  make(map[string]*time.Timer),
		sweepTimers:   make(map[*time.Timer]struct{}),
	}
}

// SetTimeProvider replaces the coordinator's clock for deterministic tests.
func (c *Coordinator) SetTimeProvider(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// OnMessage registers the callback for newly applied confirmed envelopes.
func (c *Coordinator) OnMessage(fn func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnStatusChange registers the callback for delivery-status transitions.
func (c *Coordinator) OnStatusChange(fn func(messageID string, status Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatusChange = fn
}

// OnDeleted registers the callback for deletion transitions.
func (c *Coordinator) OnDeleted(fn func(messageID string, deletion Deletion)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDeleted = fn
}

// OnTypingChange registers the callback for typing-set updates.
func (c *Coordinator) OnTypingChange(fn func(conversationID string, users []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTypingChange = fn
}

// OnTypingStop registers the callback fired when the local debounce decides
// the user stopped typing; the caller emits the typing_stop signal.
func (c *Coordinator) OnTypingStop(fn func(conversationID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTypingStop = fn
}

// HandleEvent applies one inbound event, whichever transport delivered it.
func (c *Coordinator) HandleEvent(event protocol.Event) {
	switch event.Type {
	case protocol.EventNewMessage:
		var data protocol.NewMessageData
		if err := event.Decode(&data); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "HandleEvent",
				"error":    err.Error(),
			}).Warn("Dropping malformed new_message event")
			return
		}
		c.ApplyEnvelope(&data.Message)

	case protocol.EventMessageStatus:
		var data protocol.StatusUpdateData
		if err := event.Decode(&data); err != nil {
			return
		}
		c.ApplyStatus(data)

	case protocol.EventMessageDeleted:
		var data protocol.MessageDeletedData
		if err := event.Decode(&data); err != nil {
			return
		}
		c.ApplyRemoteDelete(data)

	case protocol.EventTypingIndicator:
		var data protocol.TypingIndicatorData
		if err := event.Decode(&data); err != nil {
			return
		}
		c.ApplyTypingIndicator(data)
	}
}

// ApplyEnvelope applies one confirmed envelope to the projection. Returns
// false when the envelope id was already applied; a duplicate still merges
// any receipts the newer copy carries, so a poll batch can catch up status
// missed while push was down.
func (c *Coordinator) ApplyEnvelope(env *protocol.Envelope) bool {
	c.mu.Lock()

	if c.applied[env.ID] {
		msg := c.messages[env.ID]
		if msg != nil {
			c.mergeReceiptsLocked(msg, env)
		}
		c.mu.Unlock()
		return false
	}
	c.applied[env.ID] = true

	msg := &Message{
		ID:             env.ID,
		ConversationID: env.ConversationID,
		SenderID:       env.SenderID,
		ContentType:    env.ContentType,
		Envelope:       env,
		Status:         StatusSent,
		DeliveredTo:    make(map[string]time.Time),
		ReadBy:         make(map[string]time.Time),
		SentAt:         env.CreatedAt,
	}
	if env.DeletedForEveryone {
		msg.Deletion = DeletedForEveryone
	}
	c.mergeReceiptsLocked(msg, env)

	c.messages[env.ID] = msg
	c.order[env.ConversationID] = append(c.order[env.ConversationID], env.ID)

	conv := c.conversationLocked(env.ConversationID)
	conv.touch(env.ID, env.CreatedAt)
	if env.SenderID != c.selfID && msg.Deletion == DeletionNone {
		conv.UnreadCount++
	}

	// A confirmed envelope from this peer means they are no longer typing.
	c.clearTypingLocked(env.ConversationID, env.SenderID)

	onMessage := c.onMessage
	c.mu.Unlock()

	if onMessage != nil {
		onMessage(msg)
	}
	return true
}

// mergeReceiptsLocked folds an envelope's receipt sets into the local
// record. Caller holds c.mu.
func (c *Coordinator) mergeReceiptsLocked(msg *Message, env *protocol.Envelope) {
	for _, r := range env.DeliveredTo {
		msg.markDelivered(r.UserID, r.Timestamp)
	}
	for _, r := range env.ReadBy {
		msg.markRead(r.UserID, r.Timestamp)
	}
}

// ApplyStatus applies a delivered/read receipt. Idempotent per
// reader/message pair: redelivery never duplicates the receipt record.
func (c *Coordinator) ApplyStatus(data protocol.StatusUpdateData) {
	c.mu.Lock()
	msg, ok := c.messages[data.MessageID]
	if !ok {
		c.mu.Unlock()
		return
	}

	before := msg.Status
	switch data.Status {
	case "read":
		msg.markRead(data.UserID, data.Timestamp)
	case "delivered":
		msg.markDelivered(data.UserID, data.Timestamp)
	}
	changed := msg.Status != before
	status := msg.Status
	onStatusChange := c.onStatusChange
	c.mu.Unlock()

	if changed && onStatusChange != nil {
		onStatusChange(data.MessageID, status)
	}
}

// ApplyRemoteDelete applies a message_deleted event from the relay.
func (c *Coordinator) ApplyRemoteDelete(data protocol.MessageDeletedData) {
	c.mu.Lock()
	msg, ok := c.messages[data.MessageID]
	if !ok || !data.DeletedForEveryone || msg.Deletion == DeletedForEveryone {
		c.mu.Unlock()
		return
	}
	msg.Deletion = DeletedForEveryone
	onDeleted := c.onDeleted
	c.mu.Unlock()

	if onDeleted != nil {
		onDeleted(data.MessageID, DeletedForEveryone)
	}
}

// TrackLocalSend registers an optimistic Sent entry for a message handed to
// the relay but not yet acknowledged. It appears in the message list but
// moves no counters.
func (c *Coordinator) TrackLocalSend(localID, conversationID string, contentType protocol.ContentType) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := &Message{
		ID:             localID,
		ConversationID: conversationID,
		SenderID:       c.selfID,
		ContentType:    contentType,
		Status:         StatusSent,
		DeliveredTo:    make(map[string]time.Time),
		ReadBy:         make(map[string]time.Time),
		SentAt:         c.now(),
		Pending:        true,
	}
	c.messages[localID] = msg
	c.order[conversationID] = append(c.order[conversationID], localID)
	return msg
}

// ConfirmLocalSend replaces an optimistic entry with the relay-confirmed
// envelope. Only now does the conversation preview move.
func (c *Coordinator) ConfirmLocalSend(localID string, env *protocol.Envelope) error {
	c.mu.Lock()
	msg, ok := c.messages[localID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("local send %s: %w", localID, ErrUnknownMessage)
	}

	// The push echo can beat the relay acknowledgement; if the envelope is
	// already applied, drop the optimistic entry instead of re-keying it.
	if c.applied[env.ID] {
		delete(c.messages, localID)
		ids := c.order[msg.ConversationID]
		for i, id := range ids {
			if id == localID {
				c.order[msg.ConversationID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		return nil
	}

	delete(c.messages, localID)
	msg.ID = env.ID
	msg.Envelope = env
	msg.SentAt = env.CreatedAt
	msg.Pending = false
	c.messages[env.ID] = msg
	c.applied[env.ID] = true

	ids := c.order[msg.ConversationID]
	for i, id := range ids {
		if id == localID {
			ids[i] = env.ID
			break
		}
	}

	conv := c.conversationLocked(msg.ConversationID)
	conv.touch(env.ID, env.CreatedAt)
	c.mu.Unlock()
	return nil
}

// DeleteForSelf removes a message from the local projection only. Not
// reversible locally; no other participant's view changes.
func (c *Coordinator) DeleteForSelf(messageID string) error {
	c.mu.Lock()
	msg, ok := c.messages[messageID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("message %s: %w", messageID, ErrUnknownMessage)
	}
	msg.Deletion = DeletedForSelf
	onDeleted := c.onDeleted
	c.mu.Unlock()

	if onDeleted != nil {
		onDeleted(messageID, DeletedForSelf)
	}
	return nil
}

// ValidateDeleteForEveryone checks the local rules before the relay is
// asked: sender-only, inside the delete window. Message state is not
// mutated on rejection.
func (c *Coordinator) ValidateDeleteForEveryone(messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, ok := c.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrUnknownMessage)
	}
	if msg.SenderID != c.selfID {
		return ErrNotSender
	}
	if c.now().Sub(msg.SentAt) > c.deleteWindow {
		return ErrDeleteWindowExpired
	}
	return nil
}

// CanDeleteForEveryone reports whether the delete-for-everyone action may
// be offered for a message. The UI hides the action once this is false.
func (c *Coordinator) CanDeleteForEveryone(messageID string) bool {
	return c.ValidateDeleteForEveryone(messageID) == nil
}

// ConfirmDeleteForEveryone marks the local record after the relay accepted
// the deletion.
func (c *Coordinator) ConfirmDeleteForEveryone(messageID string) {
	c.ApplyRemoteDelete(protocol.MessageDeletedData{
		MessageID:          messageID,
		DeletedForEveryone: true,
	})
}

// Messages returns a conversation's visible messages in arrival order.
// Messages deleted for self are omitted; messages deleted for everyone
// remain as tombstones for the UI to render as removed.
func (c *Coordinator) Messages(conversationID string) []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.order[conversationID]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg, ok := c.messages[id]
		if !ok || msg.Deletion == DeletedForSelf {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Message returns one message by id.
func (c *Coordinator) Message(messageID string) (*Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.messages[messageID]
	return msg, ok
}

// Conversations returns the conversation projections ordered by recency.
func (c *Coordinator) Conversations() []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// MarkConversationRead clears a conversation's unread counter, e.g. when
// the user opens it.
func (c *Coordinator) MarkConversationRead(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationLocked(conversationID).UnreadCount = 0
}

// conversationLocked returns the projection for a conversation, creating it
// on first touch. Caller holds c.mu.
func (c *Coordinator) conversationLocked(conversationID string) *Conversation {
	conv, ok := c.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID}
		c.conversations[conversationID] = conv
	}
	return conv
}

// Close cancels outstanding debounce and expiry-sweep timers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.typingTimers {
		timer.Stop()
		delete(c.typingTimers, id)
	}
	for timer := range c.sweepTimers {
		timer.Stop()
		delete(c.sweepTimers, timer)
	}
}
