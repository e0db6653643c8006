package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/veilchat/protocol"
)

// DeleteWindow is how long after sending the relay accepts a
// delete-for-everyone from the sender.
const DeleteWindow = time.Hour

// MemoryRelay is an in-process relay with the same observable behavior as a
// production deployment: server-assigned ids and timestamps, receipt
// bookkeeping, authoritative sender-only deletion inside the window, and
// push fan-out to subscribers. One MemoryRelay is shared by every
// participant in a test; each participant talks to it through AsUser.
type MemoryRelay struct {
	envelopes   map[string]*protocol.Envelope
	deletedFor  map[string]map[string]bool // message id -> user ids
	subscribers []func(protocol.Event)
	now         func() time.Time
	mu          sync.Mutex
}

// NewMemoryRelay creates an empty in-process relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		envelopes:  make(map[string]*protocol.Envelope),
		deletedFor: make(map[string]map[string]bool),
		now:        time.Now,
	}
}

// SetTimeProvider replaces the relay's clock, letting tests step through the
// delete window deterministically.
func (r *MemoryRelay) SetTimeProvider(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Subscribe registers a push fan-out callback receiving every event the
// relay emits. Mirrors the production relay pushing over the socket.
func (r *MemoryRelay) Subscribe(fn func(protocol.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *MemoryRelay) broadcast(eventType protocol.EventType, payload interface{}) {
	event, err := protocol.NewEvent(eventType, payload)
	if err != nil {
		return
	}

	r.mu.Lock()
	subs := append([]func(protocol.Event){}, r.subscribers...)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}

// AsUser returns a Client bound to one participant's identity.
func (r *MemoryRelay) AsUser(userID string) Client {
	return &memorySession{relay: r, userID: userID}
}

type memorySession struct {
	relay  *MemoryRelay
	userID string
}

// SendMessage assigns the server id and timestamp and stores the envelope.
func (s *memorySession) SendMessage(ctx context.Context, envelope *protocol.Envelope) (*protocol.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := s.relay
	r.mu.Lock()
	stored := *envelope
	stored.ID = uuid.NewString()
	stored.SenderID = s.userID
	stored.CreatedAt = r.now()
	stored.DeliveredTo = nil
	stored.ReadBy = nil
	stored.DeletedForEveryone = false
	r.envelopes[stored.ID] = &stored
	result := stored
	r.mu.Unlock()

	r.broadcast(protocol.EventNewMessage, protocol.NewMessageData{Message: result})
	return &result, nil
}

// FetchMessages returns the caller's view of a conversation, newest-first,
// excluding envelopes the caller deleted for themselves. The since cursor
// is inclusive so an envelope sharing the cursor's timestamp is never
// skipped; envelope-id dedup absorbs the re-fetched one.
func (s *memorySession) FetchMessages(ctx context.Context, conversationID string, since time.Time) ([]*protocol.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := s.relay
	r.mu.Lock()
	defer r.mu.Unlock()

	var batch []*protocol.Envelope
	for id, env := range r.envelopes {
		if conversationID != "" && env.ConversationID != conversationID {
			continue
		}
		if !since.IsZero() && env.CreatedAt.Before(since) {
			continue
		}
		if r.deletedFor[id][s.userID] {
			continue
		}
		clone := *env
		batch = append(batch, &clone)
	}

	sort.Slice(batch, func(i, j int) bool {
		return batch[i].CreatedAt.After(batch[j].CreatedAt)
	})
	return batch, nil
}

// MarkRead records a read receipt, idempotently per reader.
func (s *memorySession) MarkRead(ctx context.Context, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r := s.relay
	r.mu.Lock()
	env, ok := r.envelopes[messageID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	for _, receipt := range env.ReadBy {
		if receipt.UserID == s.userID {
			r.mu.Unlock()
			return nil
		}
	}

	receipt := protocol.Receipt{UserID: s.userID, Timestamp: r.now()}
	env.ReadBy = append(env.ReadBy, receipt)
	r.mu.Unlock()

	r.broadcast(protocol.EventMessageStatus, protocol.StatusUpdateData{
		MessageID: messageID,
		Status:    "read",
		UserID:    s.userID,
		Timestamp: receipt.Timestamp,
	})
	return nil
}

// DeleteMessage enforces the authoritative deletion rules: for-everyone is
// sender-only and only inside the delete window; for-me hides the envelope
// from the caller's fetches.
func (s *memorySession) DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r := s.relay
	r.mu.Lock()
	env, ok := r.envelopes[messageID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	if forEveryone {
		if env.SenderID != s.userID {
			r.mu.Unlock()
			return ErrForbidden
		}
		if r.now().Sub(env.CreatedAt) > DeleteWindow {
			r.mu.Unlock()
			return ErrForbidden
		}
		env.DeletedForEveryone = true
		env.Body = protocol.CipherBody{}
		env.RecipientKeys = nil
		conversationID := env.ConversationID
		r.mu.Unlock()

		r.broadcast(protocol.EventMessageDeleted, protocol.MessageDeletedData{
			MessageID:          messageID,
			ConversationID:     conversationID,
			DeletedForEveryone: true,
		})
		return nil
	}

	if r.deletedFor[messageID] == nil {
		r.deletedFor[messageID] = make(map[string]bool)
	}
	r.deletedFor[messageID][s.userID] = true
	r.mu.Unlock()
	return nil
}
