package lifecycle

import (
	"errors"
	"time"

	"github.com/veilchat/veilchat/protocol"
)

var (
	// ErrUnknownMessage indicates the referenced message is not in the
	// local projection.
	ErrUnknownMessage = errors.New("lifecycle: unknown message")

	// ErrNotSender indicates a delete-for-everyone was requested by someone
	// other than the original sender.
	ErrNotSender = errors.New("lifecycle: only the sender can delete for everyone")

	// ErrDeleteWindowExpired indicates the delete-for-everyone window has
	// elapsed. Surfaced as a rejected user action, not a system fault.
	ErrDeleteWindowExpired = errors.New("lifecycle: delete window expired")
)

// Status is a message's delivery progress. Read implies Delivered.
type Status uint8

const (
	StatusSent Status = iota
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "sent"
	}
}

// Deletion is the orthogonal deletion axis of a message's state.
type Deletion uint8

const (
	DeletionNone Deletion = iota
	DeletedForSelf
	DeletedForEveryone
)

// Message is one entry in the local projection. Receipts are keyed by
// reader id, making redelivery idempotent by construction.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ContentType    protocol.ContentType
	Envelope       *protocol.Envelope

	Status      Status
	DeliveredTo map[string]time.Time
	ReadBy      map[string]time.Time
	Deletion    Deletion

	SentAt time.Time

	// Pending marks an optimistic local entry the relay has not yet
	// acknowledged. Pending messages never move conversation counters.
	Pending bool
}

// markDelivered records one reader's delivery receipt.
func (m *Message) markDelivered(userID string, at time.Time) {
	if _, ok := m.DeliveredTo[userID]; ok {
		return
	}
	m.DeliveredTo[userID] = at
	if m.Status < StatusDelivered {
		m.Status = StatusDelivered
	}
}

// markRead records one reader's read receipt. Read implies Delivered.
func (m *Message) markRead(userID string, at time.Time) {
	m.markDelivered(userID, at)
	if _, ok := m.ReadBy[userID]; ok {
		return
	}
	m.ReadBy[userID] = at
	m.Status = StatusRead
}
