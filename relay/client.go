package relay

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/veilchat/protocol"
)

var (
	// ErrUnauthorized indicates the relay rejected the caller's credentials.
	ErrUnauthorized = errors.New("relay: unauthorized")

	// ErrRecipientKeyMissing indicates the relay has no published public key
	// for one of the envelope's recipients.
	ErrRecipientKeyMissing = errors.New("relay: recipient key missing")

	// ErrRateLimited indicates the relay throttled the request.
	ErrRateLimited = errors.New("relay: rate limited")

	// ErrNotFound indicates the referenced message does not exist.
	ErrNotFound = errors.New("relay: message not found")

	// ErrForbidden indicates the relay refused the operation, e.g. a
	// delete-for-everyone by a non-sender or outside the window.
	ErrForbidden = errors.New("relay: operation forbidden")
)

// Client is the relay's request/response contract. Implementations must be
// safe for concurrent use.
type Client interface {
	// SendMessage persists an envelope and returns it with the
	// server-assigned id and timestamp.
	SendMessage(ctx context.Context, envelope *protocol.Envelope) (*protocol.Envelope, error)

	// FetchMessages returns a conversation's envelopes newest-first. A
	// non-zero since bounds the fetch to envelopes created at or after
	// that cursor. The bound is inclusive: an envelope sharing the
	// cursor's timestamp would otherwise never be delivered on a poll
	// resume, and re-fetching it is harmless because consumers dedup by
	// envelope id. The poll fallback and initial history load use it
	// identically. An empty conversationID fetches across conversations.
	FetchMessages(ctx context.Context, conversationID string, since time.Time) ([]*protocol.Envelope, error)

	// MarkRead records the caller's read receipt for a message.
	MarkRead(ctx context.Context, messageID string) error

	// DeleteMessage deletes a message, for everyone (sender-only, enforced
	// authoritatively by the relay) or just for the caller.
	DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error
}
