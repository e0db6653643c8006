package lifecycle

import "time"

// Conversation is the client-held projection of one conversation: never
// authoritative, rebuildable from the relay at any time.
type Conversation struct {
	ID          string
	UnreadCount int

	// LastMessageID and LastActivity are the preview handle: the newest
	// confirmed envelope and when it arrived.
	LastMessageID string
	LastActivity  time.Time
}

// touch updates the preview handle if at is newer than the current one.
func (c *Conversation) touch(messageID string, at time.Time) {
	if at.After(c.LastActivity) {
		c.LastMessageID = messageID
		c.LastActivity = at
	}
}
