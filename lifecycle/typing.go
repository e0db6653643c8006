package lifecycle

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilchat/veilchat/protocol"
)

// ApplyTypingIndicator applies a remote peer's typing event. A start renews
// the peer's membership in the conversation's typing set; a stop removes
// it. Started entries also expire defensively in case the stop was lost.
func (c *Coordinator) ApplyTypingIndicator(data protocol.TypingIndicatorData) {
	c.mu.Lock()
	if data.IsTyping {
		set, ok := c.typing[data.ConversationID]
		if !ok {
			set = make(map[string]time.Time)
			c.typing[data.ConversationID] = set
		}
		set[data.UserID] = c.now()

		// Defensive expiry: sweep shortly after the entry would go stale
		// so a lost typing_stop cannot pin the indicator forever. The
		// timer is tracked so Close can cancel sweeps still pending.
		conversationID := data.ConversationID
		var timer *time.Timer
		timer = time.AfterFunc(c.typingTimeout+c.typingTimeout/2, func() {
			c.mu.Lock()
			delete(c.sweepTimers, timer)
			c.mu.Unlock()
			c.sweepTyping(conversationID)
		})
		c.sweepTimers[timer] = struct{}{}
	} else {
		c.clearTypingLocked(data.ConversationID, data.UserID)
	}
	c.mu.Unlock()

	c.notifyTyping(data.ConversationID)
}

// MarkLocalTyping records a local keystroke. It returns true when the
// caller should emit a typing_start (the first keystroke after silence);
// renewals only reset the debounce. After the debounce window with no
// further keystrokes the OnTypingStop callback fires once.
func (c *Coordinator) MarkLocalTyping(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer, active := c.typingTimers[conversationID]
	if active {
		timer.Reset(c.typingTimeout)
		return false
	}

	c.typingTimers[conversationID] = time.AfterFunc(c.typingTimeout, func() {
		c.mu.Lock()
		delete(c.typingTimers, conversationID)
		onStop := c.onTypingStop
		c.mu.Unlock()

		if onStop != nil {
			onStop(conversationID)
		}
	})
	return true
}

// TypingIn returns who is currently typing in a conversation, filtering
// entries past the defensive expiry.
func (c *Coordinator) TypingIn(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typingUsersLocked(conversationID)
}

func (c *Coordinator) typingUsersLocked(conversationID string) []string {
	cutoff := c.now().Add(-c.typingTimeout)
	var users []string
	for userID, renewedAt := range c.typing[conversationID] {
		if renewedAt.Before(cutoff) {
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// clearTypingLocked removes one peer from a conversation's typing set.
// Caller holds c.mu.
func (c *Coordinator) clearTypingLocked(conversationID, userID string) {
	if set, ok := c.typing[conversationID]; ok {
		delete(set, userID)
	}
}

// sweepTyping drops stale entries and notifies if the visible set changed.
func (c *Coordinator) sweepTyping(conversationID string) {
	c.mu.Lock()
	set := c.typing[conversationID]
	cutoff := c.now().Add(-c.typingTimeout)
	changed := false
	for userID, renewedAt := range set {
		if renewedAt.Before(cutoff) {
			delete(set, userID)
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		logrus.WithFields(logrus.Fields{
			"function":     "sweepTyping",
			"conversation": conversationID,
		}).Debug("Expired stale typing indicator")
		c.notifyTyping(conversationID)
	}
}

// notifyTyping publishes the conversation's current typing set.
func (c *Coordinator) notifyTyping(conversationID string) {
	c.mu.Lock()
	fn := c.onTypingChange
	users := c.typingUsersLocked(conversationID)
	c.mu.Unlock()

	if fn != nil {
		fn(conversationID, users)
	}
}
