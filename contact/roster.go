package contact

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veilchat/veilchat/crypto"
	"github.com/veilchat/veilchat/protocol"
)

// Roster holds the known contacts and the conversation membership map. It
// is safe for concurrent use.
type Roster struct {
	mu            sync.Mutex
	contacts      map[string]*Contact
	conversations map[string][]string // conversation id -> member user ids

	onPresence func(userID string, presence Presence)
}

// NewRoster creates an empty Roster.
func NewRoster() *Roster {
	return &Roster{
		contacts:      make(map[string]*Contact),
		conversations: make(map[string][]string),
	}
}

// OnPresence registers the callback for presence changes.
func (r *Roster) OnPresence(fn func(userID string, presence Presence)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPresence = fn
}

// Upsert returns the contact for a user id, creating it on first sight.
func (r *Roster) Upsert(userID string) *Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(userID)
}

func (r *Roster) upsertLocked(userID string) *Contact {
	c, ok := r.contacts[userID]
	if !ok {
		c = New(userID)
		r.contacts[userID] = c
	}
	return c
}

// Contact returns a contact by user id.
func (r *Roster) Contact(userID string) (*Contact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[userID]
	return c, ok
}

// SetDeviceKey caches a user's device public key.
func (r *Roster) SetDeviceKey(userID, deviceID string, publicKey [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(userID).SetDevice(deviceID, publicKey)
}

// SetMembers records the participants of a conversation. The local user is
// listed like any other member; encryption handles the self-wrap separately.
func (r *Roster) SetMembers(conversationID string, userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]string, len(userIDs))
	copy(members, userIDs)
	sort.Strings(members)
	r.conversations[conversationID] = members

	for _, id := range members {
		r.upsertLocked(id)
	}
}

// Members returns a conversation's participant user ids.
func (r *Roster) Members(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.conversations[conversationID]
	out := make([]string, len(members))
	copy(out, members)
	return out
}

// RecipientKeys assembles the per-device recipient keys for sealing a
// message to a conversation, excluding the sender's own user id. A member
// with no cached device key fails the whole call with
// crypto.ErrNoRecipientKey; a recipient is never quietly dropped from a
// message they were meant to read.
func (r *Roster) RecipientKeys(conversationID, excludeUserID string) ([]crypto.RecipientKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []crypto.RecipientKey
	for _, userID := range r.conversations[conversationID] {
		if userID == excludeUserID {
			continue
		}
		c, ok := r.contacts[userID]
		if !ok || len(c.Devices) == 0 {
			return nil, fmt.Errorf("member %s has no published key: %w", userID, crypto.ErrNoRecipientKey)
		}
		for _, d := range c.Devices {
			keys = append(keys, crypto.RecipientKey{
				UserID:    userID,
				DeviceID:  d.ID,
				PublicKey: d.PublicKey,
			})
		}
	}
	return keys, nil
}

// ApplyPresence applies a user_online or user_offline event.
func (r *Roster) ApplyPresence(data protocol.PresenceData, online bool) {
	r.mu.Lock()
	c := r.upsertLocked(data.UserID)
	p := PresenceOffline
	at := data.LastSeen
	if online {
		p = PresenceOnline
		at = time.Time{}
	}
	c.SetPresence(p, at)
	onPresence := r.onPresence
	r.mu.Unlock()

	if onPresence != nil {
		onPresence(data.UserID, p)
	}
}

// Online returns the user ids currently online, sorted.
func (r *Roster) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for id, c := range r.contacts {
		if c.IsOnline() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
