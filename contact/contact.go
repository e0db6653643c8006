package contact

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Presence represents a contact's online state.
type Presence uint8

const (
	PresenceUnknown Presence = iota
	PresenceOnline
	PresenceOffline
)

// String returns the presence name for logging.
func (p Presence) String() string {
	switch p {
	case PresenceOnline:
		return "online"
	case PresenceOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Device is one of a contact's enrolled devices and its published public
// key. Every device gets its own key wrap when a message is sealed.
type Device struct {
	ID        string
	PublicKey [32]byte
}

// Contact is one remote participant.
type Contact struct {
	UserID      string
	DisplayName string
	Devices     []Device
	Presence    Presence
	LastSeen    time.Time
}

// New creates a Contact with unknown presence and no cached keys.
func New(userID string) *Contact {
	logrus.WithFields(logrus.Fields{
		"function": "New",
		"user_id":  userID,
	}).Debug("Creating contact")

	return &Contact{
		UserID:   userID,
		Presence: PresenceUnknown,
	}
}

// SetDevice caches or replaces the public key for one of the contact's
// devices. A changed key for an existing device id overwrites the cache;
// envelopes already sent under the old key stay readable on that device.
func (c *Contact) SetDevice(deviceID string, publicKey [32]byte) {
	for i := range c.Devices {
		if c.Devices[i].ID == deviceID {
			c.Devices[i].PublicKey = publicKey
			return
		}
	}
	c.Devices = append(c.Devices, Device{ID: deviceID, PublicKey: publicKey})
}

// Device returns the named device, if cached.
func (c *Contact) Device(deviceID string) (Device, bool) {
	for _, d := range c.Devices {
		if d.ID == deviceID {
			return d, true
		}
	}
	return Device{}, false
}

// SetPresence updates the contact's online state.
func (c *Contact) SetPresence(p Presence, at time.Time) {
	c.Presence = p
	if p == PresenceOffline && !at.IsZero() {
		c.LastSeen = at
	}

	logrus.WithFields(logrus.Fields{
		"function": "SetPresence",
		"user_id":  c.UserID,
		"presence": p.String(),
	}).Debug("Contact presence updated")
}

// IsOnline reports whether the contact is currently connected.
func (c *Contact) IsOnline() bool {
	return c.Presence == PresenceOnline
}
