package veilchat

import (
	"time"

	"github.com/veilchat/veilchat/keystore"
	"github.com/veilchat/veilchat/relay"
	"github.com/veilchat/veilchat/transport"
)

// Options contains the configuration for creating a Client.
type Options struct {
	// RelayURL is the relay's HTTP base URL.
	RelayURL string

	// WebSocketURL is the relay's push endpoint.
	WebSocketURL string

	// AuthToken authenticates both channels.
	AuthToken string

	// UserID is the local account id.
	UserID string

	// DeviceID distinguishes this device's key wraps. Defaults to
	// "default" for single-device accounts.
	DeviceID string

	// KeyStoreDir is where the encrypted identity key lives.
	KeyStoreDir string

	// Passphrase derives the key store's encryption key. Never persisted.
	Passphrase []byte

	// BackoffBase and BackoffCap bound the push reconnect delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// PollInterval paces the poll fallback.
	PollInterval time.Duration

	// TypingTimeout is the keystroke-silence debounce before typing_stop.
	TypingTimeout time.Duration

	// DeleteWindow is how long delete-for-everyone stays available after
	// sending. The relay enforces its own window; this only gates the
	// local action.
	DeleteWindow time.Duration

	// Relay, Dialer, and Store override the defaults built from the URLs
	// and KeyStoreDir. Tests inject in-memory implementations here.
	Relay  relay.Client
	Dialer transport.Dialer
	Store  keystore.Store
}

// NewOptions creates Options with default settings.
func NewOptions() *Options {
	return &Options{
		DeviceID:      "default",
		BackoffBase:   500 * time.Millisecond,
		BackoffCap:    30 * time.Second,
		PollInterval:  3 * time.Second,
		TypingTimeout: 2 * time.Second,
		DeleteWindow:  time.Hour,
	}
}
