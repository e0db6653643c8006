package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilchat/veilchat/protocol"
	"github.com/veilchat/veilchat/relay"
)

// ErrUnavailable indicates the push channel is not active. Callers needing
// guaranteed delivery must use the relay's request/response API; this
// channel is best-effort signaling only.
var ErrUnavailable = errors.New("transport: push channel unavailable")

// State is the push connection's lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StatePushActive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePushActive:
		return "push_active"
	default:
		return "disconnected"
	}
}

// Mode is the user-visible delivery mode: which transport is currently
// feeding events, or offline when both are exhausted.
type Mode uint8

const (
	ModeOffline Mode = iota
	ModePush
	ModePoll
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePoll:
		return "poll"
	default:
		return "offline"
	}
}

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 30 * time.Second
	defaultPollEvery   = 3 * time.Second

	// pollFailureThreshold is how many consecutive poll failures flip the
	// mode indicator to offline. Polling itself keeps running.
	pollFailureThreshold = 3
)

// Config configures a Manager.
type Config struct {
	// Dialer opens push sockets.
	Dialer Dialer

	// Relay serves the poll fallback's fetch-since-cursor requests.
	Relay relay.Client

	// BackoffBase and BackoffCap bound the reconnect delay
	// min(base*2^attempt, cap).
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// PollInterval is the fixed poll cadence while push is unavailable.
	PollInterval time.Duration
}

// Manager owns the single logical real-time connection: the push socket
// lifecycle, reconnection with exponential backoff, and the transparent
// poll fallback.
type Manager struct {
	dialer       Dialer
	relayClient  relay.Client
	backoffBase  time.Duration
	backoffCap   time.Duration
	pollInterval time.Duration

	handler func(protocol.Event)

	state          State
	socket         Socket
	attempt        uint
	gen            uint64
	manual         bool
	dialCancel     context.CancelFunc
	reconnectTimer *time.Timer
	pollStop       chan struct{}
	pollFailures   int
	cursor         time.Time
	mu             sync.Mutex

	mode   Mode
	onMode func(Mode)
	modeMu sync.Mutex
}

// NewManager creates a Manager in the disconnected state.
func NewManager(cfg Config) *Manager {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollEvery
	}

	return &Manager{
		dialer:       cfg.Dialer,
		relayClient:  cfg.Relay,
		backoffBase:  cfg.BackoffBase,
		backoffCap:   cfg.BackoffCap,
		pollInterval: cfg.PollInterval,
		state:        StateDisconnected,
		mode:         ModeOffline,
	}
}

// OnEvent registers the consumer for events the manager does not consume
// itself. Register before Connect.
func (m *Manager) OnEvent(fn func(protocol.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// OnModeChange registers the delivery-mode observer for the connectivity
// affordance. Register before Connect.
func (m *Manager) OnModeChange(fn func(Mode)) {
	m.modeMu.Lock()
	defer m.modeMu.Unlock()
	m.onMode = fn
}

// State returns the push connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mode returns the current delivery mode.
func (m *Manager) Mode() Mode {
	m.modeMu.Lock()
	defer m.modeMu.Unlock()
	return m.mode
}

// AdvanceCursor moves the poll resume cursor forward. The facade calls this
// after the initial history load so polling resumes without refetching.
func (m *Manager) AdvanceCursor(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.cursor) {
		m.cursor = t
	}
}

// Connect starts the push connection attempt. Polling runs until the socket
// is open. Calling Connect after a manual Disconnect re-arms the manager.
func (m *Manager) Connect() {
	m.mu.Lock()
	m.manual = false
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.startConnectLocked()
	m.mu.Unlock()

	m.publishMode()
}

// Disconnect is terminal: it closes the socket, cancels any in-flight dial
// and pending reconnect, and stops polling. No automatic reconnects follow.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.socket != nil {
		m.socket.Close()
		m.socket = nil
	}
	m.stopPollLocked()
	m.state = StateDisconnected
	m.attempt = 0
	m.mu.Unlock()

	m.publishMode()

	logrus.WithFields(logrus.Fields{
		"function": "Disconnect",
	}).Info("Transport manually disconnected")
}

// Send writes one best-effort signaling event to the push socket. Accepted
// only while push is active.
func (m *Manager) Send(event protocol.Event) error {
	m.mu.Lock()
	socket := m.socket
	active := m.state == StatePushActive
	m.mu.Unlock()

	if !active || socket == nil {
		return ErrUnavailable
	}

	if err := socket.WriteEvent(event); err != nil {
		return fmt.Errorf("push send failed: %w", ErrUnavailable)
	}
	return nil
}

// startConnectLocked transitions to Connecting and spawns the dial. Poll
// mode stays active until the socket is open.
func (m *Manager) startConnectLocked() {
	m.state = StateConnecting
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel

	m.startPollLocked()

	go m.dial(ctx, gen)
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	socket, err := m.dialer.Dial(ctx)

	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		if err == nil {
			socket.Close()
		}
		return
	}
	m.dialCancel = nil

	if err != nil {
		delay := m.failLocked()
		m.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "dial",
			"error":    err.Error(),
			"retry_in": delay.String(),
		}).Warn("Push connection failed, poll fallback active")

		m.publishMode()
		return
	}

	m.state = StatePushActive
	m.attempt = 0
	m.socket = socket
	m.stopPollLocked()
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "dial",
	}).Info("Push connection established")

	m.publishMode()
	go m.readLoop(socket, gen)
}

// failLocked records a connection loss: back to Disconnected, polling on,
// reconnect scheduled after min(base*2^attempt, cap). Returns the delay.
func (m *Manager) failLocked() time.Duration {
	m.state = StateDisconnected
	m.socket = nil
	m.startPollLocked()

	delay := backoffDelay(m.backoffBase, m.backoffCap, m.attempt)
	m.attempt++
	m.reconnectTimer = time.AfterFunc(delay, m.retry)
	return delay
}

// retry fires from the reconnect timer.
func (m *Manager) retry() {
	m.mu.Lock()
	if m.manual || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.startConnectLocked()
	m.mu.Unlock()
}

func (m *Manager) readLoop(socket Socket, gen uint64) {
	for {
		event, err := socket.ReadEvent()
		if err != nil {
			m.mu.Lock()
			if gen != m.gen || m.manual {
				m.mu.Unlock()
				return
			}
			m.gen++
			socket.Close()
			delay := m.failLocked()
			m.mu.Unlock()

			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err.Error(),
				"retry_in": delay.String(),
			}).Warn("Push connection dropped, poll fallback active")

			m.publishMode()
			return
		}

		m.handleFrame(event)
	}
}

// handleFrame consumes transport-level frames and forwards everything else
// to the registered consumer.
func (m *Manager) handleFrame(event protocol.Event) {
	switch event.Type {
	case protocol.EventAuthenticated:
		logrus.WithFields(logrus.Fields{
			"function": "handleFrame",
		}).Debug("Push connection authenticated")

	case protocol.EventError:
		logrus.WithFields(logrus.Fields{
			"function": "handleFrame",
			"payload":  string(event.Data),
		}).Warn("Relay reported a transport error")

	case protocol.EventPing:
		pong, _ := protocol.NewEvent(protocol.EventPong, nil)
		if err := m.Send(pong); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleFrame",
			}).Debug("Heartbeat reply not sent")
		}

	case protocol.EventPong:
		// heartbeat answer, nothing to do

	default:
		m.trackCursor(event)
		m.forward(event)
	}
}

// trackCursor advances the poll resume cursor past envelopes delivered over
// push, so a later fallback resumes without refetching them.
func (m *Manager) trackCursor(event protocol.Event) {
	if event.Type != protocol.EventNewMessage {
		return
	}
	var data protocol.NewMessageData
	if err := event.Decode(&data); err != nil {
		return
	}
	m.AdvanceCursor(data.Message.CreatedAt)
}

func (m *Manager) forward(event protocol.Event) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler(event)
	}
}

// publishMode derives the delivery mode from the current connection state
// and publishes it. Poll-failure handling overrides this with ModeOffline
// until a fetch succeeds again.
func (m *Manager) publishMode() {
	m.mu.Lock()
	var mode Mode
	switch {
	case m.state == StatePushActive:
		mode = ModePush
	case m.pollStop != nil:
		mode = ModePoll
	default:
		mode = ModeOffline
	}
	m.mu.Unlock()

	m.setMode(mode)
}

// setMode publishes a delivery-mode change to the observer, once per
// transition.
func (m *Manager) setMode(mode Mode) {
	m.modeMu.Lock()
	changed := mode != m.mode
	m.mode = mode
	fn := m.onMode
	m.modeMu.Unlock()

	if changed && fn != nil {
		fn(mode)
	}
}

// backoffDelay computes min(base*2^attempt, cap).
func backoffDelay(base, cap time.Duration, attempt uint) time.Duration {
	if attempt > 32 {
		return cap
	}
	delay := base << attempt
	if delay <= 0 || delay > cap {
		return cap
	}
	return delay
}
