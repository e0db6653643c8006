package transport

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilchat/veilchat/protocol"
)

// startPollLocked activates the poll fallback if it is not already running.
// Caller holds m.mu.
func (m *Manager) startPollLocked() {
	if m.pollStop != nil || m.relayClient == nil {
		return
	}

	stop := make(chan struct{})
	m.pollStop = stop
	m.pollFailures = 0
	go m.pollLoop(stop)

	logrus.WithFields(logrus.Fields{
		"function": "startPollLocked",
		"interval": m.pollInterval.String(),
	}).Debug("Poll fallback started")
}

// stopPollLocked cancels the pending poll interval. Caller holds m.mu.
func (m *Manager) stopPollLocked() {
	if m.pollStop == nil {
		return
	}
	close(m.pollStop)
	m.pollStop = nil

	logrus.WithFields(logrus.Fields{
		"function": "stopPollLocked",
	}).Debug("Poll fallback stopped")
}

func (m *Manager) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

// pollOnce runs one fetch-since-cursor request and replays the batch as the
// event stream push would have delivered. Envelope-id deduplication happens
// downstream, so an event racing in over both transports still applies
// exactly once.
func (m *Manager) pollOnce() {
	m.mu.Lock()
	cursor := m.cursor
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.pollInterval)
	batch, err := m.relayClient.FetchMessages(ctx, "", cursor)
	cancel()

	if err != nil {
		m.mu.Lock()
		m.pollFailures++
		failures := m.pollFailures
		m.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "pollOnce",
			"error":    err.Error(),
			"failures": failures,
		}).Warn("Poll fetch failed")

		// Push is down and polling cannot reach the relay either: tell the
		// UI "offline" rather than surfacing a raw error.
		if failures >= pollFailureThreshold {
			m.setMode(ModeOffline)
		}
		return
	}

	m.mu.Lock()
	recovered := m.pollFailures >= pollFailureThreshold
	m.pollFailures = 0
	m.mu.Unlock()
	if recovered {
		m.publishMode()
	}

	// Batches arrive newest-first; replay oldest-first so per-conversation
	// ordering matches push delivery.
	advanced := cursor
	for i := len(batch) - 1; i >= 0; i-- {
		env := batch[i]
		event, err := protocol.NewEvent(protocol.EventNewMessage, protocol.NewMessageData{Message: *env})
		if err != nil {
			continue
		}
		m.forward(event)
		if env.CreatedAt.After(advanced) {
			advanced = env.CreatedAt
		}
	}

	m.AdvanceCursor(advanced)
}
