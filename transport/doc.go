// Package transport maintains veilchat's single logical real-time
// connection to the relay.
//
// The manager owns the socket lifecycle as an explicit state machine:
//
//	Disconnected --Connect()--> Connecting --open ok--> PushActive
//	Connecting/PushActive --failure--> Disconnected (reconnect scheduled)
//
// Whenever push is not active the manager transparently runs the poll
// fallback: a fixed-interval fetch-since-cursor against the relay whose
// responses are converted into the same event stream push would have
// delivered. Downstream consumers deduplicate by envelope id, so events
// racing across a mode switch still apply exactly once.
//
// Reconnects back off exponentially, min(base*2^attempt, cap), resetting on
// a successful open. A manual Disconnect is terminal: it stops polling,
// cancels any pending reconnect, and schedules nothing further.
//
// Send is accepted only while push is active and is best-effort signaling
// (typing indicators, receipts). Guaranteed delivery, meaning message
// sending, always uses the relay's request/response API instead.
package transport
