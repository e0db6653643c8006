// Package lifecycle tracks every message's status and the client-side
// conversation projections, driven entirely by inbound transport events.
//
// A message moves Sent → {Delivered, Read} (Read implies Delivered) with an
// orthogonal deletion axis: Active → DeletedForSelf | DeletedForEveryone.
// Receipts are sets keyed by reader, so redelivered events never duplicate
// a receipt, and envelopes are deduplicated by id, so the same envelope
// arriving over push and poll applies exactly once.
//
// Delete-for-everyone is validated locally (sender-only, inside a fixed
// window from send time) before the relay is even asked; the relay remains
// the authoritative enforcer. Past the window the coordinator rejects the
// action with [ErrDeleteWindowExpired] so the UI never offers it.
//
// Typing indicators are ephemeral: a typing_start renews membership in the
// per-conversation typing set, local keystrokes are debounced before a
// typing_stop is emitted, and a defensive expiry clears entries whose stop
// event was lost in transit.
//
// Conversation previews and unread counters move only on relay-confirmed
// envelopes. Optimistic local sends appear in the message list immediately
// but never touch the counters until the relay acknowledges them.
package lifecycle
