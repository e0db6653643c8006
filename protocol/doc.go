// Package protocol defines the wire shapes exchanged with the relay: the
// encrypted message envelope and the real-time event frames.
//
// The relay is blind. An [Envelope] carries only opaque material (the
// cipher body and the per-recipient key wraps) plus routing and lifecycle
// metadata (sender, conversation, receipts, deletion flag). The cipher body
// is immutable once sent; only the deletion flag and the receipt sets grow.
//
// [Event] is the single frame shape used by both delivery modes. Push
// frames arrive over the socket, poll batches are converted to the same
// events, so downstream consumers never care which transport delivered
// them.
package protocol
