// Package relay is the client for the blind relay's request/response API:
// persisting envelopes, fetching history, read receipts, and deletion.
//
// The relay never sees plaintext; everything it stores is an opaque
// [protocol.Envelope]. This path is the guaranteed-delivery channel:
// message sending always goes through here, while the real-time socket is
// reserved for best-effort signaling.
//
// [HTTPClient] talks to a production relay. [MemoryRelay] is an in-process
// implementation mirroring the relay's observable behavior (server-assigned
// ids and timestamps, sender-only deletion, the one-hour delete window) for
// deterministic tests, the same way the production/simulation split works
// elsewhere in this codebase.
package relay
