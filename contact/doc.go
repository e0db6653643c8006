// Package contact manages the recipient roster: who participates in each
// conversation, which device keys they currently publish, and whether they
// are online. The roster is the single source of recipient public keys for
// envelope encryption; a participant without a cached key is surfaced as an
// encryption error, never silently dropped from the recipient set.
package contact
