// Package crypto implements link pairing and per-frame sealing for links
// that offer SecurityL2.
//
// Pairing is an ephemeral X25519 exchange; HKDF-SHA256 derives one
// ChaCha20-Poly1305 key per direction, bound to both device addresses.
// Frames on a link arrive in order, so a receiver accepts only strictly
// increasing sequence numbers.
package crypto
