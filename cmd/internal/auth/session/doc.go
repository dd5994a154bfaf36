// Package session implements Relay's session and token-lifecycle subsystem.
//
// It provides a multi-device session model over refresh-grant families with
// rotate-on-use, reuse detection, and per-grant/per-user revocation, plus an
// in-memory blocklist for early access-token revocation, a per-user refresh
// rate limiter, and a background retention sweeper.
//
// Token minting and verification are intentionally out of scope: callers hand
// the subsystem opaque token identifiers together with their expiries. Token
// identifiers are stored hashed (HMAC-SHA256 when RELAY_TOKEN_HMAC_KEY is set;
// otherwise SHA-256 for dev/back-compat).
//
// Transport (HTTP) integration is intentionally out of scope here.
package session
