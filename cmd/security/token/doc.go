// Package token provides the hashing primitives Relay uses before token
// identifiers touch durable storage or in-memory revocation sets.
//
// Token identifiers are opaque values minted by the credential-issuance flow.
// They are never persisted in plaintext: storage keys are hex digests,
// HMAC-SHA256 when RELAY_TOKEN_HMAC_KEY is configured, SHA-256 otherwise.
package token
