package token

import "testing"

func TestHashTokenHex_SHAFallback(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	got := HashTokenHex("refresh-abc")
	want := HashSHA256Hex("refresh-abc")
	if got != want {
		t.Fatalf("expected SHA-256 fallback, got %q want %q", got, want)
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
}

func TestHashTokenHex_HMACWhenKeySet(t *testing.T) {
	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")

	got := HashTokenHex("refresh-abc")
	if got == HashSHA256Hex("refresh-abc") {
		t.Fatalf("expected HMAC digest to differ from plain SHA-256")
	}
	want := HashHMACSHA256Hex("refresh-abc", []byte("0123456789abcdef0123456789abcdef"))
	if got != want {
		t.Fatalf("HMAC digest mismatch: got %q want %q", got, want)
	}
}

func TestHashTokenHexRequireHMAC_PolicyErrors(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HashTokenHexRequireHMAC("x", 32); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HashTokenHexRequireHMAC("x", 32); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}
