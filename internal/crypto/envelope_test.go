package crypto

import (
	"strings"
	"testing"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEnvelope_RoundTrip(t *testing.T) {
	e, err := NewEnvelope(testKey)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}

	sealed, err := e.Encrypt("agent-secret-value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed == "agent-secret-value" {
		t.Fatal("envelope must not contain plaintext")
	}

	plain, err := e.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "agent-secret-value" {
		t.Fatalf("round trip: got %q", plain)
	}
}

func TestEnvelope_NoncesAreUnique(t *testing.T) {
	e, _ := NewEnvelope(testKey)

	a, _ := e.Encrypt("same input")
	b, _ := e.Encrypt("same input")
	if a == b {
		t.Fatal("two envelopes of the same plaintext must differ (random nonce)")
	}
}

func TestEnvelope_TamperDetected(t *testing.T) {
	e, _ := NewEnvelope(testKey)

	sealed, _ := e.Encrypt("payload")
	// Портим последний hex-символ
	last := sealed[len(sealed)-1]
	flip := "0"
	if last == '0' {
		flip = "1"
	}
	tampered := sealed[:len(sealed)-1] + flip

	if _, err := e.Decrypt(tampered); err == nil {
		t.Fatal("tampered envelope must fail authentication")
	}
}

func TestEnvelope_RejectsGarbage(t *testing.T) {
	e, _ := NewEnvelope(testKey)

	for _, in := range []string{"", "zz-not-hex", "deadbeef"} {
		if _, err := e.Decrypt(in); err == nil {
			t.Fatalf("input %q: expected error", in)
		}
	}
}

func TestEnvelope_WrongKeyFails(t *testing.T) {
	e1, _ := NewEnvelope(testKey)
	e2, _ := NewEnvelope([]byte(strings.Repeat("k", 32)))

	sealed, _ := e1.Encrypt("payload")
	if _, err := e2.Decrypt(sealed); err == nil {
		t.Fatal("decrypt under another key must fail")
	}
}

func TestEnvelope_KeyLengthValidated(t *testing.T) {
	if _, err := NewEnvelope([]byte("short")); err == nil {
		t.Fatal("short key must be rejected")
	}
}

func TestEnvelope_DecryptAsync(t *testing.T) {
	e, _ := NewEnvelope(testKey)
	sealed, _ := e.Encrypt("payload")

	res := <-e.DecryptAsync(sealed)
	if res.Err != nil || res.Plain != "payload" {
		t.Fatalf("async decrypt: %+v", res)
	}

	res = <-e.DecryptAsync("deadbeef")
	if res.Err == nil {
		t.Fatal("async decrypt of garbage must error")
	}
}
