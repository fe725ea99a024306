package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()

	h, err := New(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash format: %s", encoded)
	}

	ok, err := h.Verify("correct-password-123", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected matching password to verify")
	}

	ok, err = h.Verify("wrong-password-123", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected mismatched password to fail")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher(t)

	a, err := h.Hash("same-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("same-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher(t)

	for _, encoded := range []string{
		"",
		"not-a-phc-string",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$!!!",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		if _, err := h.Verify("whatever-password", encoded); err == nil {
			t.Fatalf("expected error for malformed hash %q", encoded)
		}
	}
}

func TestNewRejectsWeakConfig(t *testing.T) {
	if _, err := New(Config{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatal("expected low memory config to be rejected")
	}
	if _, err := New(Config{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatal("expected zero time config to be rejected")
	}
}
