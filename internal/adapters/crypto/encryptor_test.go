package crypto

import (
	"errors"
	"strings"
	"testing"

	"github.com/osqr/memvault/internal/domain"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := NewEncryptor("test-master-key")

	plaintext := "User prefers dark roast coffee"
	encrypted, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if !IsEncrypted(encrypted) {
		t.Errorf("expected encrypted format, got %q", encrypted)
	}
	if !strings.HasPrefix(encrypted, "1:aes-256-gcm:") {
		t.Errorf("unexpected format prefix: %q", encrypted)
	}
	if strings.Contains(encrypted, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	decrypted, err := e.Decrypt("user-1", "SEMANTIC_CONTENT", encrypted)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestEncryptIdempotent(t *testing.T) {
	e := NewEncryptor("test-master-key")

	encrypted, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", "some fact")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	again, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", encrypted)
	if err != nil {
		t.Fatalf("second Encrypt failed: %v", err)
	}
	if again != encrypted {
		t.Error("re-encrypting an encrypted value should be a no-op")
	}
}

func TestDecryptWithWrongUserFails(t *testing.T) {
	e := NewEncryptor("test-master-key")

	encrypted, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", "private fact")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := e.Decrypt("user-2", "SEMANTIC_CONTENT", encrypted); err == nil {
		t.Error("expected decryption with another user's key to fail")
	} else if !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptWithWrongPurposeFails(t *testing.T) {
	e := NewEncryptor("test-master-key")

	encrypted, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", "private fact")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := e.Decrypt("user-1", "EPISODIC_MESSAGES", encrypted); err == nil {
		t.Error("expected decryption with another purpose's key to fail")
	}
}

func TestDisabledEncryptorPassesThrough(t *testing.T) {
	e := NewEncryptor("")

	if e.Enabled() {
		t.Error("empty master key should disable encryption")
	}

	out, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", "plain fact")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if out != "plain fact" {
		t.Errorf("disabled encryptor should pass through, got %q", out)
	}

	// Plain values decrypt to themselves.
	out, err = e.Decrypt("user-1", "SEMANTIC_CONTENT", "plain fact")
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if out != "plain fact" {
		t.Errorf("expected passthrough, got %q", out)
	}

	// Encrypted values without a key are unreadable.
	if _, err := e.Decrypt("user-1", "SEMANTIC_CONTENT", "1:aes-256-gcm:a:b:c"); err == nil {
		t.Error("expected error decrypting without a master key")
	}
}

func TestDecryptTamperedValueFails(t *testing.T) {
	e := NewEncryptor("test-master-key")

	encrypted, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", "original fact")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	parts := strings.SplitN(encrypted, ":", 5)
	if len(parts) != 5 {
		t.Fatalf("unexpected format: %q", encrypted)
	}

	// Flip the ciphertext with a valid-base64 substitute of the same shape.
	tampered := strings.Join([]string{parts[0], parts[1], parts[2], parts[3], "AAAAAAAAAAAAAAAAAAAA"}, ":")
	if _, err := e.Decrypt("user-1", "SEMANTIC_CONTENT", tampered); err == nil {
		t.Error("expected tampered ciphertext to fail authentication")
	} else if !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestIsEncryptedParsesVersion(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"1:aes-256-gcm:a:b:c", true},
		{"0:aes-256-gcm:a:b:c", true},
		{"42:aes-256-gcm:a:b:c", true},
		{"-1:aes-256-gcm:a:b:c", false},
		{"x:aes-256-gcm:a:b:c", false},
		{"1:aes-128-cbc:a:b:c", false},
		{"1:aes-256-gcm", false},
		{"just a plain sentence", false},
	}
	for _, c := range cases {
		if got := IsEncrypted(c.value); got != c.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", c.value, got, c.want)
		}
	}
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	e := NewEncryptor("test-master-key")

	if _, err := e.Decrypt("user-1", "SEMANTIC_CONTENT", "2:aes-256-gcm:a:b:c"); err == nil {
		t.Error("expected error for an unsupported format version")
	} else if !errors.Is(err, domain.ErrBadCiphertext) {
		t.Errorf("expected ErrBadCiphertext, got %v", err)
	}
}

func TestDecryptMalformedValue(t *testing.T) {
	e := NewEncryptor("test-master-key")

	cases := []string{
		"1:aes-256-gcm:only-three",
		"1:aes-128-cbc:a:b:c",
	}
	for _, c := range cases {
		if !IsEncrypted(c) {
			continue
		}
		if _, err := e.Decrypt("user-1", "SEMANTIC_CONTENT", c); err == nil {
			t.Errorf("expected error for malformed value %q", c)
		}
	}
}

func TestNoncesAreUnique(t *testing.T) {
	e := NewEncryptor("test-master-key")

	a, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", "same fact")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := e.Encrypt("user-1", "SEMANTIC_CONTENT", "same fact")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if a == b {
		t.Error("encrypting the same plaintext twice should produce different ciphertexts")
	}
}
