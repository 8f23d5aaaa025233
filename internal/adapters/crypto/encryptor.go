package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/osqr/memvault/internal/domain"
)

const (
	formatVersion = "1"
	algorithm     = "aes-256-gcm"
	nonceSize     = 12
	tagSize       = 16
)

// Encryptor provides at-rest encryption for memory records with AES-256-GCM.
// Keys are derived per (user, purpose) from a master key via HMAC-SHA256, so
// revoking a user never touches another user's data.
//
// The wire format is "1:aes-256-gcm:<iv>:<tag>:<ciphertext>" with each part
// standard base64. An empty master key disables the layer entirely and both
// Encrypt and Decrypt become identity functions.
type Encryptor struct {
	masterKey []byte

	mu   sync.RWMutex
	keys map[string][]byte
}

// NewEncryptor creates an encryptor from a master key string. An empty key
// returns a disabled encryptor.
func NewEncryptor(masterKey string) *Encryptor {
	e := &Encryptor{
		keys: make(map[string][]byte),
	}
	if masterKey != "" {
		e.masterKey = []byte(masterKey)
	}
	return e
}

// Enabled reports whether encryption is active.
func (e *Encryptor) Enabled() bool {
	return len(e.masterKey) > 0
}

// deriveKey derives (and caches) the 32-byte key for a user/purpose pair.
func (e *Encryptor) deriveKey(userID, purpose string) []byte {
	cacheKey := userID + "\x00" + purpose

	e.mu.RLock()
	key, ok := e.keys[cacheKey]
	e.mu.RUnlock()
	if ok {
		return key
	}

	mac := hmac.New(sha256.New, e.masterKey)
	mac.Write([]byte(userID))
	mac.Write([]byte{0})
	mac.Write([]byte(purpose))
	key = mac.Sum(nil)

	e.mu.Lock()
	e.keys[cacheKey] = key
	e.mu.Unlock()
	return key
}

// Encrypt encrypts plaintext for a user and purpose. Already-encrypted values
// are returned unchanged so double encryption cannot happen.
func (e *Encryptor) Encrypt(userID, purpose, plaintext string) (string, error) {
	if !e.Enabled() {
		return plaintext, nil
	}
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(e.deriveKey(userID, purpose))
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		formatVersion,
		algorithm,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt decrypts a value for a user and purpose. Plain values pass through
// unchanged, which keeps reads working on data written before encryption was
// turned on.
func (e *Encryptor) Decrypt(userID, purpose, value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if !e.Enabled() {
		return "", domain.NewDomainError(domain.ErrKeyNotFound, "encrypted value but encryption is disabled")
	}

	parts := strings.SplitN(value, ":", 5)
	if len(parts) != 5 {
		return "", domain.NewDomainError(domain.ErrBadCiphertext, "malformed encrypted value")
	}
	if parts[0] != formatVersion {
		return "", domain.NewDomainError(domain.ErrBadCiphertext, fmt.Sprintf("unsupported format version %q", parts[0]))
	}
	if parts[1] != algorithm {
		return "", domain.NewDomainError(domain.ErrBadCiphertext, fmt.Sprintf("unsupported algorithm %q", parts[1]))
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(nonce) != nonceSize {
		return "", domain.NewDomainError(domain.ErrBadCiphertext, "invalid nonce")
	}
	tag, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(tag) != tagSize {
		return "", domain.NewDomainError(domain.ErrBadCiphertext, "invalid auth tag")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return "", domain.NewDomainError(domain.ErrBadCiphertext, "invalid ciphertext")
	}

	block, err := aes.NewCipher(e.deriveKey(userID, purpose))
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", domain.NewDomainError(domain.ErrAuthFailed, "authentication failed")
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether a value carries the encrypted wire format: the
// first component parses as a non-negative integer and the algorithm token
// matches. Unknown versions still count as encrypted so they are never
// mistaken for plaintext.
func IsEncrypted(value string) bool {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) < 3 {
		return false
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil || version < 0 {
		return false
	}
	return parts[1] == algorithm
}
