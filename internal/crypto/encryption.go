package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

const (
	// DefaultKeyID is the default encryption key version
	DefaultKeyID = "v1"

	// sealedPrefix marks a column value produced by SealString.
	sealedPrefix = "enc1:"
)

// EncryptionManager handles AES-256-GCM encryption of stored device
// credentials.
type EncryptionManager struct {
	key   []byte
	keyID string
}

// NewEncryptionManager builds a manager from ENCRYPTION_KEY, generating an
// in-memory key when the variable is unset.
func NewEncryptionManager() (*EncryptionManager, error) {
	keyStr := os.Getenv("ENCRYPTION_KEY")
	if keyStr == "" {
		key, err := generateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		log.Printf("[Crypto] WARNING: ENCRYPTION_KEY not set, generated an in-memory key; sealed credentials will not survive a restart")
		return &EncryptionManager{key: key, keyID: DefaultKeyID}, nil
	}

	return NewEncryptionManagerWithKey(keyStr)
}

// NewEncryptionManagerWithKey builds a manager from a base64 key. Keys that
// are not 32 bytes are stretched with SHA-256.
func NewEncryptionManagerWithKey(encoded string) (*EncryptionManager, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY format (must be base64): %w", err)
	}

	key := decoded
	if len(decoded) != 32 {
		hash := sha256.Sum256(decoded)
		key = hash[:]
	}

	return &EncryptionManager{key: key, keyID: DefaultKeyID}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM. The nonce is prepended.
func (em *EncryptionManager) Encrypt(plaintext string) ([]byte, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aesGCM.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt reverses Encrypt.
func (em *EncryptionManager) Decrypt(ciphertext []byte) (string, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// SealString encrypts value into a text-safe column representation. Empty
// values stay empty.
func (em *EncryptionManager) SealString(value string) (string, error) {
	if value == "" || IsSealed(value) {
		return value, nil
	}
	ciphertext, err := em.Encrypt(value)
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// OpenString decrypts a SealString value. Values without the sealed prefix
// are returned unchanged so rows written before encryption was enabled still
// load.
func (em *EncryptionManager) OpenString(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}
	return em.Decrypt(raw)
}

// IsSealed reports whether value was produced by SealString.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// GetKeyID returns the current encryption key ID/version
func (em *EncryptionManager) GetKeyID() string {
	return em.keyID
}

func (em *EncryptionManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(em.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// generateKey generates a random 32-byte key for AES-256
func generateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
