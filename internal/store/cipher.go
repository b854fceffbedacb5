package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	sealedPrefix = "gcm1:"
	// plainPrefix marks clear text that would otherwise look like a stored
	// prefix. It is stripped again on read.
	plainPrefix = "txt1:"
)

func hasStoredPrefix(v string) bool {
	return strings.HasPrefix(v, sealedPrefix) || strings.HasPrefix(v, plainPrefix)
}

// Sealer encrypts message content with AES-256-GCM. The first key seals new
// values; every key is tried when opening so keys can be rotated.
type Sealer struct {
	gcms []cipher.AEAD
}

// NewSealer builds a sealer from base64-encoded 32-byte keys. No keys means
// content is stored in the clear and a nil Sealer is returned.
func NewSealer(keys []string) (*Sealer, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	s := &Sealer{}
	for i, k := range keys {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("content key %d is not valid base64", i)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("content key %d must be 32 bytes, got %d", i, len(raw))
		}
		gcm, err := newGCM(raw)
		if err != nil {
			return nil, err
		}
		s.gcms = append(s.gcms, gcm)
	}
	return s, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal returns the stored form of plaintext. A nil Sealer stores clear
// text, escaping values that begin with a stored prefix.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || len(s.gcms) == 0 {
		if hasStoredPrefix(plaintext) {
			return plainPrefix + plaintext, nil
		}
		return plaintext, nil
	}
	gcm := s.gcms[0]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without a stored prefix are returned unchanged.
// A "gcm1:" value that is not base64 was written in the clear before
// escaping existed and is returned as is.
func (s *Sealer) Open(stored string) (string, error) {
	if strings.HasPrefix(stored, plainPrefix) {
		return stored[len(plainPrefix):], nil
	}
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(stored[len(sealedPrefix):])
	if err != nil {
		return stored, nil
	}
	if s == nil || len(s.gcms) == 0 {
		return "", fmt.Errorf("content is sealed but no content keys are configured")
	}
	var lastErr error
	for _, gcm := range s.gcms {
		nonceSize := gcm.NonceSize()
		if len(data) < nonceSize {
			lastErr = fmt.Errorf("ciphertext too short")
			continue
		}
		plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
		if err == nil {
			return string(plaintext), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("failed to open sealed content: %w", lastErr)
}
