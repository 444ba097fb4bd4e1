package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealPrefix = "v1."
	keyInfo    = "erp-ecommerce cart session v1"
)

// Sealer encrypts and authenticates cookie payloads with a key derived from
// the server-held password. The cookie name is bound as additional data, so
// a value sealed for one cookie does not open under another.
type Sealer struct {
	aead cipher.AEAD
	aad  []byte
}

func NewSealer(password, cookieName string) (*Sealer, error) {
	if password == "" {
		return nil, errors.New("session password is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(password), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init session cipher: %w", err)
	}
	return &Sealer{aead: aead, aad: []byte(cookieName)}, nil
}

func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("session nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, s.aad)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open returns ErrSessionIntegrity for anything that was not produced by
// Seal with the same password and cookie name.
func (s *Sealer) Open(token string) ([]byte, error) {
	body, ok := strings.CutPrefix(token, sealPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: unknown format", ErrSessionIntegrity)
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", ErrSessionIntegrity)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: truncated", ErrSessionIntegrity)
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, s.aad)
	if err != nil {
		return nil, fmt.Errorf("%w: verification failed", ErrSessionIntegrity)
	}
	return plaintext, nil
}
