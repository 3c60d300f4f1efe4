package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidEncryptionKey = errors.New("encryption key must be 32 bytes for AES-256")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
)

// CryptoService seals stored credential records.
type CryptoService struct {
	encryptionKey []byte
}

// NewCryptoService creates a crypto service with the provided key.
// The key must be exactly 32 bytes for AES-256.
func NewCryptoService(encryptionKey []byte) (*CryptoService, error) {
	if len(encryptionKey) != 32 {
		return nil, ErrInvalidEncryptionKey
	}
	return &CryptoService{encryptionKey: append([]byte(nil), encryptionKey...)}, nil
}

// NewCryptoServiceFromPassphrase derives the AES-256 key with argon2id.
func NewCryptoServiceFromPassphrase(passphrase string, salt []byte) (*CryptoService, error) {
	if passphrase == "" || len(salt) < 8 {
		return nil, errors.New("passphrase and a salt of at least 8 bytes are required")
	}
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	return NewCryptoService(key)
}

// Seal encrypts plaintext using AES-256-GCM, with the nonce prepended.
func (cs *CryptoService) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := cs.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (cs *CryptoService) Open(data []byte) ([]byte, error) {
	gcm, err := cs.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, cipherbytes := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, cipherbytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (cs *CryptoService) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(cs.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
