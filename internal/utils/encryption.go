package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// -----------------------------------------
// AES-256-GCM
//    [nonce(12 bytes) || ciphertext... || tag(16 bytes)]
//    Base64-URL-encoded as one string
// ------------------------------------------

// Encrypt encrypts the provided plaintext with AES-256-GCM.
// The encryptionKey must be exactly 32 bytes (256 bits).
func Encrypt(encryptionKey []byte, text string) (string, error) {
	if len(encryptionKey) != 32 {
		return "", errors.New("encryption key must be 32 bytes for AES-256")
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	plaintext := []byte(text)

	// GCM standard 12-byte nonce
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Seal appends ciphertext + 16-byte tag
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	// Combine [nonce || ciphertext+tag] into one blob
	data := append(nonce, ciphertext...)

	return base64.URLEncoding.EncodeToString(data), nil
}

// Decrypt decrypts data produced by the GCM-based Encrypt function above.
// It expects a single URL-safe Base64 string containing [nonce||ciphertext||tag].
func Decrypt(encryptionKey []byte, encoded string) (string, error) {
	if len(encryptionKey) != 32 {
		return "", errors.New("encryption key must be 32 bytes for AES-256")
	}

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("malformed ciphertext (too short for nonce)")
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DeriveOwnerKey derives the per-owner 32-byte vault key from the master
// encryption secret and the owner ID. The web tier uses the same derivation
// when it writes vault items, so rows stay decryptable across services.
func DeriveOwnerKey(masterKey []byte, ownerID string) []byte {
	return pbkdf2.Key(masterKey, []byte("vault:"+ownerID), 100_000, 32, sha256.New)
}
