package utils

import (
	"bytes"
	"testing"
)

func TestAESGCMEncryptionDecryption(t *testing.T) {
	encryptionKey := make([]byte, 32) // exactly 32 bytes
	for i := 0; i < 32; i++ {
		encryptionKey[i] = byte(i)
	}

	plaintext := "Hello, AES-GCM!"

	ciphertext, err := Encrypt(encryptionKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	decrypted, err := Decrypt(encryptionKey, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}

	if decrypted != plaintext {
		t.Fatalf("Expected decrypted text '%s', got '%s'", plaintext, decrypted)
	}
}

func TestAESGCMInvalidKey(t *testing.T) {
	shortKey := []byte("not-32-bytes")
	_, err := Encrypt(shortKey, "some text")
	if err == nil {
		t.Fatal("Expected error with invalid key length, got no error")
	} else {
		t.Logf("Correctly got error for invalid key length: %v", err)
	}

	_, err = Decrypt(shortKey, "some ciphertext")
	if err == nil {
		t.Fatal("Expected error with invalid key length, got no error")
	} else {
		t.Logf("Correctly got error for invalid key length: %v", err)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	keyA := make([]byte, 32)
	keyB := make([]byte, 32)
	for i := range keyA {
		keyA[i] = byte(i)
		keyB[i] = byte(i + 1)
	}

	ciphertext, err := Encrypt(keyA, "secret")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if _, err := Decrypt(keyB, ciphertext); err == nil {
		t.Fatal("Expected error decrypting with the wrong key, got no error")
	}
}

func TestDeriveOwnerKeyIsDeterministicPerOwner(t *testing.T) {
	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(i * 3)
	}

	k1 := DeriveOwnerKey(masterKey, "owner-a")
	k1again := DeriveOwnerKey(masterKey, "owner-a")
	k2 := DeriveOwnerKey(masterKey, "owner-b")

	if len(k1) != 32 {
		t.Fatalf("Expected 32-byte derived key, got %d", len(k1))
	}
	if !bytes.Equal(k1, k1again) {
		t.Fatal("Derivation is not deterministic for the same owner")
	}
	if bytes.Equal(k1, k2) {
		t.Fatal("Different owners derived the same key")
	}
}

func TestDerivedKeyRoundTrip(t *testing.T) {
	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(255 - i)
	}
	ownerKey := DeriveOwnerKey(masterKey, "b6f7c9a0-1111-2222-3333-444455556666")

	plaintext := "account: savings, pin: 0000"
	ciphertext, err := Encrypt(ownerKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	decrypted, err := Decrypt(ownerKey, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("Expected '%s', got '%s'", plaintext, decrypted)
	}
}
