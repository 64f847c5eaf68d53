package utils

import (
	"bytes"
	"testing"
)

func TestAESGCMEncryptionDecryption(t *testing.T) {
	encryptionKey := make([]byte, 32)
	for i := 0; i < 32; i++ {
		encryptionKey[i] = byte(i)
	}

	plaintext := `{"value":"tok","issued_at":"2024-01-01T00:00:00Z"}`

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
	if _, err := Encrypt(shortKey, "some text"); err == nil {
		t.Fatal("Expected error with invalid key length, got no error")
	}
	if _, err := Decrypt(shortKey, "some ciphertext"); err == nil {
		t.Fatal("Expected error with invalid key length, got no error")
	}
}

func TestAESGCMWrongKeyFails(t *testing.T) {
	k1 := bytes.Repeat([]byte{1}, 32)
	k2 := bytes.Repeat([]byte{2}, 32)

	ciphertext, err := Encrypt(k1, "secret")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if _, err := Decrypt(k2, ciphertext); err == nil {
		t.Fatal("Expected authentication failure when decrypting with another key")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	a, err := DeriveKey("hunter2", salt)
	if err != nil {
		t.Fatalf("DeriveKey returned error: %v", err)
	}
	b, err := DeriveKey("hunter2", salt)
	if err != nil {
		t.Fatalf("DeriveKey returned error: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("Expected 32-byte key, got %d", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Fatal("Expected identical keys for identical passphrase and salt")
	}

	c, _ := DeriveKey("hunter3", salt)
	if bytes.Equal(a, c) {
		t.Fatal("Expected different keys for different passphrases")
	}

	if _, err := DeriveKey("", salt); err == nil {
		t.Fatal("Expected error for empty passphrase")
	}
}
