package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptorKeyValidation(t *testing.T) {
	if _, err := NewAESEncryptor(""); err == nil {
		t.Error("empty key accepted")
	}
	if _, err := NewAESEncryptor("not-base64!!!"); err == nil {
		t.Error("malformed base64 key accepted")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := NewAESEncryptor(short); err == nil {
		t.Error("short key accepted")
	}
	if _, err := NewAESEncryptor(testKey(t)); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	plaintext := "ya29.a0AfH6-some-access-token"
	stored, err := EncryptString(enc, plaintext)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if stored == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}
	got, err := DecryptString(enc, stored)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if got != plaintext {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := EncryptString(enc, "same input")
	b, _ := EncryptString(enc, "same input")
	if a == b {
		t.Error("nonce reuse: two encryptions of the same input are identical")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	stored, err := EncryptString(enc, "refresh-token-value")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(stored)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)
	if _, err := DecryptString(enc, tampered); err == nil {
		t.Error("tampered ciphertext decrypted")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc1, _ := NewAESEncryptor(testKey(t))
	enc2, _ := NewAESEncryptor(testKey(t))
	stored, err := EncryptString(enc1, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptString(enc2, stored); err == nil {
		t.Error("ciphertext decrypted with a different key")
	}
}

func TestEmptyStringPassthrough(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	stored, err := EncryptString(enc, "")
	if err != nil || stored != "" {
		t.Errorf("EncryptString(\"\") = %q, %v", stored, err)
	}
	got, err := DecryptString(enc, "")
	if err != nil || got != "" {
		t.Errorf("DecryptString(\"\") = %q, %v", got, err)
	}
}

func TestDecryptTooShort(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	short := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 4)))
	if _, err := DecryptString(enc, short); err == nil {
		t.Error("truncated ciphertext accepted")
	}
}
