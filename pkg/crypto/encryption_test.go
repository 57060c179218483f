package crypto

import (
	"strings"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey(), 1)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	plaintext := "bg-api-key-12345"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(ciphertext, "ENC[v1]:") {
		t.Errorf("unexpected ciphertext prefix: %s", ciphertext)
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	enc, _ := NewEncryptor(testKey(), 1)

	a, err := enc.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := enc.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext must differ")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, _ := NewEncryptor(testKey(), 1)

	cases := []string{
		"",
		"not encrypted at all",
		"ENC[v1]:!!!not-base64!!!",
		"ENC[v1]:" , // empty payload
	}
	for _, c := range cases {
		if _, err := enc.Decrypt(c); err == nil {
			t.Errorf("Decrypt(%q) should fail", c)
		}
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	encA, _ := NewEncryptor(testKey(), 1)
	otherKey := testKey()
	otherKey[0] ^= 0xff
	encB, _ := NewEncryptor(otherKey, 1)

	ciphertext, err := encA.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := encB.Decrypt(ciphertext); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	if v := ParseVersion("ENC[v3]:abc"); v != 3 {
		t.Errorf("expected 3, got %d", v)
	}
	if v := ParseVersion("plaintext"); v != 0 {
		t.Errorf("expected 0, got %d", v)
	}
}
