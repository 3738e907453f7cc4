package audit

import (
	"crypto/rand"
	"io"
	"testing"
)

func randomKey(t *testing.T) [32]byte {
	t.Helper()
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestEncryptDecryptLine_RoundTrips(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte(`{"event_type":"behaviorScore","pid":42,"total":10}`)

	line, err := encryptLine(key, plaintext)
	if err != nil {
		t.Fatalf("encryptLine: %v", err)
	}

	got, err := decryptLine(key, line)
	if err != nil {
		t.Fatalf("decryptLine: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestEncryptLine_ProducesFreshIVPerCall(t *testing.T) {
	key := randomKey(t)
	a, err := encryptLine(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("encryptLine: %v", err)
	}
	b, err := encryptLine(key, []byte("same plaintext"))
	if err != nil {
		t.Fatalf("encryptLine: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of identical plaintext produced identical ciphertext — IV reuse")
	}
}

func TestDecryptLine_WrongKeyFails(t *testing.T) {
	key := randomKey(t)
	other := randomKey(t)

	line, err := encryptLine(key, []byte("top secret"))
	if err != nil {
		t.Fatalf("encryptLine: %v", err)
	}

	if _, err := decryptLine(other, line); err == nil {
		t.Fatal("expected decryptLine under the wrong key to fail (bad padding)")
	}
}

func TestDecryptLine_RejectsMalformedBase64(t *testing.T) {
	key := randomKey(t)
	if _, err := decryptLine(key, "not-valid-base64!!!"); err == nil {
		t.Fatal("expected an error for malformed base64")
	}
}

func TestDecryptLine_RejectsTooShortLine(t *testing.T) {
	key := randomKey(t)
	if _, err := decryptLine(key, "YQ=="); err == nil {
		t.Fatal("expected an error for a line shorter than one IV")
	}
}

func TestPKCS7_RoundTrips(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 {
			t.Fatalf("padded length %d not block-aligned for n=%d", len(padded), n)
		}
		unpadded, err := pkcs7Unpad(padded)
		if err != nil {
			t.Fatalf("pkcs7Unpad: %v", err)
		}
		if len(unpadded) != n {
			t.Fatalf("unpadded length = %d, want %d", len(unpadded), n)
		}
	}
}
