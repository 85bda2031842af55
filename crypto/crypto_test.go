package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func newTestEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	return enc
}

func TestNewAESEncryptorRejectsBadKeys(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "not-valid-base64!@#$"},
		{"128-bit key", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"512-bit key", base64.StdEncoding.EncodeToString(make([]byte, 64))},
	}
	for _, c := range cases {
		if _, err := NewAESEncryptor(c.key); err == nil {
			t.Errorf("%s: NewAESEncryptor accepted the key", c.name)
		}
	}
	if _, err := NewAESEncryptor(testKey(t)); err != nil {
		t.Errorf("valid 256-bit key rejected: %v", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)
	tokens := []string{
		"oauth-access-qf96hkl2rnd01xyz",
		"oauth-refresh-m3u99p0aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"кириллица в токене не встречается, но хранилищу всё равно",
	}
	for _, tok := range tokens {
		sealed, err := enc.Encrypt([]byte(tok))
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", tok, err)
		}
		if bytes.Contains(sealed, []byte(tok)) {
			t.Fatalf("sealed output contains the plaintext token")
		}
		opened, err := enc.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if string(opened) != tok {
			t.Fatalf("round trip = %q, want %q", opened, tok)
		}
	}
}

func TestSealVariesPerCall(t *testing.T) {
	enc := newTestEncryptor(t)
	tok := []byte("same-token-twice")
	a, err := enc.Encrypt(tok)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := enc.Encrypt(tok)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	// Equal outputs would mean a reused nonce, which breaks GCM.
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same token produced identical bytes")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	enc := newTestEncryptor(t)
	for _, sealed := range [][]byte{nil, {1, 2, 3}, make([]byte, 50)} {
		if _, err := enc.Decrypt(sealed); !errors.Is(err, ErrSealedDataCorrupt) {
			t.Errorf("Decrypt(%d bytes) err = %v, want ErrSealedDataCorrupt", len(sealed), err)
		}
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	enc := newTestEncryptor(t)
	sealed, err := enc.Encrypt([]byte("oauth-access-tamperme"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	sealed[len(sealed)/2] ^= 0x01
	if _, err := enc.Decrypt(sealed); !errors.Is(err, ErrSealedDataCorrupt) {
		t.Fatalf("Decrypt of tampered bytes err = %v, want ErrSealedDataCorrupt", err)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := newTestEncryptor(t).Encrypt([]byte("oauth-refresh-rotated"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := newTestEncryptor(t).Decrypt(sealed); !errors.Is(err, ErrSealedDataCorrupt) {
		t.Fatalf("Decrypt with other key err = %v, want ErrSealedDataCorrupt", err)
	}
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	if _, err := newTestEncryptor(t).Encrypt(nil); err == nil {
		t.Fatal("Encrypt(nil) succeeded")
	}
}

func TestStringHelpers(t *testing.T) {
	enc := newTestEncryptor(t)

	// Empty tokens pass through so NULL-ish columns stay empty.
	if got, err := EncryptString(enc, ""); err != nil || got != "" {
		t.Fatalf("EncryptString(\"\") = %q, %v", got, err)
	}
	if got, err := DecryptString(enc, ""); err != nil || got != "" {
		t.Fatalf("DecryptString(\"\") = %q, %v", got, err)
	}

	stored, err := EncryptString(enc, "oauth-access-dbcolumn")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(stored); err != nil {
		t.Fatalf("stored value is not base64: %v", err)
	}
	got, err := DecryptString(enc, stored)
	if err != nil || got != "oauth-access-dbcolumn" {
		t.Fatalf("DecryptString = %q, %v", got, err)
	}

	if _, err := DecryptString(enc, "not-base64!!!"); err == nil {
		t.Fatal("DecryptString accepted a non-base64 value")
	}
}
