package db

import (
	"os"
	"sync"
	"testing"
)

// withEncryptionKey points the lazy encryptor at a fresh key for one test and
// restores the previous state afterwards.
func withEncryptionKey(t *testing.T, key string) {
	t.Helper()
	origKey := os.Getenv("ENCRYPTION_KEY")
	os.Setenv("ENCRYPTION_KEY", key)
	encryptorOnce = sync.Once{}
	encryptor = nil
	encryptorErr = nil
	t.Cleanup(func() {
		if origKey != "" {
			os.Setenv("ENCRYPTION_KEY", origKey)
		} else {
			os.Unsetenv("ENCRYPTION_KEY")
		}
		encryptorOnce = sync.Once{}
		encryptor = nil
		encryptorErr = nil
	})
}

func TestEncryptPairRoundTrip(t *testing.T) {
	// openssl rand -base64 32 style key for tests only
	withEncryptionKey(t, "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")

	access, refresh, version, err := encryptPair("access-token", "refresh-token")
	if err != nil {
		t.Fatalf("encryptPair: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if access == "access-token" || refresh == "refresh-token" {
		t.Fatal("tokens stored in plaintext despite encryption key")
	}

	gotAccess, gotRefresh, err := decryptPair(access, refresh, version)
	if err != nil {
		t.Fatalf("decryptPair: %v", err)
	}
	if gotAccess != "access-token" || gotRefresh != "refresh-token" {
		t.Fatalf("decrypted pair = %q, %q", gotAccess, gotRefresh)
	}
}

func TestEncryptPairWithoutKey(t *testing.T) {
	withEncryptionKey(t, "")
	os.Unsetenv("ENCRYPTION_KEY")

	access, refresh, version, err := encryptPair("access", "refresh")
	if err != nil {
		t.Fatalf("encryptPair: %v", err)
	}
	if version != 0 || access != "access" || refresh != "refresh" {
		t.Fatalf("expected plaintext passthrough, got v%d %q %q", version, access, refresh)
	}

	// Plaintext rows decrypt as themselves regardless of key config.
	gotAccess, gotRefresh, err := decryptPair(access, refresh, 0)
	if err != nil || gotAccess != "access" || gotRefresh != "refresh" {
		t.Fatalf("decryptPair v0 = %q, %q, %v", gotAccess, gotRefresh, err)
	}

	// Encrypted rows without a configured key must fail loudly.
	if _, _, err := decryptPair("ZW5jcnlwdGVk", "", 1); err == nil {
		t.Fatal("decryptPair v1 without key succeeded")
	}
}

func TestEncryptPairEmptyTokens(t *testing.T) {
	withEncryptionKey(t, "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")

	access, refresh, version, err := encryptPair("", "")
	if err != nil {
		t.Fatalf("encryptPair: %v", err)
	}
	if version != 1 || access != "" || refresh != "" {
		t.Fatalf("empty tokens should stay empty, got v%d %q %q", version, access, refresh)
	}
	a, r, err := decryptPair("", "", 1)
	if err != nil || a != "" || r != "" {
		t.Fatalf("decryptPair empty = %q, %q, %v", a, r, err)
	}
}

func TestBadEncryptionKey(t *testing.T) {
	withEncryptionKey(t, "not-base64!!!")

	if _, _, _, err := encryptPair("a", "b"); err == nil {
		t.Fatal("encryptPair with invalid key succeeded")
	}
}
