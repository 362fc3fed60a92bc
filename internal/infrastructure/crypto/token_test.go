package crypto

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const remoteURL = "https://sync.example.com"

func testEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := NewEncryptorWithKey(key)
	if err != nil {
		t.Fatalf("NewEncryptorWithKey: %v", err)
	}
	return enc
}

func TestSealOpen(t *testing.T) {
	enc := testEncryptor(t)

	tests := []struct {
		name  string
		token string
	}{
		{"bearer token", "tmp_live_4f9a1c2e7b"},
		{"unicode", "töken-世界"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Seal(tt.token, remoteURL)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if tt.token != "" && (sealed == tt.token || !strings.HasPrefix(sealed, sealPrefix)) {
				t.Errorf("unexpected sealed value %q", sealed)
			}

			got, err := enc.Open(sealed, remoteURL)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if got != tt.token {
				t.Errorf("got %q, want %q", got, tt.token)
			}
		})
	}
}

func TestSeal_NonceIsRandom(t *testing.T) {
	enc := testEncryptor(t)
	a, _ := enc.Seal("token", remoteURL)
	b, _ := enc.Seal("token", remoteURL)
	if a == b {
		t.Error("two seals of the same token should differ")
	}
}

func TestOpen_BoundToRemote(t *testing.T) {
	enc := testEncryptor(t)
	sealed, err := enc.Seal("token", remoteURL)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if got, err := enc.Open(sealed, remoteURL+"/"); err != nil || got != "token" {
		t.Errorf("trailing slash: got %q, %v", got, err)
	}
	if _, err := enc.Open(sealed, "https://evil.example.com"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("other remote: got %v, want ErrInvalidToken", err)
	}
}

func TestOpen_Invalid(t *testing.T) {
	enc := testEncryptor(t)
	sealed, _ := enc.Seal("token", remoteURL)
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	tampered := sealPrefix + base64.RawURLEncoding.EncodeToString(raw)

	tests := []struct {
		name  string
		value string
		want  error
	}{
		{"no prefix", "plaintext", ErrUnsupportedFormat},
		{"bad base64", sealPrefix + "!!!", ErrInvalidToken},
		{"too short", sealPrefix + "AAAA", ErrInvalidToken},
		{"tampered", tampered, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Open(tt.value, remoteURL); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpen_OtherKey(t *testing.T) {
	sealed, _ := testEncryptor(t).Seal("token", remoteURL)

	other, err := NewEncryptorWithKey(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewEncryptorWithKey: %v", err)
	}
	if _, err := other.Open(sealed, remoteURL); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestNewEncryptorWithKey_Length(t *testing.T) {
	if _, err := NewEncryptorWithKey([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestNewEncryptor_PersistsSalt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tempo")

	first, err := NewEncryptor(dir)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, SaltFile))
	if err != nil {
		t.Fatalf("salt not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("salt mode = %v, want 0600", info.Mode().Perm())
	}

	sealed, _ := first.Seal("token", remoteURL)
	second, err := NewEncryptor(dir)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	if got, err := second.Open(sealed, remoteURL); err != nil || got != "token" {
		t.Errorf("reopen: got %q, %v", got, err)
	}

	if _, err := NewEncryptor(""); err == nil {
		t.Error("expected error for empty config dir")
	}
}
