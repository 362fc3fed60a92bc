// Package crypto seals the remote API token kept in the config file.
//
// A sealed token is bound to this machine and to the remote base URL it
// was saved for: copying config.yaml elsewhere or pointing it at another
// remote makes the token unreadable instead of leaking it to a new host.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SaltFile is the name of the per-install secret in the config directory.
const SaltFile = ".salt"

const (
	sealPrefix = "v1."
	saltSize   = 32
	keyInfo    = "tempo remote api token"
)

var (
	// ErrInvalidToken means a sealed token could not be opened. It was
	// corrupted, sealed on another machine, or sealed for another remote.
	ErrInvalidToken = errors.New("sealed token is invalid for this machine and remote")

	// ErrUnsupportedFormat means the sealed value has an unknown prefix.
	ErrUnsupportedFormat = errors.New("unsupported sealed token format")
)

// Encryptor seals and opens API tokens with AES-256-GCM.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives the sealing key from the install salt in configDir
// and the hostname. The salt is created on first use.
func NewEncryptor(configDir string) (*Encryptor, error) {
	if configDir == "" {
		return nil, errors.New("config directory is required")
	}
	salt, err := loadSalt(filepath.Join(configDir, SaltFile))
	if err != nil {
		return nil, err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	key, err := hkdf.Key(sha256.New, salt, []byte(host), keyInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}
	return NewEncryptorWithKey(key)
}

// NewEncryptorWithKey creates an Encryptor from a 32 byte key.
func NewEncryptorWithKey(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// Seal encrypts token for the remote at baseURL. An empty token seals to
// an empty string.
func (e *Encryptor) Seal(token, baseURL string) (string, error) {
	if token == "" {
		return "", nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(token), remoteBinding(baseURL))
	return sealPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal for the same baseURL.
func (e *Encryptor) Open(sealed, baseURL string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	body, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return "", ErrUnsupportedFormat
	}
	data, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(data) < e.aead.NonceSize() {
		return "", ErrInvalidToken
	}
	n := e.aead.NonceSize()
	plain, err := e.aead.Open(nil, data[:n], data[n:], remoteBinding(baseURL))
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plain), nil
}

// remoteBinding normalizes baseURL so a trailing slash does not change
// the binding.
func remoteBinding(baseURL string) []byte {
	return []byte(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
}

func loadSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return salt, nil
}
