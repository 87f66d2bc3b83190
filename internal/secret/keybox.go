package secret

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Keybox seals and opens encrypted manifest values ("secure:" entries).
//
// Values on the wire are base64(nonce || box). The key comes from runner
// configuration and is never written to logs or sinks.
type Keybox struct {
	key [keySize]byte
}

// NewKeybox parses a key given as hex (64 chars) or base64 (std or raw).
func NewKeybox(encoded string) (*Keybox, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("secret key is empty")
	}

	var raw []byte
	if h, err := hex.DecodeString(encoded); err == nil && len(h) == keySize {
		raw = h
	} else if b, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(b) == keySize {
		raw = b
	} else if b, err := base64.RawStdEncoding.DecodeString(encoded); err == nil && len(b) == keySize {
		raw = b
	} else {
		return nil, fmt.Errorf("secret key must decode to %d bytes (hex or base64)", keySize)
	}

	kb := &Keybox{}
	copy(kb.key[:], raw)
	return kb, nil
}

// GenerateKey returns a fresh random key in hex form, suitable for the
// secrets.key config entry.
func GenerateKey() (string, error) {
	var key [keySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("generate secret key: %w", err)
	}
	return hex.EncodeToString(key[:]), nil
}

// Seal encrypts plaintext into the wire form accepted by Open.
func (k *Keybox) Seal(plaintext string) (string, error) {
	if k == nil {
		return "", fmt.Errorf("keybox is nil")
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &k.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

// Open decrypts a sealed value. A wrong key or corrupted value is an error;
// callers must treat that as fatal configuration, not as an empty secret.
func (k *Keybox) Open(sealed string) (string, error) {
	if k == nil {
		return "", fmt.Errorf("keybox is nil")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return "", fmt.Errorf("secure value is not valid base64: %w", err)
	}
	if len(raw) <= nonceSize {
		return "", fmt.Errorf("secure value is too short (%d bytes)", len(raw))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &k.key)
	if !ok {
		return "", fmt.Errorf("secure value cannot be decrypted with the configured key")
	}
	return string(plain), nil
}
