// Package secrets seals the shared write secret with age so it can live
// in config files and .env as ENC[age:<base64>] instead of plaintext.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const (
	sealedPrefix = "ENC[age:"
	sealedSuffix = "]"
)

// ErrNotSealed is returned by Open for values without the ENC[age:...] envelope.
var ErrNotSealed = errors.New("value is not sealed")

// GenerateIdentity creates an X25519 identity at path (0o600) and returns its
// public recipient. An existing file is kept and its recipient returned.
func GenerateIdentity(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		id, err := LoadIdentity(path)
		if err != nil {
			return "", err
		}
		return id.Recipient().String(), nil
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate age identity: %w", err)
	}

	content := fmt.Sprintf("# created by stardust\n# public key: %s\n%s\n",
		identity.Recipient().String(), identity.String())

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write age key: %w", err)
	}
	return identity.Recipient().String(), nil
}

// LoadIdentity reads the first X25519 identity from path.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	for _, candidate := range identities {
		if id, ok := candidate.(*age.X25519Identity); ok {
			return id, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", path)
}

// ParseRecipient parses an "age1..." public key.
func ParseRecipient(s string) (age.Recipient, error) {
	r, err := age.ParseX25519Recipient(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}
	return r, nil
}

// Seal encrypts plaintext to recipient and wraps it as ENC[age:...].
func Seal(plaintext string, recipient age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt init: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt close: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + sealedSuffix, nil
}

// Open decrypts an ENC[age:...] value.
func Open(sealed string, identity age.Identity) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}

	payload := sealed[len(sealedPrefix) : len(sealed)-len(sealedSuffix)]
	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether s carries the ENC[age:...] envelope.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealedPrefix) && strings.HasSuffix(s, sealedSuffix)
}

// ResolveSecret returns value unchanged when it is plaintext, otherwise
// decrypts it with the identity stored at identityPath.
func ResolveSecret(value, identityPath string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	id, err := LoadIdentity(identityPath)
	if err != nil {
		return "", fmt.Errorf("resolve secret: %w", err)
	}
	plain, err := Open(value, id)
	if err != nil {
		return "", fmt.Errorf("resolve secret: %w", err)
	}
	return plain, nil
}
