// Package keyprovider resolves the metadata sealing key from a source
// outside the binary. There is deliberately no fallback key.
package keyprovider

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/waytous/waytous/internal/envelope"
)

// DefaultEnvVariable holds the key when no key file is configured
const DefaultEnvVariable = "WAYTOUS_METADATA_KEY"

var (
	// ErrKeyUnavailable is returned when the configured source holds no key
	ErrKeyUnavailable = errors.New("metadata key unavailable")
	// ErrInvalidKey is returned when the source holds something that is not a 32-byte key
	ErrInvalidKey = errors.New("metadata key is malformed")
	// ErrInsecurePermissions is returned for key files readable by group or other
	ErrInsecurePermissions = errors.New("metadata key file permissions are too open")
)

// Provider yields the key used to seal and open metadata envelopes
type Provider interface {
	Key() ([]byte, error)
	String() string
}

// Env reads a hex or base64 encoded key from an environment variable
type Env struct {
	Variable string
}

func (e Env) variable() string {
	if e.Variable == "" {
		return DefaultEnvVariable
	}
	return e.Variable
}

func (e Env) Key() ([]byte, error) {
	raw, ok := os.LookupEnv(e.variable())
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: $%s is not set", ErrKeyUnavailable, e.variable())
	}
	key, err := decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("$%s: %w", e.variable(), err)
	}
	return key, nil
}

func (e Env) String() string {
	return "env:" + e.variable()
}

// File reads a key from a file that only its owner may read
type File struct {
	Path string
}

func (f File) Key() ([]byte, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrKeyUnavailable, f.Path)
		}
		return nil, fmt.Errorf("failed to stat key file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has mode %04o, want 0600", ErrInsecurePermissions, f.Path, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return key, nil
}

func (f File) String() string {
	return "file:" + f.Path
}

// decode accepts raw key bytes, or hex or base64 text
func decode(data []byte) ([]byte, error) {
	if len(data) == envelope.KeySize {
		return bytes.Clone(data), nil
	}

	text := bytes.TrimSpace(data)
	if len(text) == hex.EncodedLen(envelope.KeySize) {
		key := make([]byte, envelope.KeySize)
		if _, err := hex.Decode(key, text); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(string(text)); err == nil && len(key) == envelope.KeySize {
		return key, nil
	}
	return nil, fmt.Errorf("%w: want %d raw bytes or their hex/base64 encoding", ErrInvalidKey, envelope.KeySize)
}

// Generate writes a new random key to path as hex with mode 0600. It never
// overwrites an existing file.
func Generate(path string) error {
	return generate(path, rand.Reader)
}

func generate(path string, random io.Reader) error {
	key := make([]byte, envelope.KeySize)
	if _, err := io.ReadFull(random, key); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return f.Close()
}
