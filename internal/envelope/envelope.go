// Package envelope seals serialized records with an AEAD cipher.
//
// A sealed envelope is laid out as
//
//	nonce (12 bytes) || ciphertext || tag (16 bytes)
//
// with no length prefix: nonce and tag are fixed-size and the ciphertext is
// as long as the plaintext. The key is always supplied by the caller; this
// package never generates, stores or caches one.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the required key length in bytes
	KeySize = 32
	// NonceSize is the length of the nonce prefix
	NonceSize = 12
	// TagSize is the length of the authentication tag suffix
	TagSize = 16
	// Overhead is the number of bytes an envelope adds to its plaintext
	Overhead = NonceSize + TagSize
)

// Cipher selects the AEAD construction
type Cipher string

const (
	ChaCha20Poly1305 Cipher = "chacha20poly1305"
	AES256GCM        Cipher = "aes-256-gcm"
)

// ParseCipher validates a configured cipher name
func ParseCipher(name string) (Cipher, error) {
	switch c := Cipher(name); c {
	case ChaCha20Poly1305, AES256GCM:
		return c, nil
	case "":
		return ChaCha20Poly1305, nil
	default:
		return "", fmt.Errorf("unsupported cipher %q (want %s or %s)", name, ChaCha20Poly1305, AES256GCM)
	}
}

// Envelope seals and opens byte blobs
type Envelope struct {
	cipher Cipher
	rand   io.Reader
}

// Option configures an Envelope
type Option func(*Envelope)

// WithRandomSource replaces the nonce source. Only tests should need this.
func WithRandomSource(r io.Reader) Option {
	return func(e *Envelope) {
		e.rand = r
	}
}

// New creates an Envelope for the given cipher
func New(c Cipher, opts ...Option) *Envelope {
	if c == "" {
		c = ChaCha20Poly1305
	}
	e := &Envelope{cipher: c, rand: rand.Reader}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEnvelope = New(ChaCha20Poly1305)

// Seal seals plaintext with the default cipher
func Seal(plaintext, key []byte) ([]byte, error) {
	return defaultEnvelope.Seal(plaintext, key)
}

// Open opens an envelope produced by Seal
func Open(env, key []byte) ([]byte, error) {
	return defaultEnvelope.Open(env, key)
}

// Cipher returns the configured AEAD construction
func (e *Envelope) Cipher() Cipher {
	return e.cipher
}

// Seal encrypts and authenticates plaintext under key. Every call draws a
// fresh nonce; a nonce must never repeat under the same key.
func (e *Envelope) Seal(plaintext, key []byte) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, &Error{Kind: KindSealFailed, Err: fmt.Errorf("unexpected panic: %v", p)}
		}
	}()

	aead, err := e.aead(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return nil, &Error{Kind: KindRandomSourceFailure, Err: fmt.Errorf("could not generate nonce: %w", err)}
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open verifies and decrypts env under key. Nothing is returned unless the
// tag verifies.
func (e *Envelope) Open(env, key []byte) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, &Error{Kind: KindAuthenticationFailed, Err: fmt.Errorf("unexpected panic: %v", p)}
		}
	}()

	aead, err := e.aead(key)
	if err != nil {
		return nil, err
	}

	if len(env) < Overhead {
		return nil, &Error{Kind: KindTruncated, Err: fmt.Errorf("envelope is %d bytes, need at least %d", len(env), Overhead)}
	}

	nonce, sealed := env[:NonceSize], env[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &Error{Kind: KindAuthenticationFailed, Err: err}
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func (e *Envelope) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, &Error{Kind: KindInvalidKey, Err: fmt.Errorf("key is %d bytes, want %d", len(key), KeySize)}
	}

	switch e.cipher {
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, &Error{Kind: KindInvalidKey, Err: err}
		}
		return aead, nil
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, &Error{Kind: KindInvalidKey, Err: err}
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, &Error{Kind: KindSealFailed, Err: fmt.Errorf("failed to create AES GCM: %w", err)}
		}
		return aead, nil
	default:
		return nil, &Error{Kind: KindSealFailed, Err: fmt.Errorf("unsupported cipher %q", e.cipher)}
	}
}
