// Package store persists a single module's metadata record.
//
// Records are written with field-level upsert semantics: Set loads whatever
// is stored (nothing counts as an all-unset record), overwrites the fields
// present in the patch and writes the result back. A record that exists
// but cannot be read is reported as corrupt and is never overwritten.
package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/waytous/waytous/internal/envelope"
	"github.com/waytous/waytous/internal/metadata"
)

// Store reads and upserts one module's record
type Store interface {
	// Get returns the stored record, or ErrNotFound if none exists
	Get(ctx context.Context) (metadata.Record, error)
	// Set merges patch into the stored record and returns the result
	Set(ctx context.Context, patch metadata.Record) (metadata.Record, error)
	String() string
}

// Encode serializes a record as TOML with one top-level key per set field
func Encode(r metadata.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a TOML record. Unknown keys are ignored so module authors
// can keep their own notes alongside the five fields.
func Decode(data []byte) (metadata.Record, error) {
	var r metadata.Record
	if err := toml.Unmarshal(data, &r); err != nil {
		return metadata.Record{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return r, nil
}

// Sealer seals and opens envelopes; *envelope.Envelope implements it
type Sealer interface {
	Seal(plaintext, key []byte) ([]byte, error)
	Open(env, key []byte) ([]byte, error)
}

// KeyFunc supplies the sealing key on every call
type KeyFunc func() ([]byte, error)

// FileStore keeps a record as TOML at a Location, optionally sealed
type FileStore struct {
	loc    Location
	sealer Sealer
	key    KeyFunc
}

// NewFileStore stores plain TOML at loc
func NewFileStore(loc Location) *FileStore {
	return &FileStore{loc: loc}
}

// NewSealedFileStore stores TOML sealed in an envelope at loc
func NewSealedFileStore(loc Location, sealer Sealer, key KeyFunc) *FileStore {
	if sealer == nil {
		sealer = envelope.New(envelope.ChaCha20Poly1305)
	}
	return &FileStore{loc: loc, sealer: sealer, key: key}
}

// Sealed reports whether records are kept in an envelope
func (s *FileStore) Sealed() bool {
	return s.sealer != nil
}

func (s *FileStore) String() string {
	return s.loc.String()
}

func (s *FileStore) Get(ctx context.Context) (metadata.Record, error) {
	data, err := s.loc.Load(ctx)
	if err != nil {
		return metadata.Record{}, err
	}
	return s.decode(data)
}

func (s *FileStore) Set(ctx context.Context, patch metadata.Record) (metadata.Record, error) {
	if err := patch.Validate(); err != nil {
		return metadata.Record{}, err
	}
	current, err := s.Get(ctx)
	if err != nil && !IsNotFound(err) {
		return metadata.Record{}, err
	}

	merged := current.Merge(patch)
	data, err := s.encode(merged)
	if err != nil {
		return metadata.Record{}, err
	}
	if err := s.loc.Save(ctx, data); err != nil {
		return metadata.Record{}, err
	}
	return merged, nil
}

func (s *FileStore) decode(data []byte) (metadata.Record, error) {
	if s.sealer != nil {
		key, err := s.key()
		if err != nil {
			return metadata.Record{}, ioFailure(s.loc.String(), err)
		}
		data, err = s.sealer.Open(data, key)
		if err != nil {
			return metadata.Record{}, fromEnvelope(s.loc.String(), err)
		}
	}

	r, err := Decode(data)
	if err != nil {
		return metadata.Record{}, corrupt(s.loc.String(), err)
	}
	return r, nil
}

func (s *FileStore) encode(r metadata.Record) ([]byte, error) {
	data, err := Encode(r)
	if err != nil {
		return nil, ioFailure(s.loc.String(), err)
	}
	if s.sealer == nil {
		return data, nil
	}

	key, err := s.key()
	if err != nil {
		return nil, ioFailure(s.loc.String(), err)
	}
	sealed, err := s.sealer.Seal(data, key)
	if err != nil {
		return nil, fromEnvelope(s.loc.String(), err)
	}
	return sealed, nil
}
