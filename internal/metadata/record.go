// Package metadata defines the identity record kept for every module.
package metadata

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidValue is returned for field values that cannot be stored
var ErrInvalidValue = errors.New("invalid field value")

// Undefined is how an unset field is shown to operators.
const Undefined = "undefined"

// Field names a single record field. The string value is the canonical
// serialization key.
type Field string

const (
	FieldName        Field = "name"
	FieldVersion     Field = "version"
	FieldPlatform    Field = "platform"
	FieldAuthor      Field = "author"
	FieldDescription Field = "description"
)

// Fields lists every record field in display order
var Fields = []Field{FieldName, FieldVersion, FieldPlatform, FieldAuthor, FieldDescription}

// Record is a module's identity. A nil field is unset, which is distinct
// from a field set to the empty string.
type Record struct {
	Name        *string `toml:"name,omitempty"`
	Version     *string `toml:"version,omitempty"`
	Platform    *string `toml:"platform,omitempty"`
	Author      *string `toml:"author,omitempty"`
	Description *string `toml:"description,omitempty"`
}

// String returns a pointer to s, for building patches
func String(s string) *string {
	return &s
}

// ref returns the address of the slot holding f
func (r *Record) ref(f Field) **string {
	switch f {
	case FieldName:
		return &r.Name
	case FieldVersion:
		return &r.Version
	case FieldPlatform:
		return &r.Platform
	case FieldAuthor:
		return &r.Author
	case FieldDescription:
		return &r.Description
	}
	return nil
}

// Get returns the value of f and whether it is set
func (r Record) Get(f Field) (string, bool) {
	slot := r.ref(f)
	if slot == nil || *slot == nil {
		return "", false
	}
	return **slot, true
}

// Set assigns f. Unknown fields are ignored.
func (r *Record) Set(f Field, value string) {
	if slot := r.ref(f); slot != nil {
		*slot = &value
	}
}

// Display returns the value of f, or Undefined when unset
func (r Record) Display(f Field) string {
	if v, ok := r.Get(f); ok {
		return v
	}
	return Undefined
}

// Merge returns a copy of r with every field set in patch overwritten.
// Fields unset in patch keep their value; Merge never clears a field.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	for _, f := range Fields {
		if v, ok := patch.Get(f); ok {
			out.Set(f, v)
		}
	}
	return out
}

// Clone returns a deep copy of r
func (r Record) Clone() Record {
	var out Record
	for _, f := range Fields {
		if v, ok := r.Get(f); ok {
			out.Set(f, v)
		}
	}
	return out
}

// SetFields lists the fields that are set, in canonical order
func (r Record) SetFields() []Field {
	var out []Field
	for _, f := range Fields {
		if _, ok := r.Get(f); ok {
			out = append(out, f)
		}
	}
	return out
}

// IsEmpty reports whether no field is set
func (r Record) IsEmpty() bool {
	return len(r.SetFields()) == 0
}

// Complete reports whether every field has been set
func (r Record) Complete() bool {
	return len(r.SetFields()) == len(Fields)
}

// Equal compares two records field by field
func (r Record) Equal(other Record) bool {
	for _, f := range Fields {
		a, aok := r.Get(f)
		b, bok := other.Get(f)
		if aok != bok || a != b {
			return false
		}
	}
	return true
}

// Row returns the display values of every field in canonical order
func (r Record) Row() []string {
	row := make([]string, len(Fields))
	for i, f := range Fields {
		row[i] = r.Display(f)
	}
	return row
}

// Validate rejects values that are not valid UTF-8, since records are
// stored as UTF-8 text
func (r Record) Validate() error {
	for _, f := range r.SetFields() {
		v, _ := r.Get(f)
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidValue, f)
		}
	}
	return nil
}
