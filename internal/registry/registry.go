// Package registry lists the modules installed under an install root.
//
// Every immediate subdirectory of the root is a module; its record lives at
// a well-known file inside that directory. The registry keeps no state of
// its own and is recomputed on every call. A module whose record cannot be
// read is reported with its error and never hides the others.
package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/waytous/waytous/internal/metadata"
	"github.com/waytous/waytous/internal/store"
)

// DefaultMetadataFile is the record file name inside a module directory
const DefaultMetadataFile = "version.toml"

// SealedSuffix is appended to the record file name when records are sealed
const SealedSuffix = ".sealed"

// Opener returns the store for a module directory
type Opener func(moduleDir string) store.Store

// PlainOpener opens <moduleDir>/<file> as plain TOML
func PlainOpener(file string) Opener {
	return func(moduleDir string) store.Store {
		return store.NewFileStore(store.FileLocation{Path: filepath.Join(moduleDir, file)})
	}
}

// SealedOpener opens <moduleDir>/<file>.sealed as a sealed envelope
func SealedOpener(file string, sealer store.Sealer, key store.KeyFunc) Opener {
	return func(moduleDir string) store.Store {
		loc := store.FileLocation{Path: filepath.Join(moduleDir, file+SealedSuffix), Perm: 0o600}
		return store.NewSealedFileStore(loc, sealer, key)
	}
}

// Entry is one installed module and the outcome of reading its record
type Entry struct {
	Name   string
	Record metadata.Record
	Err    error
}

// OK reports whether the record was read
func (e Entry) OK() bool {
	return e.Err == nil
}

// Registry scans an install root
type Registry struct {
	root   string
	open   Opener
	logger *zap.Logger
}

// New creates a Registry. A nil opener reads plain version.toml files.
func New(root string, open Opener, logger *zap.Logger) *Registry {
	if open == nil {
		open = PlainOpener(DefaultMetadataFile)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{root: root, open: open, logger: logger}
}

// Root returns the install root
func (r *Registry) Root() string {
	return r.root
}

// ListInstalled returns one entry per module directory, in directory order.
// A missing or unreadable root yields an empty list: no modules installed.
func (r *Registry) ListInstalled(ctx context.Context) []Entry {
	dirEntries, err := os.ReadDir(r.root)
	if err != nil {
		r.logger.Debug("install root not readable, treating as empty",
			zap.String("root", r.root), zap.Error(err))
		return []Entry{}
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !r.isModuleDir(de) {
			continue
		}

		name := de.Name()
		rec, err := r.open(filepath.Join(r.root, name)).Get(ctx)
		if err != nil {
			r.logger.Warn("failed to read module metadata",
				zap.String("module", name), zap.Error(err))
		}
		entries = append(entries, Entry{Name: name, Record: rec, Err: err})
	}

	r.logger.Debug("scanned install root",
		zap.String("root", r.root), zap.Int("modules", len(entries)))
	return entries
}

// ResolveOne reads a single module's record. It fails with ErrNotFound when
// the module directory does not exist, whether or not a record exists.
func (r *Registry) ResolveOne(ctx context.Context, name string) (metadata.Record, error) {
	dir, err := r.moduleDir(name)
	if err != nil {
		return metadata.Record{}, err
	}
	return r.open(dir).Get(ctx)
}

// Store returns the store for a module that exists under the root
func (r *Registry) Store(name string) (store.Store, error) {
	dir, err := r.moduleDir(name)
	if err != nil {
		return nil, err
	}
	return r.open(dir), nil
}

func (r *Registry) moduleDir(name string) (string, error) {
	if !validName(name) {
		return "", &store.Error{Kind: store.KindNotFound, Location: name, Err: errors.New("invalid module name")}
	}

	dir := filepath.Join(r.root, name)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &store.Error{Kind: store.KindNotFound, Location: dir, Err: errors.New("module is not installed")}
		}
		return "", &store.Error{Kind: store.KindIoFailure, Location: dir, Err: err}
	}
	if !info.IsDir() {
		return "", &store.Error{Kind: store.KindNotFound, Location: dir, Err: errors.New("module is not installed")}
	}
	return dir, nil
}

// isModuleDir accepts directories and symlinks to directories, skipping
// hidden entries such as .staging
func (r *Registry) isModuleDir(de os.DirEntry) bool {
	if strings.HasPrefix(de.Name(), ".") {
		return false
	}
	if de.IsDir() {
		return true
	}
	if de.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(r.root, de.Name()))
	return err == nil && info.IsDir()
}

// validName accepts exactly the names ListInstalled can return: no path
// separators and no leading dot
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// SortByName orders entries by module name for display
func SortByName(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}
