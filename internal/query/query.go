// Package query is the entry point the CLI uses to read and write module
// metadata. It routes requests to the current module's store or to the
// install-root registry and turns failures into per-module results.
package query

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/waytous/waytous/internal/metadata"
	"github.com/waytous/waytous/internal/registry"
	"github.com/waytous/waytous/internal/store"
)

// ErrNoCurrentModule is returned when no current-module store was configured
var ErrNoCurrentModule = errors.New("no current module store configured")

// Status is how a result is shown to the operator
type Status string

const (
	// StatusOK means the record was read
	StatusOK Status = "ok"
	// StatusUndefined means no record was ever written
	StatusUndefined Status = "undefined"
	// StatusCorrupt means the record is damaged or was tampered with
	StatusCorrupt Status = "corrupt"
	// StatusError means the backing medium failed
	StatusError Status = "error"
)

// Result is one module's record or the reason it could not be read
type Result struct {
	Module string
	Record metadata.Record
	Status Status
	Err    error
}

func newResult(module string, rec metadata.Record, err error) Result {
	return Result{Module: module, Record: rec, Status: StatusOf(err), Err: err}
}

// StatusOf maps a store error onto a display status
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case store.IsNotFound(err):
		return StatusUndefined
	case store.IsCorrupt(err):
		return StatusCorrupt
	default:
		return StatusError
	}
}

// Service answers metadata queries
type Service struct {
	current  store.Store
	registry *registry.Registry
	logger   *zap.Logger
}

// New creates a Service. current is the store of the module whose working
// tree the operator is in and may be nil when none applies.
func New(current store.Store, reg *registry.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{current: current, registry: reg, logger: logger}
}

// DescribeCurrent returns the current module's record
func (s *Service) DescribeCurrent(ctx context.Context) Result {
	if s.current == nil {
		return Result{Status: StatusError, Err: ErrNoCurrentModule}
	}

	rec, err := s.current.Get(ctx)
	name := rec.Display(metadata.FieldName)
	if err != nil {
		s.logger.Debug("current module metadata unavailable",
			zap.Stringer("store", s.current), zap.Error(err))
	}
	return newResult(name, rec, err)
}

// SetCurrent upserts fields of the current module's record
func (s *Service) SetCurrent(ctx context.Context, patch metadata.Record) (metadata.Record, error) {
	if s.current == nil {
		return metadata.Record{}, ErrNoCurrentModule
	}

	rec, err := s.current.Set(ctx, patch)
	if err != nil {
		return metadata.Record{}, err
	}
	s.logger.Debug("updated current module metadata",
		zap.Stringer("store", s.current), zap.Int("fields", len(patch.SetFields())))
	return rec, nil
}

// Describe returns one installed module's record
func (s *Service) Describe(ctx context.Context, name string) Result {
	rec, err := s.registry.ResolveOne(ctx, name)
	return newResult(name, rec, err)
}

// ListInstalled returns every installed module sorted by name. Modules
// whose record cannot be read are included with their error.
func (s *Service) ListInstalled(ctx context.Context) []Result {
	entries := s.registry.ListInstalled(ctx)
	registry.SortByName(entries)

	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		results = append(results, newResult(e.Name, e.Record, e.Err))
	}
	return results
}

// Summary counts results by status
func Summary(results []Result) map[Status]int {
	counts := make(map[Status]int, 4)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
