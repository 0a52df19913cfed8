package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Location is where one module's serialized record lives. Load returns an
// ErrNotFound store error when nothing has been saved yet.
type Location interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	String() string
}

// FileLocation stores the record in a single file
type FileLocation struct {
	Path string
	// Perm is the mode of newly written files; 0644 when zero
	Perm os.FileMode
}

func (l FileLocation) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(l.Path, nil)
		}
		return nil, ioFailure(l.Path, err)
	}
	return data, nil
}

// Save replaces the file atomically: the data is written and synced to a
// temp file in the same directory, which is then renamed over the target.
// A crash leaves either the old or the new file, never a partial one.
func (l FileLocation) Save(_ context.Context, data []byte) error {
	perm := l.Perm
	if perm == 0 {
		perm = 0o644
	}

	tmpPath := fmt.Sprintf("%s.%s.tmp", l.Path, uuid.NewString())
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return ioFailure(l.Path, fmt.Errorf("failed to create temp file: %w", err))
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return ioFailure(l.Path, fmt.Errorf("failed to write temp file: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return ioFailure(l.Path, fmt.Errorf("failed to sync temp file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return ioFailure(l.Path, fmt.Errorf("failed to close temp file: %w", err))
	}

	if err := os.Rename(tmpPath, l.Path); err != nil {
		os.Remove(tmpPath)
		return ioFailure(l.Path, fmt.Errorf("failed to rename temp file: %w", err))
	}

	syncDir(filepath.Dir(l.Path))
	return nil
}

func (l FileLocation) String() string {
	return l.Path
}

// syncDir makes the rename durable; failure is not fatal since the rename
// itself already succeeded.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

// RedisLocation stores the record under a single redis key
type RedisLocation struct {
	Client redis.UniversalClient
	Key    string
}

func (l RedisLocation) Load(ctx context.Context) ([]byte, error) {
	data, err := l.Client.Get(ctx, l.Key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(l.String(), nil)
		}
		return nil, ioFailure(l.String(), err)
	}
	return data, nil
}

func (l RedisLocation) Save(ctx context.Context, data []byte) error {
	if err := l.Client.Set(ctx, l.Key, data, 0).Err(); err != nil {
		return ioFailure(l.String(), err)
	}
	return nil
}

func (l RedisLocation) String() string {
	return "redis:" + l.Key
}
