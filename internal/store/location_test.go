package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytous/waytous/internal/metadata"
)

func TestFileLocation_SaveLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	loc := FileLocation{Path: filepath.Join(dir, "version.toml")}

	require.NoError(t, loc.Save(ctx, []byte("name = 'a'\n")))
	require.NoError(t, loc.Save(ctx, []byte("name = 'b'\n")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "version.toml", entries[0].Name())

	data, err := loc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "name = 'b'\n", string(data))
}

func TestFileLocation_SaveIntoMissingDirectory(t *testing.T) {
	loc := FileLocation{Path: filepath.Join(t.TempDir(), "missing", "version.toml")}

	err := loc.Save(context.Background(), []byte("x"))
	assert.Equal(t, KindIoFailure, KindOf(err))
}

func TestFileLocation_LoadDirectoryIsIoFailure(t *testing.T) {
	loc := FileLocation{Path: t.TempDir()}

	_, err := loc.Load(context.Background())
	assert.Equal(t, KindIoFailure, KindOf(err))
}

func newRedisLocation(t *testing.T) (RedisLocation, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return RedisLocation{Client: client, Key: "waytous:module:current"}, mr
}

func TestRedisLocation(t *testing.T) {
	ctx := context.Background()
	loc, mr := newRedisLocation(t)

	_, err := loc.Load(ctx)
	assert.True(t, IsNotFound(err))

	s := NewFileStore(loc)
	_, err = s.Set(ctx, metadata.Record{Name: metadata.String("lidar-driver")})
	require.NoError(t, err)
	_, err = s.Set(ctx, metadata.Record{Version: metadata.String("2.1.0")})
	require.NoError(t, err)

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lidar-driver", got.Display(metadata.FieldName))
	assert.Equal(t, "2.1.0", got.Display(metadata.FieldVersion))
	assert.True(t, mr.Exists("waytous:module:current"))
	assert.Equal(t, "redis:waytous:module:current", s.String())
}

func TestRedisLocation_ServerDown(t *testing.T) {
	loc, mr := newRedisLocation(t)
	mr.Close()

	_, err := loc.Load(context.Background())
	assert.Equal(t, KindIoFailure, KindOf(err))

	err = loc.Save(context.Background(), []byte("x"))
	assert.Equal(t, KindIoFailure, KindOf(err))
}
