package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytous/waytous/internal/metadata"
)

func setupSQLiteStore(t *testing.T) (*SQLStore, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta.db")
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_txlock=immediate")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLStore(db, SQLite, path)
	require.NoError(t, err)
	return s, db
}

func TestSQLStore_GetEmpty(t *testing.T) {
	s, db := setupSQLiteStore(t)

	_, err := s.Get(context.Background())
	assert.True(t, IsNotFound(err))

	// Reading never creates the schema
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'meta'`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSQLStore_GetMigratedButEmpty(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSQLiteStore(t)
	require.NoError(t, s.Migrate(ctx))

	_, err := s.Get(ctx)
	assert.True(t, IsNotFound(err))
}

func TestSQLStore_SetRejectsInvalidUTF8(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSQLiteStore(t)

	_, err := s.Set(ctx, metadata.Record{Author: metadata.String("bad\xffname")})
	require.Error(t, err)
	assert.ErrorIs(t, err, metadata.ErrInvalidValue)
	assert.Zero(t, KindOf(err))

	_, err = s.Get(ctx)
	assert.True(t, IsNotFound(err))
}

func TestSQLStore_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s, db := setupSQLiteStore(t)

	_, err := s.Set(ctx, metadata.Record{Name: metadata.String("lidar-driver")})
	require.NoError(t, err)
	got, err := s.Set(ctx, metadata.Record{Version: metadata.String("2.1.0")})
	require.NoError(t, err)

	assert.Equal(t, []string{"lidar-driver", "2.1.0", metadata.Undefined, metadata.Undefined, metadata.Undefined}, got.Row())

	// Exactly one logical row
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM meta").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLStore_PartialUpsertAndIdempotence(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSQLiteStore(t)

	full := metadata.Record{
		Name:        metadata.String("planner"),
		Version:     metadata.String("0.9.0"),
		Platform:    metadata.String("x86_64-focal"),
		Author:      metadata.String("planning"),
		Description: metadata.String("motion planner"),
	}
	_, err := s.Set(ctx, full)
	require.NoError(t, err)

	first, err := s.Set(ctx, metadata.Record{Version: metadata.String("1.0.0")})
	require.NoError(t, err)
	second, err := s.Set(ctx, metadata.Record{Version: metadata.String("1.0.0")})
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, "planner", second.Display(metadata.FieldName))
	assert.Equal(t, "1.0.0", second.Display(metadata.FieldVersion))
	assert.Equal(t, "motion planner", second.Display(metadata.FieldDescription))
}

func TestSQLStore_EmptyStringIsNotUnset(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSQLiteStore(t)

	got, err := s.Set(ctx, metadata.Record{Author: metadata.String("")})
	require.NoError(t, err)

	v, ok := got.Get(metadata.FieldAuthor)
	assert.True(t, ok)
	assert.Equal(t, "", v)
	_, ok = got.Get(metadata.FieldName)
	assert.False(t, ok)
}

func TestSQLStore_ConcurrentSetsNeverTear(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSQLiteStore(t)
	require.NoError(t, s.Migrate(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := "v1"
			if i%2 == 1 {
				v = "v2"
			}
			_, _ = s.Set(ctx, metadata.Record{Version: metadata.String(v), Platform: metadata.String(v)})
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, got.Display(metadata.FieldVersion), got.Display(metadata.FieldPlatform))
}

func TestNewSQLStore_UnknownDialect(t *testing.T) {
	_, err := NewSQLStore(nil, Dialect("oracle"), "x")
	assert.Error(t, err)
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLStore(db, Postgres, "postgres://meta")
	require.NoError(t, err)
	return s, mock
}

func TestSQLStore_RollsBackOnFailedUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	stmts := dialectStatements[Postgres]

	mock.ExpectExec(createMetaTable).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(stmts.count).WithArgs(currentRowID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(stmts.update[metadata.FieldName]).WithArgs("radar", currentRowID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmts.update[metadata.FieldVersion]).WithArgs("3.0.0", currentRowID).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := s.Set(context.Background(), metadata.Record{
		Name:    metadata.String("radar"),
		Version: metadata.String("3.0.0"),
	})
	require.Error(t, err)
	assert.Equal(t, KindIoFailure, KindOf(err))
	assert.Contains(t, err.Error(), "failed to update version")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_InsertsRowOnFirstSet(t *testing.T) {
	s, mock := newMockStore(t)
	stmts := dialectStatements[Postgres]
	cols := []string{"name", "version", "platform", "author", "description"}

	mock.ExpectExec(createMetaTable).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(stmts.count).WithArgs(currentRowID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(stmts.insert).WithArgs(currentRowID).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(stmts.update[metadata.FieldAuthor]).WithArgs("mapping", currentRowID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(stmts.get).WithArgs(currentRowID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(nil, nil, nil, "mapping", nil))

	got, err := s.Set(context.Background(), metadata.Record{Author: metadata.String("mapping")})
	require.NoError(t, err)
	assert.Equal(t, "mapping", got.Display(metadata.FieldAuthor))
	assert.Equal(t, metadata.Undefined, got.Display(metadata.FieldName))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetQueryFailureIsIoFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(dialectStatements[Postgres].get).WithArgs(currentRowID).
		WillReturnError(errors.New("connection refused"))

	_, err := s.Get(context.Background())
	assert.Equal(t, KindIoFailure, KindOf(err))
}

func TestSQLStore_GetUnscannableRowIsCorrupt(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(dialectStatements[Postgres].get).WithArgs(currentRowID).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("only-one-column"))

	_, err := s.Get(context.Background())
	assert.True(t, IsCorrupt(err))
}

func TestSQLStore_GetUndefinedTableIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(dialectStatements[Postgres].get).WithArgs(currentRowID).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "meta" does not exist`})

	_, err := s.Get(context.Background())
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
