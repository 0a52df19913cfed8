package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/waytous/waytous/internal/metadata"
)

// Dialect selects placeholder syntax for the relational store
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// currentRowID is the single logical row describing the current module
const currentRowID = 1

const createMetaTable = `CREATE TABLE IF NOT EXISTS meta (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE,
	version TEXT,
	platform TEXT,
	author TEXT,
	description TEXT,
	UNIQUE(name)
)`

// statements holds every SQL statement the store issues. Column names are
// fixed here and never built from program data.
type statements struct {
	count  string
	insert string
	get    string
	update map[metadata.Field]string
}

var dialectStatements = map[Dialect]statements{
	SQLite: {
		count:  `SELECT COUNT(*) FROM meta WHERE id = ?`,
		insert: `INSERT INTO meta (id) VALUES (?)`,
		get:    `SELECT name, version, platform, author, description FROM meta WHERE id = ?`,
		update: map[metadata.Field]string{
			metadata.FieldName:        `UPDATE meta SET name = ? WHERE id = ?`,
			metadata.FieldVersion:     `UPDATE meta SET version = ? WHERE id = ?`,
			metadata.FieldPlatform:    `UPDATE meta SET platform = ? WHERE id = ?`,
			metadata.FieldAuthor:      `UPDATE meta SET author = ? WHERE id = ?`,
			metadata.FieldDescription: `UPDATE meta SET description = ? WHERE id = ?`,
		},
	},
	Postgres: {
		count:  `SELECT COUNT(*) FROM meta WHERE id = $1`,
		insert: `INSERT INTO meta (id) VALUES ($1)`,
		get:    `SELECT name, version, platform, author, description FROM meta WHERE id = $1`,
		update: map[metadata.Field]string{
			metadata.FieldName:        `UPDATE meta SET name = $1 WHERE id = $2`,
			metadata.FieldVersion:     `UPDATE meta SET version = $1 WHERE id = $2`,
			metadata.FieldPlatform:    `UPDATE meta SET platform = $1 WHERE id = $2`,
			metadata.FieldAuthor:      `UPDATE meta SET author = $1 WHERE id = $2`,
			metadata.FieldDescription: `UPDATE meta SET description = $1 WHERE id = $2`,
		},
	},
}

// SQLStore keeps the current module's record as row 1 of the meta table
type SQLStore struct {
	db    *sql.DB
	stmts statements
	name  string
}

// NewSQLStore wraps an open database. name is used in error messages.
func NewSQLStore(db *sql.DB, dialect Dialect, name string) (*SQLStore, error) {
	stmts, ok := dialectStatements[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	return &SQLStore{db: db, stmts: stmts, name: name}, nil
}

func (s *SQLStore) String() string {
	return s.name
}

// Migrate creates the meta table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMetaTable); err != nil {
		return ioFailure(s.name, fmt.Errorf("failed to create meta table: %w", err))
	}
	return nil
}

// Get reads row 1 without touching the schema. A database that has never
// been written to has no meta table, which reads as no record.
func (s *SQLStore) Get(ctx context.Context) (metadata.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.stmts.get, currentRowID)
	if err != nil {
		if isMissingTable(err) {
			return metadata.Record{}, notFound(s.name, err)
		}
		return metadata.Record{}, ioFailure(s.name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return metadata.Record{}, ioFailure(s.name, err)
		}
		return metadata.Record{}, notFound(s.name, nil)
	}

	// A row that exists but does not scan into five nullable strings is
	// damaged, not missing.
	var cols [5]sql.NullString
	if err := rows.Scan(&cols[0], &cols[1], &cols[2], &cols[3], &cols[4]); err != nil {
		return metadata.Record{}, corrupt(s.name, err)
	}

	var r metadata.Record
	for i, f := range metadata.Fields {
		if cols[i].Valid {
			r.Set(f, cols[i].String)
		}
	}
	return r, nil
}

// Set upserts the fields present in patch. The row count check, the
// optional insert and every field update run in one transaction so that
// concurrent writers cannot interleave into a torn row.
func (s *SQLStore) Set(ctx context.Context, patch metadata.Record) (metadata.Record, error) {
	if err := patch.Validate(); err != nil {
		return metadata.Record{}, err
	}
	if err := s.Migrate(ctx); err != nil {
		return metadata.Record{}, err
	}

	err := withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, s.stmts.count, currentRowID).Scan(&count); err != nil {
			return fmt.Errorf("failed to count meta rows: %w", err)
		}
		if count == 0 {
			if _, err := tx.ExecContext(ctx, s.stmts.insert, currentRowID); err != nil {
				return fmt.Errorf("failed to insert meta row: %w", err)
			}
		}

		for _, f := range patch.SetFields() {
			value, _ := patch.Get(f)
			if _, err := tx.ExecContext(ctx, s.stmts.update[f], value, currentRowID); err != nil {
				return fmt.Errorf("failed to update %s: %w", f, err)
			}
		}
		return nil
	})
	if err != nil {
		return metadata.Record{}, ioFailure(s.name, err)
	}

	return s.Get(ctx)
}

// isMissingTable recognizes "no such table" from sqlite and undefined_table
// (42P01) from postgres
func isMissingTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "no such table")
}

// withTransaction runs fn in a transaction, committing on success and
// rolling back on error or panic.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
