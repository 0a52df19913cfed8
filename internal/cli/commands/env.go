package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/mattn/go-isatty"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waytous/waytous/internal/cli/config"
	"github.com/waytous/waytous/internal/cli/ui"
	"github.com/waytous/waytous/internal/envelope"
	"github.com/waytous/waytous/internal/logging"
	"github.com/waytous/waytous/internal/metadata"
	"github.com/waytous/waytous/internal/query"
	"github.com/waytous/waytous/internal/registry"
	"github.com/waytous/waytous/internal/store"
	"github.com/waytous/waytous/internal/system"
)

// hostRunner runs lsb_release, uname and the artifact tool
var hostRunner system.Runner = system.ExecRunner{}

// isInteractive reports whether prompts can be shown
var isInteractive = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// env is the per-invocation wiring of config, logger and stores
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	out     io.Writer
	errOut  io.Writer
	noColor bool
	dir     string

	closers []func() error
}

func newEnv(cmd *cobra.Command, opts *globalOptions) (*env, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		var suggestions []string
		var invalid *config.InvalidValueError
		if errors.As(err, &invalid) {
			suggestions = ui.FindSimilar(invalid.Value, invalid.Valid, nil)
		}
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err.Error(), suggestions, opts.noColor))
		return nil, reported(err)
	}
	if opts.installRoot != "" {
		cfg.InstallRoot = opts.installRoot
	}

	dir := opts.dir
	if dir == "" {
		dir = "."
	}

	return &env{
		cfg:     cfg,
		logger:  logging.New(cmd.ErrOrStderr(), opts.verbose),
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		noColor: opts.noColor,
		dir:     dir,
	}, nil
}

// Close releases database and redis connections
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Debug("failed to close connection", zap.Error(err))
		}
	}
	e.closers = nil
	_ = e.logger.Sync()
}

func (e *env) sealer() *envelope.Envelope {
	return envelope.New(e.cfg.Cipher())
}

// currentStore opens the record of the module whose tree is dir. With
// readOnly set, a missing sqlite database reads as an undefined record
// instead of being created.
func (e *env) currentStore(ctx context.Context, dir string, readOnly bool) (store.Store, error) {
	cur := e.cfg.Current
	switch cur.Backend {
	case config.BackendSQLite:
		path := cur.Database
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if readOnly {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				return absentStore{location: path}, nil
			}
		}
		db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_txlock=immediate")
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		e.closers = append(e.closers, db.Close)
		return store.NewSQLStore(db, store.SQLite, path)

	case config.BackendPostgres:
		db, err := sql.Open("pgx", cur.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres connection: %w", err)
		}
		e.closers = append(e.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return store.NewSQLStore(db, store.Postgres, "postgres:meta")

	case config.BackendTOML, config.BackendSealed:
		return e.fileStore(store.FileLocation{Path: filepath.Join(dir, e.cfg.MetadataFile)}), nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cur.RedisAddr})
		e.closers = append(e.closers, client.Close)
		return e.fileStore(store.RedisLocation{Client: client, Key: cur.RedisKey}), nil
	}
	return nil, fmt.Errorf("unsupported backend %q", cur.Backend)
}

// fileStore keeps a TOML record at loc, sealed when the config says so.
// Sealed files get the .sealed suffix and owner-only permissions.
func (e *env) fileStore(loc store.Location) *store.FileStore {
	if !e.cfg.Sealed() {
		return store.NewFileStore(loc)
	}
	if fl, ok := loc.(store.FileLocation); ok {
		fl.Path += registry.SealedSuffix
		fl.Perm = 0o600
		loc = fl
	}
	return store.NewSealedFileStore(loc, e.sealer(), e.cfg.KeyProvider().Key)
}

// registry scans the install root with plain or sealed records, using the
// same rule as the file backends so a module written by create is read
// back by list
func (e *env) registry() *registry.Registry {
	opener := registry.PlainOpener(e.cfg.MetadataFile)
	if e.cfg.Sealed() {
		opener = registry.SealedOpener(e.cfg.MetadataFile, e.sealer(), e.cfg.KeyProvider().Key)
	}
	return registry.New(e.cfg.InstallRoot, opener, e.logger)
}

// service builds the query façade for the current working tree
func (e *env) service(ctx context.Context, readOnly bool) (*query.Service, error) {
	current, err := e.currentStore(ctx, e.dir, readOnly)
	if err != nil {
		return nil, err
	}
	return query.New(current, e.registry(), e.logger), nil
}

// absentStore stands in for a database file that does not exist yet
type absentStore struct {
	location string
}

func (s absentStore) Get(context.Context) (metadata.Record, error) {
	return metadata.Record{}, &store.Error{Kind: store.KindNotFound, Location: s.location, Err: os.ErrNotExist}
}

func (s absentStore) Set(context.Context, metadata.Record) (metadata.Record, error) {
	return metadata.Record{}, &store.Error{Kind: store.KindIoFailure, Location: s.location, Err: errors.New("store is read-only")}
}

func (s absentStore) String() string {
	return s.location
}
