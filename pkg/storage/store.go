package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/oarkflow/log"
	"github.com/oarkflow/squealx"
	"github.com/oarkflow/squealx/connection"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/svcl"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config controls how the storage layer is initialized.
type Config struct {
	Driver        string `json:"driver" yaml:"driver" toml:"driver"`
	Path          string `json:"path" yaml:"path" toml:"path"`
	Host          string `json:"host" yaml:"host" toml:"host"`
	Port          int    `json:"port" yaml:"port" toml:"port"`
	Username      string `json:"username" yaml:"username" toml:"username"`
	Password      string `json:"password" yaml:"password" toml:"password"`
	Database      string `json:"database" yaml:"database" toml:"database"`
	EncryptionKey string `json:"-" yaml:"-" toml:"-"`
}

type Option func(*Store)

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// conn is the part of *sql.DB the store uses. squealx connections are
// unwrapped to their *sql.DB.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

var _ conn = (*sql.DB)(nil)

// Store persists model records in one table per model.
type Store struct {
	db     conn
	driver string
	secret *secretCipher
	logger *log.Logger
}

// New opens the configured backend. SQLite is used when no driver is set.
func New(cfg Config, opts ...Option) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "sqlite3" {
		driver = DriverSQLite
	}
	if driver == "postgresql" {
		driver = DriverPostgres
	}

	var db conn
	switch driver {
	case DriverSQLite:
		sqlDB, err := openSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		db = sqlDB
	case DriverPostgres, DriverMySQL:
		sqlDB, _, err := connection.FromConfig(squealx.Config{
			Driver:      driver,
			Host:        cfg.Host,
			Port:        cfg.Port,
			Username:    cfg.Username,
			Password:    cfg.Password,
			Database:    cfg.Database,
			MaxIdleCons: 2,
			MaxOpenCons: 10,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", driver, err)
		}
		db = sqlDB.DB()
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	secret, err := newSecretCipher(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	store := &Store{db: db, driver: driver, secret: secret, logger: &log.DefaultLogger}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "data/svcl.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// Driver reports the normalized backend name.
func (s *Store) Driver() string { return s.driver }

// Close releases all database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates a table for every model that does not have one yet.
func (s *Store) Migrate(ctx context.Context, models []*svcl.ModelDef) error {
	for _, model := range models {
		stmt := s.createTableSQL(model)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run migration for model %s: %w", model.Name, err)
		}
		s.logger.Info().Str("model", model.Name).Str("table", model.Table).Msg("model table ready")
	}
	return nil
}

func (s *Store) createTableSQL(model *svcl.ModelDef) string {
	var columns []string
	if _, ok := model.PrimaryKey(); !ok {
		columns = append(columns, s.quote(ImplicitKey)+" "+s.keyType(true)+" PRIMARY KEY")
	}
	for _, f := range model.Fields {
		col := s.quote(f.Name) + " " + s.columnType(f)
		switch {
		case f.PrimaryKey:
			col += " PRIMARY KEY"
			if s.driver == DriverMySQL && ColumnType(f.Type) == "INTEGER" {
				col += " AUTO_INCREMENT"
			}
		case !f.Optional:
			col += " NOT NULL"
		}
		columns = append(columns, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.quote(model.Table), strings.Join(columns, ", "))
}

// ColumnType maps a declared field type to its SQL column type.
func ColumnType(fieldType string) string {
	switch strings.ToLower(fieldType) {
	case "int", "integer", "bool", "boolean":
		return "INTEGER"
	case "number", "float", "real":
		return "REAL"
	default:
		return "TEXT"
	}
}

func (s *Store) columnType(f *svcl.FieldDef) string {
	typ := ColumnType(f.Type)
	if f.PrimaryKey && typ == "TEXT" {
		return s.keyType(true)
	}
	if f.PrimaryKey && typ == "INTEGER" && s.driver == DriverPostgres {
		return "BIGSERIAL"
	}
	return typ
}

// keyType is TEXT except on mysql, which cannot index an unbounded TEXT key.
func (s *Store) keyType(text bool) string {
	if text && s.driver == DriverMySQL {
		return "VARCHAR(191)"
	}
	return "TEXT"
}

func (s *Store) quote(ident string) string {
	if s.driver == DriverMySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

func (s *Store) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
