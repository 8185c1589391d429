package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/objectmatch/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the sqlite-backed feature store. Every operation checks a
// connection out of the pool and returns it before the call ends, so no
// handle outlives a single request.
type Store struct {
	db   *sql.DB
	gorm *gorm.DB
	path string
}

// dsn turns a plain file path into a go-sqlite3 DSN with foreign keys, WAL,
// a busy timeout and immediate write transactions.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// Open opens (creating if needed) the store at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(100)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gdb, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite3", Conn: db}, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to attach GORM to database: %w", err)
	}

	s := &Store{db: db, gorm: gdb, path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	log.Println("store: database initialized successfully at", path)
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(ctx context.Context) error {
	err := s.gorm.WithContext(ctx).AutoMigrate(
		&models.ImageRecord{},
		&models.ObjectRecord{},
		&models.StoreMeta{},
	)
	if err != nil {
		return &StoreError{Op: "migrate", Err: err}
	}
	return nil
}

// Reset drops every record and recreates an empty schema. Calling it on an
// already empty store is a no-op.
func (s *Store) Reset(ctx context.Context) error {
	err := s.gorm.WithContext(ctx).Migrator().DropTable(
		&models.ObjectRecord{},
		&models.ImageRecord{},
		&models.StoreMeta{},
	)
	if err != nil {
		return &StoreError{Op: "reset", Err: err}
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}
	log.Printf("store: reset %s", s.path)
	return nil
}

// withConn runs fn on a pooled connection that is always released.
func (s *Store) withConn(ctx context.Context, op string, fn func(q Querier) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	defer conn.Close()
	return fn(conn)
}

// withTx runs fn inside a transaction that is rolled back unless fn
// succeeds and the commit goes through.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}
