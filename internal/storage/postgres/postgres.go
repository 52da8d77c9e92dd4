package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/goodtune/classlog/internal/config"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements the storage.Store interface using PostgreSQL
type Store struct {
	db              *sqlx.DB
	sessionStore    *sessionStore
	attendanceStore *attendanceStore
	studentStore    *studentStore
}

// Open connects to PostgreSQL and, when configured, applies pending migrations
func Open(cfg config.PostgresConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return newStore(db), nil
}

func newStore(db *sqlx.DB) *Store {
	return &Store{
		db:              db,
		sessionStore:    &sessionStore{db: db},
		attendanceStore: &attendanceStore{db: db},
		studentStore:    &studentStore{db: db},
	}
}

// Migrate applies the embedded goose migrations
func Migrate(db *sqlx.DB) error {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// MigrationVersion reports the current schema version
func MigrationVersion(db *sqlx.DB) (int64, error) {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.GetDBVersion(db.DB)
}

// DB exposes the underlying connection for the migrate command
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Attendance returns the AttendanceStore implementation
func (s *Store) Attendance() storage.AttendanceStore {
	return s.attendanceStore
}

// Students returns the StudentStore implementation
func (s *Store) Students() storage.StudentStore {
	return s.studentStore
}
