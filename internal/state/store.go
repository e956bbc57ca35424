// Package state is the durable side of the gateway: a versioned
// relational store for check-ins, journal entries, and long-term
// memories, an LLM decision engine that chooses what to write after
// each turn, and an optional file projection of every write.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/mobius/internal/config"
)

var (
	// ErrPendingMigrations means the schema is behind and auto_migrate
	// is off. Startup must not proceed on an unexpected schema.
	ErrPendingMigrations = errors.New("pending state migrations")

	// ErrSchemaOutOfRange means the applied schema version is outside
	// the range this binary supports.
	ErrSchemaOutOfRange = errors.New("state schema version out of supported range")

	// ErrNotReady guards writes against an uninitialized store.
	ErrNotReady = errors.New("state store not ready")
)

// Status is a point-in-time snapshot of the store's health, shaped for
// the diagnostics endpoint.
type Status struct {
	Enabled              bool     `json:"enabled"`
	Configured           bool     `json:"configured"`
	Connected            bool     `json:"connected"`
	Ready                bool     `json:"ready"`
	AutoMigrate          bool     `json:"auto_migrate"`
	Driver               string   `json:"driver,omitempty"`
	ProjectionMode       string   `json:"projection_mode"`
	ProjectionDirectory  string   `json:"projection_directory"`
	MinSupportedVersion  string   `json:"min_supported_schema_version"`
	MaxSupportedVersion  string   `json:"max_supported_schema_version"`
	CurrentSchemaVersion string   `json:"current_schema_version,omitempty"`
	PendingMigrations    []string `json:"pending_migrations"`
	MigrationsApplied    []string `json:"migrations_applied"`
	Error                string   `json:"error,omitempty"`
}

// Store owns the database handle and the write paths. One Store per
// process; all methods are safe for concurrent use.
type Store struct {
	cfg config.StateConfig
	log *slog.Logger

	db *sql.DB
	d  dialect

	mu     sync.RWMutex
	status Status
}

// NewStore builds an uninitialized store. Initialize must run before
// any reads or writes.
func NewStore(cfg config.StateConfig) *Store {
	return &Store{
		cfg: cfg,
		log: slog.With("component", "state"),
		status: Status{
			Enabled:             cfg.Enabled,
			Configured:          cfg.Database.DSN != "",
			Ready:               !cfg.Enabled,
			AutoMigrate:         cfg.AutoMigrate,
			ProjectionMode:      cfg.Projection.Mode,
			ProjectionDirectory: cfg.Projection.OutputDirectory,
			MinSupportedVersion: MinSchemaVersion,
			MaxSupportedVersion: MaxSchemaVersion,
			PendingMigrations:   []string{},
			MigrationsApplied:   []string{},
		},
	}
}

// Status returns a copy of the current status snapshot.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.PendingMigrations = append([]string(nil), s.status.PendingMigrations...)
	st.MigrationsApplied = append([]string(nil), s.status.MigrationsApplied...)
	return st
}

// Ready reports whether the store can serve reads and writes. A
// disabled store is ready by definition: nothing depends on it.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Ready
}

// Enabled reports whether the state subsystem is configured on.
func (s *Store) Enabled() bool { return s.cfg.Enabled }

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize opens the database, ensures the migrations table, applies
// pending migrations (when auto_migrate allows), and gates on the
// supported schema range. Any failure leaves the store not-ready with
// the error recorded in status; the caller decides whether that is
// fatal.
func (s *Store) Initialize(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.initialize(ctx); err != nil {
		s.mu.Lock()
		s.status.Connected = false
		s.status.Ready = false
		s.status.Error = err.Error()
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.cfg.Database.DSN == "" {
		return errors.New("state enabled but MOBIUS_STATE_DSN is not set")
	}

	d, dsn, err := dialectForDSN(s.cfg.Database.DSN)
	if err != nil {
		return err
	}
	s.d = d
	s.mu.Lock()
	s.status.Driver = d.Name()
	s.mu.Unlock()

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}

	connectTimeout := time.Duration(s.cfg.ConnectTimeoutSeconds) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("connect state database (%s): %w", redactDSN(s.cfg.Database.DSN), err)
	}
	s.db = db

	if _, err := db.ExecContext(ctx, d.EnsureMigrationsTableSQL()); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	var pending []string
	for _, version := range migrationVersions() {
		if _, ok := applied[version]; !ok {
			pending = append(pending, version)
		}
	}

	s.mu.Lock()
	s.status.PendingMigrations = append([]string{}, pending...)
	s.mu.Unlock()

	if len(pending) > 0 && !s.cfg.AutoMigrate {
		return fmt.Errorf("%w: %v (enable state.auto_migrate or apply manually)", ErrPendingMigrations, pending)
	}

	for _, m := range s.d.Migrations() {
		if _, ok := applied[m.version]; ok {
			continue
		}
		s.log.Info("applying state migration", "version", m.version)
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		s.mu.Lock()
		s.status.MigrationsApplied = append(s.status.MigrationsApplied, m.version)
		s.mu.Unlock()
	}

	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}
	if current == "" {
		return errors.New("no state schema version detected after initialization")
	}
	if current < MinSchemaVersion || current > MaxSchemaVersion {
		return fmt.Errorf("%w: current=%s supported=[%s, %s]", ErrSchemaOutOfRange, current, MinSchemaVersion, MaxSchemaVersion)
	}

	s.mu.Lock()
	s.status.Connected = true
	s.status.Ready = true
	s.status.CurrentSchemaVersion = current
	s.status.PendingMigrations = []string{}
	s.status.Error = ""
	s.mu.Unlock()

	s.log.Info("state store ready", "driver", s.d.Name(), "schema", current)
	return nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = struct{}{}
	}
	return applied, rows.Err()
}

func (s *Store) currentVersion(ctx context.Context) (string, error) {
	var current sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&current)
	if err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	return current.String, nil
}

// applyMigration runs one migration and records its version in the
// same transaction. The insert is conflict-ignored so concurrent
// starters do not race each other into an error.
func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	insert := s.d.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2) ON CONFLICT DO NOTHING")
	if _, err := tx.ExecContext(ctx, insert, m.version, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}
