// Package store is the single persistence choke point: a generic
// parameterized statement builder and executor over the registered schema.
// All failures degrade to Result.OK == false with a logged diagnostic;
// nothing escapes the boundary as an error or a panic.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"bibliocore/internal/schema"
)

const (
	busyTimeoutMS = 5000
	maxRetries    = 3
)

// Store executes generic actions against a local SQLite database.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// Open opens (or creates) the SQLite database at path, applies the registered
// schema, and returns a ready store. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	// Declared foreign keys stay unenforced: referential integrity between
	// loans and their book/client is a repository-level check, and closed
	// historical records must not pin deleted entities.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeoutMS)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single logical writer: the core is designed for one synchronous
	// session, and a single connection keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	for _, def := range schema.All() {
		if _, err := db.Exec(def.CreateSQL()); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table %s: %w", def.Name, err)
		}
	}

	return &Store{
		db:     db,
		tracer: otel.Tracer("bibliocore/store"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// retry runs op, retrying transient lock contention with bounded backoff.
func (s *Store) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	return backoff.Retry(func() error {
		return classify(op())
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
}

// classify marks everything except SQLITE_BUSY/SQLITE_LOCKED as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return err
	}
	return backoff.Permanent(err)
}

func logFailure(action Action, table schema.Table, err error) {
	log.Printf("store: %s on %s failed: %v", action, table, err)
}
