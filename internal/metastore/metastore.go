// Package metastore is the C3 Metadata Store: durable relational
// storage for pending memories, the identity-schema audit trail,
// checklist items, and archived session states, backed by
// modernc.org/sqlite with the same single-writer, WAL-mode discipline
// and stale-WAL self-healing used elsewhere in the corpus for its
// embedded SQLite store.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is the metadata store. SQLite only tolerates one writer at a
// time; db.SetMaxOpenConns(1) serializes every statement through a
// single connection and writeMu additionally serializes the store's
// write methods (TryLock's single conditional UPDATE among them) and
// any multi-statement write run through WithWriteLock.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens dsn, enables WAL mode, and applies the schema. If the
// initial open fails with a WAL-locking error and the WAL side files
// are stale (no process holds them), it removes them and retries once.
func Open(dsn string) (*Store, error) {
	store, err := openStore(dsn)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath)

	store, retryErr := openStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("metastore: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("metastore: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func openStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metastore: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("metastore: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metastore: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for table-specific queries beyond the
// store's own methods.
func (s *Store) DB() *sql.DB { return s.db }

// WithWriteLock serializes fn against every other metastore writer.
// Used by callers that must execute more than one statement as a single
// logical write (e.g. insert-then-archive).
func (s *Store) WithWriteLock(fn func(ctx context.Context, db *sql.DB) error, ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(ctx, s.db)
}

// TryLock implements the optimistic-lock primitive shared by the
// Governor and the approval flow: a single atomic
// UPDATE ... SET status = newStatus WHERE id = ? AND status = expectedStatus,
// succeeding iff exactly one row was affected. No read-then-write.
func (s *Store) TryLock(ctx context.Context, table, id, expectedStatus, newStatus string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	idCol, err := idColumn(table)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(
		`UPDATE %s SET status = ?, updated_at = ? WHERE %s = ? AND status = ?`,
		table, idCol,
	)
	res, err := s.db.ExecContext(ctx, query, newStatus, nowRFC3339(), id, expectedStatus)
	if err != nil {
		return false, fmt.Errorf("metastore: try_lock %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("metastore: try_lock %s rows affected: %w", table, err)
	}
	return n == 1, nil
}

// Unlock is the inverse of TryLock, used to roll a row back to
// backToStatus during write-path compensation. It is unconditional: the
// caller already knows it holds the lock (it is the same process that
// set newStatus in TryLock).
func (s *Store) Unlock(ctx context.Context, table, id, backToStatus string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	idCol, err := idColumn(table)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE %s = ?`, table, idCol)
	_, err = s.db.ExecContext(ctx, query, backToStatus, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("metastore: unlock %s: %w", table, err)
	}
	return nil
}

func idColumn(table string) (string, error) {
	switch table {
	case "pending_memories":
		return "id", nil
	case "identity_changes":
		return "change_id", nil
	default:
		return "", fmt.Errorf("metastore: try_lock: unknown table %q", table)
	}
}

func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("metastore: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
