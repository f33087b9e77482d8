package artifact

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vk/reconpipe/internal/ctxlog"
)

//go:embed schema.sql
var schemaSQL string

// LedgerFileName is the name of the ledger database inside a subject's
// working directory.
const LedgerFileName = "ledger.db"

// ErrUnknownArtifact is returned when an operation names a key the ledger
// has never seen.
var ErrUnknownArtifact = errors.New("unknown artifact key")

// Store is the SQLite-backed artifact ledger for one subject directory.
//
// SQLite runs in WAL mode with a single connection; the scheduler funnels
// all mutation through its coordination loop, so the store itself only needs
// to be safe for that single writer plus read-only inspection commands.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger inside the given subject directory.
// Idempotent: the schema is applied on every open.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating subject directory: %w", err)
	}

	path := filepath.Join(dir, LedgerFileName)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to ledger: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under concurrent stage completions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the ledger database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record registers an artifact key with its filesystem path. New keys start
// as missing; re-recording an existing key updates the path and keeps the
// stored status, so ledgers survive pipeline-definition edits that only move
// files.
func (s *Store) Record(ctx context.Context, key, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, path, status)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET path = excluded.path
	`, key, path, StatusMissing)
	if err != nil {
		return fmt.Errorf("record artifact %q: %w", key, err)
	}
	return nil
}

// RecordSeed registers an externally supplied input as pre-complete after
// verifying it exists and is non-empty.
func (s *Store) RecordSeed(ctx context.Context, key, path string) error {
	if err := verifyFile(key, path); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, path, status)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET path = excluded.path, status = excluded.status, reason = ''
	`, key, path, StatusComplete)
	if err != nil {
		return fmt.Errorf("record seed %q: %w", key, err)
	}
	return nil
}

// Get returns the full ledger entry for a key.
func (s *Store) Get(ctx context.Context, key string) (Artifact, error) {
	var a Artifact
	err := s.db.QueryRowContext(ctx, `
		SELECT key, path, status, reason FROM artifacts WHERE key = ?
	`, key).Scan(&a.Key, &a.Path, &a.Status, &a.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrUnknownArtifact, key)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("get artifact %q: %w", key, err)
	}
	return a, nil
}

// Status returns the stored status for a key.
func (s *Store) Status(ctx context.Context, key string) (Status, error) {
	a, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return a.Status, nil
}

// MarkInProgress transitions an artifact to in-progress when its producing
// stage starts.
func (s *Store) MarkInProgress(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusInProgress, "")
}

// MarkComplete transitions an artifact to complete after verifying its
// backing file exists and is non-empty; otherwise it returns a
// *ValidationError and leaves the entry untouched. Calling MarkComplete on
// an already-complete artifact is a no-op.
func (s *Store) MarkComplete(ctx context.Context, key string) error {
	a, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if a.Status == StatusComplete {
		return nil
	}
	if err := verifyFile(key, a.Path); err != nil {
		return err
	}
	return s.setStatus(ctx, key, StatusComplete, "")
}

// MarkInvalid transitions an artifact to invalid with a reason.
func (s *Store) MarkInvalid(ctx context.Context, key, reason string) error {
	return s.setStatus(ctx, key, StatusInvalid, reason)
}

// All returns every ledger entry, sorted by key for deterministic output.
func (s *Store) All(ctx context.Context) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, path, status, reason FROM artifacts ORDER BY key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Key, &a.Path, &a.Status, &a.Reason); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

// Reconcile re-checks every complete entry against the filesystem and
// demotes entries whose backing file is gone or empty to invalid. This is
// what makes Status filesystem-truth rather than cache-truth after a crash
// or manual deletion between runs. Returns the demoted keys.
func (s *Store) Reconcile(ctx context.Context) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	var demoted []string
	for _, a := range all {
		if a.Status != StatusComplete {
			// A stage that died mid-run leaves in-progress entries behind;
			// they are not trustworthy either.
			if a.Status == StatusInProgress {
				if err := s.setStatus(ctx, a.Key, StatusMissing, ""); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := verifyFile(a.Key, a.Path); err != nil {
			logger.Warn("Ledger entry no longer backed by a valid file, demoting.", "key", a.Key, "path", a.Path)
			if err := s.setStatus(ctx, a.Key, StatusInvalid, "backing file missing or empty"); err != nil {
				return nil, err
			}
			demoted = append(demoted, a.Key)
		}
	}
	return demoted, nil
}

// Reset marks every entry missing. Used by force (non-resume) runs so a
// fresh run starts from a consistent ledger regardless of prior state.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET status = ?, reason = ''
	`, StatusMissing); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, key string, status Status, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE artifacts
		SET status = ?, reason = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE key = ?
	`, status, reason, key)
	if err != nil {
		return fmt.Errorf("update artifact %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update artifact %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownArtifact, key)
	}
	return nil
}

func verifyFile(key, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ValidationError{Key: key, Path: path, Reason: "file does not exist"}
	}
	if info.IsDir() {
		return &ValidationError{Key: key, Path: path, Reason: "path is a directory"}
	}
	if info.Size() == 0 {
		return &ValidationError{Key: key, Path: path, Reason: "file is empty"}
	}
	return nil
}
