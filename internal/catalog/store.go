package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"flux/internal/config"
	"flux/internal/fault"
	"flux/internal/logging"
)

// Store manages catalog persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// writeMu serializes read-modify-write cycles within the process; the
	// immediate transaction covers other processes.
	writeMu sync.Mutex
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the catalog database at cfg.Paths.CatalogPath.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	return OpenPath(cfg.Paths.CatalogPath, logger)
}

// OpenPath initializes or connects to the catalog database at path.
func OpenPath(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure catalog directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection receives them.
	query := url.Values{}
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "synchronous(NORMAL)")
	query.Set("_txlock", "immediate")
	dsn := path + "?" + query.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{
		db:     db,
		path:   path,
		logger: logging.NewComponentLogger(logger, "catalog"),
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// List returns every recording in document order.
func (s *Store) List(ctx context.Context) ([]Recording, error) {
	raw, err := s.readDocument(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("read catalog document: %w", err)
	}
	return decodeDocument(raw)
}

// Get returns the recording with the given ID. The boolean is false when the
// catalog has no such entry.
func (s *Store) Get(ctx context.Context, id string) (Recording, bool, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Recording{}, false, err
	}
	if idx := indexOf(records, id); idx >= 0 {
		return records[idx], true, nil
	}
	return Recording{}, false, nil
}

// Upsert stores rec, replacing any existing entry with the same ID.
func (s *Store) Upsert(ctx context.Context, rec Recording) error {
	if err := rec.validate(); err != nil {
		return fault.Wrap(fault.ErrPersistenceWriteFailed, "catalog", "upsert", "", err)
	}
	_, err := s.mutate(ctx, "upsert", func(records []Recording) ([]Recording, bool) {
		out := make([]Recording, 0, len(records)+1)
		for _, existing := range records {
			if existing.ID != rec.ID {
				out = append(out, existing)
			}
		}
		return append(out, rec), true
	})
	if err == nil {
		s.logger.Debug("catalog entry stored", logging.String(logging.FieldRecordingID, rec.ID))
	}
	return err
}

// IncrementViews adds one view to the recording. It reports false, and leaves
// the catalog untouched, when the ID is unknown.
func (s *Store) IncrementViews(ctx context.Context, id string) (bool, error) {
	return s.mutate(ctx, "increment_views", func(records []Recording) ([]Recording, bool) {
		idx := indexOf(records, id)
		if idx < 0 {
			return records, false
		}
		records[idx].Views++
		return records, true
	})
}

// RecordCompletion raises the completion high-water mark to percent (clamped
// to 0..100). Lower values never reduce it. It reports false when the ID is
// unknown.
func (s *Store) RecordCompletion(ctx context.Context, id string, percent float64) (bool, error) {
	percent = ClampPercent(percent)
	var found bool
	_, err := s.mutate(ctx, "record_completion", func(records []Recording) ([]Recording, bool) {
		idx := indexOf(records, id)
		if idx < 0 {
			return records, false
		}
		found = true
		if percent <= records[idx].CompletionRate {
			return records, false
		}
		records[idx].CompletionRate = percent
		return records, true
	})
	return found, err
}

// Stats summarizes the catalog.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Count: len(records)}
	for _, rec := range records {
		stats.TotalBytes += rec.Size
		stats.TotalViews += rec.Views
	}
	return stats, nil
}

// RawDocument returns the stored document bytes, or "[]" when nothing has been
// stored yet.
func (s *Store) RawDocument(ctx context.Context) ([]byte, error) {
	raw, err := s.readDocument(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return []byte("[]"), nil
	}
	return []byte(raw), nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readDocument(ctx context.Context, q querier) (string, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", DocumentKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return raw, err
}

// mutate runs fn against the current document inside one immediate
// transaction. fn reports whether it changed anything; unchanged documents are
// not rewritten.
func (s *Store) mutate(ctx context.Context, op string, fn func([]Recording) ([]Recording, bool)) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var changed bool
	err := retryOnBusy(ctx, func() error {
		changed = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		raw, err := s.readDocument(ctx, tx)
		if err != nil {
			return err
		}
		records, err := decodeDocument(raw)
		if err != nil {
			return err
		}
		next, dirty := fn(records)
		if !dirty {
			return nil
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			DocumentKey, string(encoded), time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, fault.Wrap(fault.ErrPersistenceWriteFailed, "catalog", op, "", err)
	}
	return changed, nil
}

func decodeDocument(raw string) ([]Recording, error) {
	if strings.TrimSpace(raw) == "" {
		return []Recording{}, nil
	}
	var records []Recording
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode catalog document: %w", err)
	}
	if records == nil {
		records = []Recording{}
	}
	return records, nil
}

func indexOf(records []Recording, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
