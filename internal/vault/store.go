package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sys/unix"

	"flux/internal/config"
	"flux/internal/fault"
	"flux/internal/logging"
	"flux/internal/media"
)

// DefaultChunkSize bounds each stored value so large recordings stay well
// below Badger's value log file size.
const DefaultChunkSize = 8 << 20

// DefaultLockWait bounds how long an operation waits for another process to
// release the Badger directory lock.
const DefaultLockWait = 10 * time.Second

const (
	lockRetryInitial = 20 * time.Millisecond
	lockRetryMax     = 500 * time.Millisecond
)

var (
	errChecksumMismatch = errors.New("blob checksum mismatch")
	errClosed           = errors.New("vault closed")
)

type manifest struct {
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Chunks   int    `json:"chunks"`
	SHA256   string `json:"sha256"`
}

// Store is the Badger-backed blob store.
//
// Badger allows one process per directory. A shared store opens the database
// only for the duration of each operation, so several flux processes can read
// and write the vault in turn while their handle files stay on disk.
type Store struct {
	dir       string
	handleDir string
	chunkSize int
	shared    bool
	lockWait  time.Duration
	logger    *slog.Logger

	dbMu   sync.Mutex
	db     *badger.DB
	closed bool

	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// Option customizes a Store.
type Option func(*Store)

// WithChunkSize overrides the chunk size; values <= 0 are ignored.
func WithChunkSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithSharedAccess keeps the database closed between operations.
func WithSharedAccess() Option {
	return func(s *Store) {
		s.shared = true
	}
}

// WithLockWait sets how long an open waits for the directory lock held by
// another process. Zero fails on the first conflict.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.lockWait = d
		}
	}
}

// Open opens the vault at cfg.Paths.VaultDir, materializing handles under
// cfg.Paths.ScratchDir/handles.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	return OpenDir(cfg.Paths.VaultDir, filepath.Join(cfg.Paths.ScratchDir, "handles"), logger, opts...)
}

// OpenDir opens the vault at dir with handles written to handleDir.
func OpenDir(dir, handleDir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	logger = logging.NewComponentLogger(logger, "vault")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure vault directory: %w", err)
	}
	if err := os.MkdirAll(handleDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure handle directory: %w", err)
	}

	store := &Store{
		dir:       dir,
		handleDir: handleDir,
		chunkSize: DefaultChunkSize,
		lockWait:  DefaultLockWait,
		logger:    logger,
		handles:   make(map[*Handle]struct{}),
	}
	for _, opt := range opts {
		opt(store)
	}

	// Opening once up front surfaces a corrupt or unwritable vault early.
	db, err := store.openDB(context.Background())
	if err != nil {
		return nil, err
	}
	if store.shared {
		if err := db.Close(); err != nil {
			return nil, fmt.Errorf("close vault: %w", err)
		}
	} else {
		store.db = db
	}
	return store, nil
}

// Close releases outstanding handles and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	releaseErr := s.ReleaseAll()
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	s.closed = true
	var closeErr error
	if s.db != nil {
		closeErr = s.db.Close()
		s.db = nil
	}
	return errors.Join(releaseErr, closeErr)
}

// openDB opens Badger, retrying with backoff while another process holds the
// directory lock.
func (s *Store) openDB(ctx context.Context) (*badger.DB, error) {
	opts := badger.DefaultOptions(s.dir).WithLogger(badgerLogger{logger: s.logger})
	deadline := time.Now().Add(s.lockWait)
	delay := lockRetryInitial
	for attempt := 1; ; attempt++ {
		db, err := badger.Open(opts)
		if err == nil {
			if attempt > 1 {
				s.logger.Debug("vault lock acquired", logging.Int("attempts", attempt))
			}
			return db, nil
		}
		if !isDirLocked(err) || !time.Now().Add(delay).Before(deadline) {
			return nil, fmt.Errorf("open vault: %w", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay = min(delay*2, lockRetryMax)
	}
}

func isDirLocked(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || strings.Contains(err.Error(), "Cannot acquire directory lock")
}

// withDB runs fn against the database, opening it for the call when the store
// is shared.
func (s *Store) withDB(ctx context.Context, fn func(*badger.DB) error) error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.closed {
		return errClosed
	}
	if s.db != nil {
		return fn(s.db)
	}
	db, err := s.openDB(ctx)
	if err != nil {
		return err
	}
	fnErr := fn(db)
	if closeErr := db.Close(); closeErr != nil && fnErr == nil {
		return fmt.Errorf("close vault: %w", closeErr)
	}
	return fnErr
}

func manifestKey(id string) []byte { return []byte("meta:" + id) }

func chunkKey(id string, n int) []byte { return []byte(fmt.Sprintf("blob:%s:%06d", id, n)) }

func validateID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, ":/\\") {
		return fmt.Errorf("invalid recording id %q", id)
	}
	return nil
}

// PutBlob writes payload under id, replacing any previous blob in one transaction.
func (s *Store) PutBlob(ctx context.Context, id string, payload media.Payload) error {
	if err := validateID(id); err != nil {
		return fault.Wrap(fault.ErrPersistenceWriteFailed, "vault", "put", "", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sum := sha256.Sum256(payload.Data)
	chunks := (len(payload.Data) + s.chunkSize - 1) / s.chunkSize
	meta := manifest{
		MIMEType: payload.MIMEType,
		Size:     payload.Size(),
		Chunks:   chunks,
		SHA256:   hex.EncodeToString(sum[:]),
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fault.Wrap(fault.ErrPersistenceWriteFailed, "vault", "put", "encode manifest", err)
	}

	err = s.withDB(ctx, func(db *badger.DB) error {
		return db.Update(func(txn *badger.Txn) error {
			previous, err := readManifest(txn, id)
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			for n := 0; n < chunks; n++ {
				start := n * s.chunkSize
				end := min(start+s.chunkSize, len(payload.Data))
				if err := txn.Set(chunkKey(id, n), payload.Data[start:end]); err != nil {
					return err
				}
			}
			for n := chunks; n < previous.Chunks; n++ {
				if err := txn.Delete(chunkKey(id, n)); err != nil {
					return err
				}
			}
			return txn.Set(manifestKey(id), encoded)
		})
	})
	if err != nil {
		return fault.Wrap(fault.ErrPersistenceWriteFailed, "vault", "put", "", err)
	}
	s.logger.Debug("blob stored",
		logging.String(logging.FieldRecordingID, id),
		logging.Int64("bytes", meta.Size),
		logging.Int("chunks", chunks),
	)
	return nil
}

// GetBlob returns the payload stored under id. The boolean is false when no
// blob exists.
func (s *Store) GetBlob(ctx context.Context, id string) (media.Payload, bool, error) {
	if validateID(id) != nil {
		return media.Payload{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		return media.Payload{}, false, err
	}

	var payload media.Payload
	err := s.withDB(ctx, func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			meta, err := readManifest(txn, id)
			if err != nil {
				return err
			}
			data := make([]byte, 0, meta.Size)
			for n := 0; n < meta.Chunks; n++ {
				item, err := txn.Get(chunkKey(id, n))
				if err != nil {
					return fmt.Errorf("chunk %d: %w", n, err)
				}
				if err := item.Value(func(val []byte) error {
					data = append(data, val...)
					return nil
				}); err != nil {
					return err
				}
			}
			sum := sha256.Sum256(data)
			if hex.EncodeToString(sum[:]) != meta.SHA256 {
				return errChecksumMismatch
			}
			payload = media.Payload{Data: data, MIMEType: meta.MIMEType}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return media.Payload{}, false, nil
	}
	if err != nil {
		return media.Payload{}, false, fmt.Errorf("read blob %s: %w", id, err)
	}
	return payload, true, nil
}

// HasBlob reports whether a complete blob exists for id.
func (s *Store) HasBlob(ctx context.Context, id string) (bool, error) {
	if validateID(id) != nil {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.withDB(ctx, func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			_, err := readManifest(txn, id)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", id, err)
	}
	return true, nil
}

// IDs lists every stored blob ID.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.withDB(ctx, func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte("meta:")
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), "meta:"))
			}
			return nil
		})
	})
	return ids, err
}

func readManifest(txn *badger.Txn, id string) (manifest, error) {
	var meta manifest
	item, err := txn.Get(manifestKey(id))
	if err != nil {
		return meta, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	return meta, err
}

// badgerLogger routes Badger's internal logging into slog. Info and debug
// chatter is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), logging.String(logging.FieldEventType, "badger"))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), logging.String(logging.FieldEventType, "badger"))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
