package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/renameio/v2"

	"flux/internal/fault"
	"flux/internal/logging"
)

var handleSeq atomic.Uint64

// Handle is a playable file materialized from a blob. It stays on disk until
// Release is called or the store releases every handle.
type Handle struct {
	id       string
	path     string
	mimeType string
	size     int64

	store *Store
	once  sync.Once
	err   error
}

// ID returns the recording ID the handle was opened for.
func (h *Handle) ID() string { return h.id }

// Path returns the file location.
func (h *Handle) Path() string { return h.path }

// MIMEType returns the payload media type.
func (h *Handle) MIMEType() string { return h.mimeType }

// Size returns the payload length in bytes.
func (h *Handle) Size() int64 { return h.size }

// Release removes the file. Safe to call more than once.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.err = fmt.Errorf("release handle %s: %w", h.path, err)
		}
		if h.store != nil {
			h.store.forget(h)
		}
	})
	return h.err
}

// Materialize writes the blob for id to a scratch file. A missing blob yields
// fault.ErrRecordNotFound.
func (s *Store) Materialize(ctx context.Context, id string) (*Handle, error) {
	payload, ok, err := s.GetBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Wrap(fault.ErrRecordNotFound, "vault", "materialize", id, nil)
	}

	// The pid keeps handles from concurrent processes apart.
	name := fmt.Sprintf("%s-%d-%d%s", id, os.Getpid(), handleSeq.Add(1), payload.Extension())
	target := filepath.Join(s.handleDir, name)

	pending, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o600), renameio.WithTempDir(s.handleDir))
	if err != nil {
		return nil, fmt.Errorf("create handle file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()
	if _, err := pending.Write(payload.Data); err != nil {
		return nil, fmt.Errorf("write handle file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("commit handle file: %w", err)
	}

	handle := &Handle{
		id:       id,
		path:     target,
		mimeType: payload.MIMEType,
		size:     payload.Size(),
		store:    s,
	}
	s.mu.Lock()
	s.handles[handle] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("handle opened",
		logging.String(logging.FieldRecordingID, id),
		logging.String("path", target),
	)
	return handle, nil
}

// OpenHandles reports how many handles have not been released.
func (s *Store) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// ReleaseAll releases every outstanding handle.
func (s *Store) ReleaseAll() error {
	s.mu.Lock()
	pending := make([]*Handle, 0, len(s.handles))
	for h := range s.handles {
		pending = append(pending, h)
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range pending {
		if err := h.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) forget(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}
