package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Export writes the catalog document, indented, to path. The file is replaced
// atomically so a reader never observes a partial export.
func (s *Store) Export(ctx context.Context, path string) (int, error) {
	raw, err := s.RawDocument(ctx)
	if err != nil {
		return 0, fmt.Errorf("read catalog document: %w", err)
	}
	records, err := decodeDocument(string(raw))
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return 0, fmt.Errorf("format catalog document: %w", err)
	}
	buf.WriteByte('\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("ensure export directory: %w", err)
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return 0, fmt.Errorf("create pending export file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("replace export file: %w", err)
	}
	return len(records), nil
}
