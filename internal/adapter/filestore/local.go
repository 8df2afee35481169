// Package filestore keeps the raw uploaded sheets. The engine only
// needs write-and-forget semantics; the stored file is for audits and
// the export surface, never re-parsed.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rosterbatch/rosterbatch/internal/domain"
)

var _ domain.FileStore = (*Local)(nil)

// Local stores uploads on the local filesystem, one file per batch
// reference.
type Local struct {
	dir string
}

// NewLocal creates the storage directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Store(_ context.Context, reference string, data []byte) (string, error) {
	path := filepath.Join(l.dir, reference+".csv")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return "file://" + path, nil
}
