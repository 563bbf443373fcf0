package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"folio/internal/store"
)

var _ store.BlobStore = (*LocalStore)(nil)

// LocalStore keeps blobs on the local filesystem. It backs the BlobStore
// boundary in development and tests; production swaps in an object-storage
// implementation behind the same interface.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "folio-blobs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Fetch reads the blob for a ref previously returned by Store.
func (l *LocalStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	name := filepath.Base(ref) // refs never escape the store directory
	data, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("blob: fetch %s: %w", ref, err)
	}
	return data, nil
}

// Store persists data under a fresh ref. hint contributes a recognizable
// suffix for operators poking at the directory.
func (l *LocalStore) Store(_ context.Context, data []byte, hint string) (string, error) {
	name := uuid.NewString()
	if hint != "" {
		name += "-" + sanitize(hint)
	}
	if err := os.WriteFile(filepath.Join(l.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("blob: store %s: %w", name, err)
	}
	return name, nil
}

func sanitize(hint string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, hint)
}
