package reportstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/andrej220/autopilot/internal/persistence"
)

// FileStore writes each record to <Dir>/<id>.json.
type FileStore struct {
	Dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// path only accepts uuids so ids can never escape Dir.
func (f *FileStore) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid run id %q: %w", id, err)
	}
	return filepath.Join(f.Dir, id+".json"), nil
}

func (f *FileStore) Save(ctx context.Context, rec RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := f.path(rec.ID)
	if err != nil {
		return err
	}
	return persistence.WriteJSON(rec, p)
}

func (f *FileStore) Load(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	p, err := f.path(id)
	if err != nil {
		return rec, ErrNotFound
	}
	if err := persistence.ReadJSON(p, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	return rec, nil
}
