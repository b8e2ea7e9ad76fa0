package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/models"
)

// FileStore writes one JSON file per record, named conversation-<id>.json.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first write if it does not exist.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, "conversation-"+id+".json")
}

func (s *FileStore) Persist(ctx context.Context, rec *models.ConversationRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := models.NewID()
	data, err := encode(rec, id)
	if err != nil {
		return "", apperr.Storage("encode conversation", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", apperr.Storage("create storage directory", err)
	}
	if err := writeFileSync(s.dir, s.path(id), data); err != nil {
		return "", apperr.Storage("write conversation", err)
	}
	return id, nil
}

func (s *FileStore) Locate(ctx context.Context, id string) (*models.ConversationRecord, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage("read conversation", err)
	}
	rec, err := decode(data)
	if err != nil {
		return nil, apperr.Storage("decode conversation", err)
	}
	return rec, nil
}

// writeFileSync writes data to a temp file in dir, fsyncs it, renames it
// into place and fsyncs the directory so the entry survives a crash.
func writeFileSync(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, ".conversation-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err = d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
