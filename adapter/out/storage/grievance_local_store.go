package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"grievance_server/core/port/out"
	"grievance_server/pkg/metrics"
)

var _ out.AttachmentStore = (*LocalStore)(nil)

// LocalStore keeps attachments as files in one directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Put(_ context.Context, key, _ string, data []byte) error {
	if !ValidKey(key) {
		return fmt.Errorf("invalid attachment key %q", key)
	}
	path := filepath.Join(s.dir, key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	// Write then rename so readers never see a partial file.
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	err = os.Rename(tmp.Name(), path)
	metrics.StorageOps.WithLabelValues("local", "put", metrics.Result(err)).Inc()
	return err
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, int64, error) {
	if !ValidKey(key) {
		return nil, 0, out.ErrObjectNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, out.ErrObjectNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
