// Package provider supplies raw messages for ingestion: a directory of
// .eml files or a Gmail mailbox.
package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"grievance_server/core/port/out"
	"grievance_server/pkg/logger"
)

var _ out.MailSource = (*DirSource)(nil)

// DirSource reads every *.eml file in a directory, sorted by file name.
// File name order is the arrival order used for threading.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Name() string { return "dir" }

// Fetch returns the files in name order. A file that cannot be read is
// logged and left out; a missing directory is an error.
func (s *DirSource) Fetch(ctx context.Context) ([]out.RawEmail, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read mail dir %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	emails := make([]out.RawEmail, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			logger.Warn("[DirSource] skipping unreadable file %s: %v", name, err)
			continue
		}
		emails = append(emails, out.RawEmail{Name: name, Data: data})
	}
	return emails, nil
}

// Load returns one file's bytes. It backs raw downloads when no archive
// store is configured.
func (s *DirSource) Load(_ context.Context, fileName string) ([]byte, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || fileName == ".." {
		return nil, out.ErrObjectNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, fileName))
	if os.IsNotExist(err) {
		return nil, out.ErrObjectNotFound
	}
	return data, err
}

// Save writes a raw message into the directory unless a file of that name
// already exists.
func (s *DirSource) Save(_ context.Context, fileName, _ string, raw []byte) error {
	if fileName == "" || fileName != filepath.Base(fileName) || fileName == ".." {
		return fmt.Errorf("invalid file name %q", fileName)
	}
	path := filepath.Join(s.dir, fileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
