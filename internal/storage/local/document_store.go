// Package local implements the output document store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

// Config captures the parameters for the local document store.
type Config struct {
	// BaseDir is the output directory documents are written to.
	BaseDir string `mapstructure:"dir" yaml:"dir"`
}

// DocumentStore writes finished documents into a directory and never
// overwrites an existing one.
type DocumentStore struct {
	baseDir string
}

// New creates the store, creating BaseDir if needed and checking it is writable.
func New(cfg Config) (*DocumentStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %s is not a directory", cfg.BaseDir)
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	return &DocumentStore{baseDir: abs}, nil
}

// Dir returns the absolute output directory.
func (s *DocumentStore) Dir() string {
	return s.baseDir
}

// Exists reports whether name is already stored and returns its path.
func (s *DocumentStore) Exists(name string) (string, bool) {
	full, err := s.resolve(name)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return full, false
	}
	return full, true
}

// Put writes data under name and returns the document path. The content is
// staged in a temporary file and linked into place, so readers never see a
// partial document; an existing document yields chapter.ErrExists.
func (s *DocumentStore) Put(ctx context.Context, name string, data io.Reader) (string, error) {
	full, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(full); err == nil {
		return full, chapter.ErrExists
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.baseDir, ".staging-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	_, copyErr := io.Copy(tmp, data)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}

	// Link fails when the target exists, unlike Rename.
	if err := os.Link(tmpName, full); err != nil {
		if os.IsExist(err) {
			return full, chapter.ErrExists
		}
		return "", fmt.Errorf("failed to publish document: %w", err)
	}
	return full, nil
}

func (s *DocumentStore) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("document name is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, name))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

var _ chapter.DocumentStore = (*DocumentStore)(nil)
