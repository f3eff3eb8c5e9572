// Package file implements a newline-delimited ledger file.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the ledger lock.
var ErrLocked = errors.New("ledger file is locked by another process")

// Config captures the ledger file location.
type Config struct {
	Path string `mapstructure:"path"`
}

// Store appends one link per line and never rewrites existing lines.
type Store struct {
	path string
	lock *flock.Flock

	mu sync.Mutex
	// tornTail is set when the file ends mid-line; the next append starts
	// with a newline so the fragment stays on its own line.
	tornTail bool
}

// New acquires an advisory lock next to the ledger file.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	lock := flock.New(cfg.Path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Store{path: cfg.Path, lock: lock}, nil
}

// Load reads every complete line. A missing file is an empty ledger and a
// trailing line without newline is treated as a torn write and ignored.
func (s *Store) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.tornTail = len(data) > 0 && data[len(data)-1] != '\n'
	s.mu.Unlock()

	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		data = nil
	}
	var links []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			links = append(links, line)
		}
	}
	return links, nil
}

// Append writes link with a single O_APPEND write and fsyncs it.
func (s *Store) Append(_ context.Context, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", s.path, err)
	}
	line := link + "\n"
	if s.tornTail {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write ledger %s: %w", s.path, err)
	}
	s.tornTail = false
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger %s: %w", s.path, err)
	}
	return nil
}

// Close releases the advisory lock.
func (s *Store) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock ledger: %w", err)
	}
	return nil
}
