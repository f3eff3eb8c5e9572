// Package extractor unpacks chapter archives into a scratch directory.
package extractor

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

// Backend names accepted by New.
const (
	BackendNative = "native"
	BackendUnrar  = "unrar"
)

// Config selects and configures an extraction backend.
type Config struct {
	Backend   string
	UnrarPath string
}

// New returns the extractor selected by cfg.Backend.
func New(cfg Config, logger *zap.Logger) (chapter.Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNative:
		return NewNative(logger), nil
	case BackendUnrar:
		return NewUnrar(cfg.UnrarPath, logger), nil
	default:
		return nil, fmt.Errorf("unknown extract backend %q", cfg.Backend)
	}
}

var errEscapes = errors.New("entry escapes destination")

// safeJoin resolves an archive entry name below destDir.
func safeJoin(destDir, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", errEscapes, name)
	}
	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errEscapes, name)
	}
	return target, nil
}

// wrap classifies err: filesystem errors are local I/O, anything else means the
// archive itself is unreadable.
func wrap(archivePath string, err error) error {
	kind := chapter.ExtractCorrupt
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		kind = chapter.ExtractIO
	}
	return &chapter.ExtractError{Kind: kind, Archive: archivePath, Err: err}
}
