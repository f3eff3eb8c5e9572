package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

// unrar exit codes that mean the archive content is bad.
const (
	unrarFatal = 2
	unrarCRC   = 3
)

// Unrar extracts archives by running the unrar command.
type Unrar struct {
	path   string
	logger *zap.Logger
}

// NewUnrar builds an Unrar extractor using the binary at path (looked up on PATH
// when it has no directory component).
func NewUnrar(path string, logger *zap.Logger) *Unrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(path) == "" {
		path = "unrar"
	}
	return &Unrar{path: path, logger: logger}
}

// Extract runs `unrar x -o+ -y <archive> <dest>/`.
func (u *Unrar) Extract(ctx context.Context, archivePath string, destDir string) error {
	bin, err := exec.LookPath(u.path)
	if err != nil {
		u.logger.Error("unrar binary not available",
			zap.String("path", u.path),
			zap.String("severity", chapter.SeverityEnvironment),
			zap.Error(err),
		)
		return &chapter.ExtractError{Kind: chapter.ExtractToolUnavailable, Archive: archivePath, Err: err}
	}
	if _, err := os.Stat(archivePath); err != nil {
		return &chapter.ExtractError{Kind: chapter.ExtractIO, Archive: archivePath, Err: err}
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return &chapter.ExtractError{Kind: chapter.ExtractIO, Archive: archivePath, Err: err}
	}

	var stderr bytes.Buffer
	// #nosec G204 -- the binary comes from configuration and arguments are paths.
	cmd := exec.CommandContext(ctx, bin, "x", "-o+", "-y", archivePath, filepath.Clean(destDir)+string(filepath.Separator))
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("extraction canceled: %w", ctx.Err())
		}
		kind := chapter.ExtractIO
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case unrarFatal, unrarCRC:
				kind = chapter.ExtractCorrupt
			}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return &chapter.ExtractError{Kind: kind, Archive: archivePath, Err: err}
	}
	u.logger.Info("archive extracted", zap.String("archive", filepath.Base(archivePath)), zap.String("backend", BackendUnrar))
	return nil
}

var _ chapter.Extractor = (*Unrar)(nil)
