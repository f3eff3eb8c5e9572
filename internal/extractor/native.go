package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nwaples/rardecode/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

var (
	rarMagic = []byte("Rar!\x1a\x07")
	zipMagic = []byte("PK\x03\x04")
)

// Native extracts RAR and ZIP archives in-process.
type Native struct {
	logger *zap.Logger
}

// NewNative builds a Native extractor.
func NewNative(logger *zap.Logger) *Native {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Native{logger: logger}
}

// Extract unpacks archivePath into destDir, picking the format from the file header.
func (n *Native) Extract(ctx context.Context, archivePath string, destDir string) error {
	format, err := sniff(archivePath)
	if err != nil {
		return wrap(archivePath, err)
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return wrap(archivePath, err)
	}

	var files int
	switch format {
	case "rar":
		files, err = n.extractRAR(ctx, archivePath, destDir)
	case "zip":
		files, err = n.extractZIP(ctx, archivePath, destDir)
	default:
		err = errors.New("unrecognized archive format")
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("extraction canceled: %w", ctx.Err())
		}
		return wrap(archivePath, err)
	}
	n.logger.Info("archive extracted",
		zap.String("archive", filepath.Base(archivePath)),
		zap.String("format", format),
		zap.Int("files", files),
	)
	return nil
}

func sniff(archivePath string) (string, error) {
	// #nosec G304 -- archive paths come from the scratch directory.
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	header := make([]byte, 8)
	read, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	header = header[:read]
	switch {
	case bytes.HasPrefix(header, rarMagic):
		return "rar", nil
	case bytes.HasPrefix(header, zipMagic):
		return "zip", nil
	}
	switch strings.ToLower(filepath.Ext(archivePath)) {
	case ".rar", ".cbr":
		return "rar", nil
	case ".zip", ".cbz":
		return "zip", nil
	}
	return "", nil
}

func (n *Native) extractRAR(ctx context.Context, archivePath, destDir string) (int, error) {
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	files := 0
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, err
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return files, err
		}
		if hdr.IsDir {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return files, err
			}
			continue
		}
		if err := writeEntry(target, r); err != nil {
			return files, err
		}
		files++
	}
}

func (n *Native) extractZIP(ctx context.Context, archivePath, destDir string) (int, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	files := 0
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return files, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return files, err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return files, err
		}
		err = writeEntry(target, rc)
		closeErr := rc.Close()
		if err != nil {
			return files, err
		}
		if closeErr != nil {
			return files, closeErr
		}
		files++
	}
	return files, nil
}

func writeEntry(target string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	// #nosec G304 -- target was checked by safeJoin.
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

var _ chapter.Extractor = (*Native)(nil)
