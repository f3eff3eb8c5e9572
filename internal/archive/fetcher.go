// Package archive retrieves chapter archives through storage providers and
// recovers downloads whose completion the provider failed to report.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

// DefaultExtensions lists the archive types the recovery scan accepts.
var DefaultExtensions = []string{".rar", ".cbr", ".zip", ".cbz"}

// Config controls retrieval recovery.
type Config struct {
	// RecoveryDelay is the pause before re-scanning the destination after a
	// retrieval error, giving the provider time to release its file handle.
	RecoveryDelay time.Duration
	Extensions    []string
	// Limiter, when set, is waited on before every retrieval.
	Limiter Limiter
}

// Limiter throttles retrievals per storage host.
type Limiter interface {
	Wait(ctx context.Context, link string) error
}

// Fetcher implements chapter.ArchiveFetcher on top of a provider list.
type Fetcher struct {
	cfg       Config
	providers []chapter.Provider
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *zap.Logger
}

// New builds a Fetcher. Providers are consulted in order.
func New(cfg Config, logger *zap.Logger, providers ...chapter.Provider) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecoveryDelay < 0 {
		cfg.RecoveryDelay = 0
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	return &Fetcher{
		cfg:       cfg,
		providers: providers,
		sleep:     sleepContext,
		logger:    logger,
	}
}

// Fetch retrieves link into dir and returns the archive's absolute path.
func (f *Fetcher) Fetch(ctx context.Context, link string, dir string) (chapter.Archive, error) {
	provider := f.providerFor(link)
	if provider == nil {
		return chapter.Archive{}, fmt.Errorf("%s: %w", link, chapter.ErrNoProvider)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return chapter.Archive{}, fmt.Errorf("create download dir: %w", err)
	}

	logger := f.logger.With(zap.String("provider", provider.Name()), zap.String("link", link))
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, link); err != nil {
			return chapter.Archive{}, &chapter.FetchError{URL: link, Err: err}
		}
	}
	logger.Info("retrieving archive", zap.String("dir", dir))

	name, err := provider.Retrieve(ctx, link, dir)
	if err == nil {
		archive, statErr := locate(dir, name)
		if statErr == nil {
			logger.Info("archive retrieved", zap.String("path", archive.Path))
			return archive, nil
		}
		err = statErr
	}
	if ctx.Err() != nil {
		return chapter.Archive{}, &chapter.FetchError{URL: link, Err: err}
	}

	logger.Warn("archive retrieval reported an error, re-scanning destination",
		zap.Duration("delay", f.cfg.RecoveryDelay), zap.Error(err))
	if sleepErr := f.sleep(ctx, f.cfg.RecoveryDelay); sleepErr != nil {
		return chapter.Archive{}, &chapter.FetchError{URL: link, Err: errors.Join(err, sleepErr)}
	}
	recovered, ok, scanErr := NewestArchive(dir, f.cfg.Extensions)
	if scanErr != nil {
		logger.Warn("recovery scan failed", zap.Error(scanErr))
	}
	if ok {
		logger.Info("recovered archive despite retrieval error", zap.String("path", recovered.Path))
		return recovered, nil
	}
	return chapter.Archive{}, &chapter.FetchError{URL: link, Err: err}
}

func (f *Fetcher) providerFor(link string) chapter.Provider {
	for _, p := range f.providers {
		if p.Matches(link) {
			return p
		}
	}
	return nil
}

// NewestArchive returns the most recently modified file in dir whose
// extension is in exts. In-progress ".part" files are never returned.
func NewestArchive(dir string, exts []string) (chapter.Archive, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return chapter.Archive{}, false, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var (
		best     os.FileInfo
		bestName string
	)
	for _, entry := range entries {
		if entry.IsDir() || !hasExt(entry.Name(), exts) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == nil || info.ModTime().After(best.ModTime()) {
			best = info
			bestName = entry.Name()
		}
	}
	if best == nil {
		return chapter.Archive{}, false, nil
	}
	archive, err := locate(dir, bestName)
	if err != nil {
		return chapter.Archive{}, false, err
	}
	return archive, true, nil
}

func locate(dir, name string) (chapter.Archive, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return chapter.Archive{}, errors.New("provider returned no file name")
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return chapter.Archive{}, fmt.Errorf("resolve archive path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return chapter.Archive{}, fmt.Errorf("stat archive: %w", err)
	}
	if info.IsDir() {
		return chapter.Archive{}, fmt.Errorf("archive path %s is a directory", path)
	}
	return chapter.Archive{Path: path, FileName: name}, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range exts {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("recovery wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
