// Package pipeline turns one feed announcement into one stored chapter document.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
	"github.com/JakeFAU/chapterwatch/internal/metrics"
)

// Config controls Coordinator behavior.
type Config struct {
	// Series prefixes output document names.
	Series string
	// ScratchDir holds download and extraction directories.
	ScratchDir string
	// NotifyTopic receives a chapter.Event after each success when a publisher is set.
	NotifyTopic string
	// Strategies derive the chapter number; defaults to chapter.DefaultNumberStrategies.
	Strategies []chapter.NumberStrategy
}

// Deps are the collaborators a Coordinator drives. Mirror and Publisher are optional.
type Deps struct {
	Ledger    chapter.Ledger
	Resolver  chapter.LinkResolver
	Fetcher   chapter.ArchiveFetcher
	Extractor chapter.Extractor
	Assembler chapter.Assembler
	Output    chapter.DocumentStore
	Hasher    chapter.Hasher
	IDs       chapter.IDGenerator
	Clock     chapter.Clock
	Mirror    chapter.BlobStore
	Publisher chapter.Publisher
}

// Coordinator runs the ingestion state machine for one announcement at a time.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds a Coordinator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	missing := []string{}
	for name, ok := range map[string]bool{
		"ledger":    deps.Ledger != nil,
		"resolver":  deps.Resolver != nil,
		"fetcher":   deps.Fetcher != nil,
		"extractor": deps.Extractor != nil,
		"assembler": deps.Assembler != nil,
		"output":    deps.Output != nil,
		"hasher":    deps.Hasher != nil,
		"ids":       deps.IDs != nil,
		"clock":     deps.Clock != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline dependencies missing: %s", strings.Join(missing, ", "))
	}
	if strings.TrimSpace(cfg.Series) == "" {
		return nil, errors.New("series name is required")
	}
	if strings.TrimSpace(cfg.ScratchDir) == "" {
		return nil, errors.New("scratch directory is required")
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = chapter.DefaultNumberStrategies()
	}
	return &Coordinator{cfg: cfg, deps: deps, logger: logger}, nil
}

// run carries per-announcement state through the stages.
type run struct {
	ann        chapter.Announcement
	out        chapter.Outcome
	logger     *zap.Logger
	storageURL string
	downloadTo string
	extractTo  string
	archive    chapter.Archive
	document   chapter.Document
}

// Process runs every stage for ann and never panics or returns a bare error:
// all failures are reported through the Outcome.
func (c *Coordinator) Process(ctx context.Context, ann chapter.Announcement) chapter.Outcome {
	start := c.deps.Clock.Now()
	r := &run{ann: ann, out: chapter.Outcome{Link: ann.Link}}
	defer func() {
		r.out.Duration = c.deps.Clock.Now().Sub(start)
		metrics.ObserveChapter(r.out.Status(), string(r.out.Stage))
		c.report(r)
	}()

	r.out.Stage = chapter.StageLedgerGate
	if c.deps.Ledger.Contains(ann.Link) {
		r.out.Skipped = true
		r.logger = c.logger.With(zap.String("link", ann.Link))
		return r.out
	}

	runID, err := c.deps.IDs.NewID()
	if err != nil {
		r.logger = c.logger.With(zap.String("link", ann.Link))
		r.out.Err = fmt.Errorf("allocate run id: %w", err)
		return r.out
	}
	r.out.RunID = runID
	r.logger = c.logger.With(zap.String("run_id", runID), zap.String("link", ann.Link))
	r.logger.Info("processing announcement", zap.String("title", ann.Title))

	r.downloadTo = filepath.Join(c.cfg.ScratchDir, "dl-"+runID)
	defer c.removeDir(r, r.downloadTo)

	stages := []struct {
		stage chapter.Stage
		fn    func(context.Context, *run) error
	}{
		{chapter.StageResolveLink, c.resolve},
		{chapter.StageFetchArchive, c.fetch},
		{chapter.StageDeriveNumber, c.deriveNumber},
		{chapter.StageExtract, c.extract},
		{chapter.StageAssemble, c.assemble},
		{chapter.StageCleanup, c.cleanup},
		{chapter.StageRecord, c.record},
	}
	for _, s := range stages {
		r.out.Stage = s.stage
		began := time.Now()
		err := s.fn(ctx, r)
		metrics.ObserveStage(string(s.stage), time.Since(began))
		if err != nil {
			r.out.Err = err
			return r.out
		}
	}
	c.publish(ctx, r)
	return r.out
}

func (c *Coordinator) resolve(ctx context.Context, r *run) error {
	link, ok, err := c.deps.Resolver.Resolve(ctx, r.ann.Link)
	if err != nil {
		return fmt.Errorf("resolve storage link: %w", err)
	}
	if !ok {
		return chapter.ErrNoStorageLink
	}
	r.storageURL = link
	r.logger.Info("storage link found", zap.String("storage_link", link))
	return nil
}

func (c *Coordinator) fetch(ctx context.Context, r *run) error {
	archive, err := c.deps.Fetcher.Fetch(ctx, r.storageURL, r.downloadTo)
	if err != nil {
		return fmt.Errorf("fetch archive: %w", err)
	}
	r.archive = archive
	r.logger.Info("archive retrieved", zap.String("archive", archive.FileName))
	return nil
}

func (c *Coordinator) deriveNumber(_ context.Context, r *run) error {
	n, strategy, err := chapter.DeriveNumber(c.cfg.Strategies, r.archive.FileName, r.ann.Title)
	if err != nil {
		c.removeFile(r, r.archive.Path)
		return err
	}
	r.out.Chapter = n
	r.logger = r.logger.With(zap.Int("chapter", n))
	r.logger.Info("chapter number derived", zap.String("strategy", strategy))
	return nil
}

func (c *Coordinator) extract(ctx context.Context, r *run) error {
	r.extractTo = filepath.Join(c.cfg.ScratchDir, fmt.Sprintf("chapter_%d", r.out.Chapter))
	// A crashed earlier run may have left pages behind.
	if err := os.RemoveAll(r.extractTo); err != nil {
		c.removeFile(r, r.archive.Path)
		return &chapter.ExtractError{Kind: chapter.ExtractIO, Archive: r.archive.Path, Err: err}
	}
	err := c.deps.Extractor.Extract(ctx, r.archive.Path, r.extractTo)
	c.removeFile(r, r.archive.Path)
	if err != nil {
		c.removeDir(r, r.extractTo)
		return err
	}
	return nil
}

// assemble covers ASSEMBLE_DOCUMENT including the write to the output store.
func (c *Coordinator) assemble(ctx context.Context, r *run) error {
	defer c.removeDir(r, r.extractTo)

	name := chapter.DocumentName(c.cfg.Series, r.out.Chapter)
	if path, ok := c.deps.Output.Exists(name); ok {
		r.logger.Warn("document already exists; recording without rebuilding", zap.String("document", path))
		return c.adoptExisting(r, path)
	}

	doc, err := c.deps.Assembler.Assemble(ctx, r.extractTo, r.out.Chapter)
	if err != nil {
		return fmt.Errorf("assemble chapter %d: %w", r.out.Chapter, err)
	}
	path, err := c.deps.Output.Put(ctx, name, bytes.NewReader(doc.Data))
	if errors.Is(err, chapter.ErrExists) {
		r.logger.Warn("document appeared while assembling; keeping existing file", zap.String("document", path))
		return c.adoptExisting(r, path)
	}
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	sum, err := c.deps.Hasher.Sum(bytes.NewReader(doc.Data))
	if err != nil {
		r.logger.Warn("document hash failed", zap.Error(err))
	}
	r.document = doc
	r.out.DocumentPath = path
	r.out.DocumentSHA256 = sum
	r.out.Pages = doc.Pages
	r.logger.Info("document stored", zap.String("document", path), zap.Int("pages", doc.Pages))
	return nil
}

func (c *Coordinator) adoptExisting(r *run, path string) error {
	r.out.DocumentPath = path
	// #nosec G304 -- path comes from the output store.
	f, err := os.Open(path)
	if err != nil {
		r.logger.Warn("existing document unreadable", zap.String("document", path), zap.Error(err))
		return nil
	}
	defer f.Close()
	if sum, err := c.deps.Hasher.Sum(f); err == nil {
		r.out.DocumentSHA256 = sum
	}
	return nil
}

// cleanup makes sure no scratch data outlives a finished chapter. Failures
// are local I/O problems and never fail the chapter.
func (c *Coordinator) cleanup(_ context.Context, r *run) error {
	c.removeDir(r, r.extractTo)
	c.removeDir(r, r.downloadTo)
	return nil
}

func (c *Coordinator) record(ctx context.Context, r *run) error {
	if err := c.deps.Ledger.Record(ctx, r.ann.Link); err != nil {
		return fmt.Errorf("record link: %w", err)
	}
	if sized, ok := c.deps.Ledger.(interface{ Len() int }); ok {
		metrics.SetLedgerEntries(sized.Len())
	}
	metrics.MarkChapterStored(r.out.Chapter, c.deps.Clock.Now())
	return nil
}

// publish mirrors and announces a finished chapter. Neither step can fail it.
func (c *Coordinator) publish(ctx context.Context, r *run) {
	if c.deps.Mirror == nil && (c.deps.Publisher == nil || c.cfg.NotifyTopic == "") {
		return
	}
	began := time.Now()
	defer func() { metrics.ObserveStage(string(chapter.StagePublish), time.Since(began)) }()

	name := filepath.Base(r.out.DocumentPath)
	var mirrorURI string
	if c.deps.Mirror != nil {
		uri, err := c.mirror(ctx, r, name)
		if err != nil {
			r.logger.Warn("document mirror failed", zap.String("severity", chapter.Severity(err)), zap.Error(err))
		} else {
			mirrorURI = uri
			r.logger.Info("document mirrored", zap.String("uri", uri))
		}
	}

	if c.deps.Publisher == nil || c.cfg.NotifyTopic == "" {
		return
	}
	event := chapter.Event{
		Type:        chapter.EventChapterReady,
		RunID:       r.out.RunID,
		Chapter:     r.out.Chapter,
		Link:        r.ann.Link,
		Document:    name,
		SHA256:      r.out.DocumentSHA256,
		Pages:       r.out.Pages,
		MirrorURI:   mirrorURI,
		CompletedAt: c.deps.Clock.Now(),
	}
	id, err := c.deps.Publisher.Publish(ctx, c.cfg.NotifyTopic, event)
	if err != nil {
		r.logger.Warn("chapter notification failed", zap.String("topic", c.cfg.NotifyTopic), zap.Error(err))
		return
	}
	r.logger.Info("chapter notification published", zap.String("topic", c.cfg.NotifyTopic), zap.String("message_id", id))
}

func (c *Coordinator) mirror(ctx context.Context, r *run, name string) (string, error) {
	if r.document.Data != nil {
		return c.deps.Mirror.PutObject(ctx, name, "application/pdf", bytes.NewReader(r.document.Data))
	}
	// #nosec G304 -- path comes from the output store.
	f, err := os.Open(r.out.DocumentPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return c.deps.Mirror.PutObject(ctx, name, "application/pdf", f)
}

func (c *Coordinator) report(r *run) {
	logger := r.logger
	if logger == nil {
		logger = c.logger.With(zap.String("link", r.ann.Link))
	}
	fields := []zap.Field{
		zap.String("status", r.out.Status()),
		zap.String("stage", string(r.out.Stage)),
		zap.Duration("duration", r.out.Duration),
	}
	switch {
	case r.out.Skipped:
		logger.Debug("announcement already processed", fields...)
	case r.out.Err != nil && r.out.Stage == chapter.StageRecord:
		// The in-memory mark stays set, so this process will not retry the link.
		fields = append(fields,
			zap.String("severity", chapter.SeverityLocalIO),
			zap.String("document", r.out.DocumentPath),
			zap.Error(r.out.Err),
		)
		logger.Error("chapter stored but ledger write failed; skipped until restart, then reprocessed", fields...)
	case r.out.Err != nil:
		severity := chapter.Severity(r.out.Err)
		fields = append(fields, zap.String("severity", severity), zap.Error(r.out.Err))
		if severity == chapter.SeverityEnvironment {
			logger.Error("chapter failed; operator attention needed", fields...)
			return
		}
		logger.Warn("chapter failed; will retry on a later poll", fields...)
	default:
		fields = append(fields, zap.String("document", r.out.DocumentPath), zap.String("sha256", r.out.DocumentSHA256))
		logger.Info("chapter processed", fields...)
	}
}

func (c *Coordinator) removeFile(r *run, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("scratch archive cleanup failed",
			zap.String("path", path), zap.String("severity", chapter.SeverityLocalIO), zap.Error(err))
	}
}

func (c *Coordinator) removeDir(r *run, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn("scratch directory cleanup failed",
			zap.String("path", dir), zap.String("severity", chapter.SeverityLocalIO), zap.Error(err))
	}
}

var _ chapter.Processor = (*Coordinator)(nil)
