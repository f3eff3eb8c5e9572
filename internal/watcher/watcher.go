// Package watcher polls the announcement feed and hands new chapters to the pipeline.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
	"github.com/JakeFAU/chapterwatch/internal/metrics"
)

// Config controls polling and entry filtering.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
	// Keyword must appear in an entry title (case-insensitive).
	Keyword string
}

// Status is a snapshot of the most recent cycle.
type Status struct {
	Cycles      int                  `json:"cycles"`
	LastCycleAt time.Time            `json:"last_cycle_at"`
	LastSummary chapter.CycleSummary `json:"last_summary"`
	LastError   string               `json:"last_error,omitempty"`
}

// Watcher runs feed cycles on a fixed interval.
type Watcher struct {
	cfg       Config
	source    chapter.FeedSource
	processor chapter.Processor
	ledger    chapter.Ledger
	clock     chapter.Clock
	logger    *zap.Logger

	mu     sync.RWMutex
	status Status
}

// New builds a Watcher.
func New(
	cfg Config,
	source chapter.FeedSource,
	processor chapter.Processor,
	ledger chapter.Ledger,
	clock chapter.Clock,
	logger *zap.Logger,
) (*Watcher, error) {
	if source == nil || processor == nil || ledger == nil || clock == nil {
		return nil, errors.New("watcher requires source, processor, ledger and clock")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("watch interval must be positive, got %s", cfg.Interval)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("max entry age must be positive, got %s", cfg.MaxAge)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:       cfg,
		source:    source,
		processor: processor,
		ledger:    ledger,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Run executes a cycle immediately and then once per interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("feed watcher started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("max_age", w.cfg.MaxAge),
		zap.String("keyword", w.cfg.Keyword),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("feed watcher stopped")
			return nil
		case <-timer.C:
		}
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("feed cycle failed", zap.String("severity", chapter.Severity(err)), zap.Error(err))
		}
		w.logger.Info("sleeping until next poll", zap.Duration("interval", w.cfg.Interval))
		timer.Reset(w.cfg.Interval)
	}
}

// RunOnce performs exactly one feed cycle. The error reports only feed
// failures or a recovered panic; chapter failures are counted in the summary.
func (w *Watcher) RunOnce(ctx context.Context) (summary chapter.CycleSummary, err error) {
	started := time.Now()
	result := metrics.CycleSucceeded
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("feed cycle panicked",
				zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("feed cycle panicked: %v", rec)
			result = metrics.CyclePanicked
		}
		metrics.ObserveCycle(result, time.Since(started))
		w.setStatus(summary, err)
	}()

	entries, err := w.source.Entries(ctx)
	if err != nil {
		result = metrics.CycleFeedFailed
		return summary, err
	}
	summary.Seen = len(entries)
	if len(entries) == 0 {
		w.logger.Warn("feed has no entries")
	}

	candidates := w.filter(entries, &summary)
	summary.Candidates = len(candidates)
	for _, ann := range candidates {
		if ctx.Err() != nil {
			break
		}
		w.logger.Info("new chapter announcement", zap.String("title", ann.Title), zap.String("link", ann.Link))
		out := w.processor.Process(ctx, ann)
		switch {
		case out.Skipped:
			summary.Skipped++
		case out.Err != nil:
			summary.Failed++
		default:
			summary.Processed++
		}
	}
	w.logger.Info("feed cycle complete",
		zap.Int("seen", summary.Seen),
		zap.Int("candidates", summary.Candidates),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// filter applies the age, keyword and ledger checks and returns candidates
// oldest first, so chapters are produced in release order.
func (w *Watcher) filter(entries []chapter.Announcement, summary *chapter.CycleSummary) []chapter.Announcement {
	now := w.clock.Now()
	keyword := strings.ToLower(strings.TrimSpace(w.cfg.Keyword))
	var out []chapter.Announcement
	for _, ann := range entries {
		decision := metrics.EntryCandidate
		switch {
		case ann.PublishedAt.IsZero():
			decision = metrics.EntryUndated
		case now.Sub(ann.PublishedAt) > w.cfg.MaxAge:
			decision = metrics.EntryTooOld
		case !strings.Contains(strings.ToLower(ann.Title), keyword):
			decision = metrics.EntryNoKeyword
		case ann.Link == "" || w.ledger.Contains(ann.Link):
			decision = metrics.EntryProcessed
		}
		metrics.ObserveEntry(decision)
		if decision != metrics.EntryCandidate {
			summary.Skipped++
			w.logger.Debug("feed entry skipped", zap.String("title", ann.Title), zap.String("reason", decision))
			continue
		}
		out = append(out, ann)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.Before(out[j].PublishedAt)
	})
	return out
}

// Status returns the latest cycle snapshot.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Watcher) setStatus(summary chapter.CycleSummary, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Cycles++
	w.status.LastCycleAt = w.clock.Now()
	w.status.LastSummary = summary
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
}
