// Package ledger keeps the set of announcement links that were fully processed.
//
// The in-memory set is loaded once from a Store at startup and is the
// authoritative "already handled" check for the rest of the process lifetime.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Store is the durable, append-only backing for a Ledger.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Append(ctx context.Context, link string) error
	Close() error
}

// Ledger implements chapter.Ledger over a Store.
type Ledger struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	store  Store
	logger *zap.Logger
}

// Open loads every recorded link from store.
func Open(ctx context.Context, store Store, logger *zap.Logger) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	links, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		if link = strings.TrimSpace(link); link != "" {
			seen[link] = struct{}{}
		}
	}
	logger.Info("ledger loaded", zap.Int("entries", len(seen)))
	return &Ledger{seen: seen, store: store, logger: logger}, nil
}

// Contains reports whether link was already processed.
func (l *Ledger) Contains(link string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[strings.TrimSpace(link)]
	return ok
}

// Record marks link as processed in memory, then appends it to the store.
// The in-memory mark stays even when the append fails; the returned error
// means only that durability across restarts is not guaranteed.
func (l *Ledger) Record(ctx context.Context, link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return errors.New("ledger link is empty")
	}
	if strings.ContainsAny(link, "\r\n") {
		return fmt.Errorf("ledger link %q contains a line break", link)
	}

	l.mu.Lock()
	_, dup := l.seen[link]
	l.seen[link] = struct{}{}
	l.mu.Unlock()

	if dup {
		return nil
	}
	if err := l.store.Append(ctx, link); err != nil {
		l.logger.Error("ledger append failed", zap.String("link", link), zap.Error(err))
		return fmt.Errorf("append ledger entry: %w", err)
	}
	l.logger.Info("ledger entry recorded", zap.String("link", link))
	return nil
}

// Links returns a sorted snapshot of every recorded link.
func (l *Ledger) Links() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.seen))
	for link := range l.seen {
		out = append(out, link)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of recorded links.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}

// Close releases the backing store.
func (l *Ledger) Close() error {
	if err := l.store.Close(); err != nil {
		return fmt.Errorf("close ledger store: %w", err)
	}
	return nil
}
