package watcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

// FeedConfig controls how the feed is fetched.
type FeedConfig struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// FeedSource fetches and parses an RSS/Atom/JSON feed with gofeed.
type FeedSource struct {
	url    string
	parser *gofeed.Parser
}

// NewFeedSource builds a FeedSource.
func NewFeedSource(cfg FeedConfig) (*FeedSource, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("feed url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	return &FeedSource{url: cfg.URL, parser: parser}, nil
}

// Entries returns every feed item as an announcement. Items without a
// published time fall back to their updated time; items with neither keep a
// zero PublishedAt.
func (s *FeedSource) Entries(ctx context.Context) ([]chapter.Announcement, error) {
	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		fetchErr := &chapter.FetchError{URL: s.url, Err: err}
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			fetchErr.StatusCode = httpErr.StatusCode
		}
		return nil, fmt.Errorf("read feed: %w", fetchErr)
	}
	out := make([]chapter.Announcement, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		ann := chapter.Announcement{
			Title: strings.TrimSpace(item.Title),
			Link:  strings.TrimSpace(item.Link),
		}
		switch {
		case item.PublishedParsed != nil:
			ann.PublishedAt = item.PublishedParsed.UTC()
		case item.UpdatedParsed != nil:
			ann.PublishedAt = item.UpdatedParsed.UTC()
		}
		out = append(out, ann)
	}
	return out, nil
}

var _ chapter.FeedSource = (*FeedSource)(nil)
