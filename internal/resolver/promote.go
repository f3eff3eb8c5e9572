package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

// Page is a statically fetched landing page and the first matching link on it.
type Page struct {
	Link       string
	Found      bool
	StatusCode int
	Body       []byte
}

// PageFetcher fetches a landing page without rendering it.
type PageFetcher interface {
	ResolvePage(ctx context.Context, pageURL string) (Page, error)
}

// Promoting resolves with a static fetch and re-resolves in a browser only
// when the static page has no link and RenderHints point at script-built content.
type Promoting struct {
	static   PageFetcher
	render   chapter.LinkResolver
	hints    *RenderHints
	logger   *zap.Logger
}

// NewPromoting builds a Promoting resolver.
func NewPromoting(static PageFetcher, render chapter.LinkResolver, hints *RenderHints, logger *zap.Logger) (*Promoting, error) {
	if static == nil || render == nil {
		return nil, fmt.Errorf("static and render resolvers are required")
	}
	if hints == nil {
		hints = &RenderHints{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, render: render, hints: hints, logger: logger}, nil
}

// Resolve implements chapter.LinkResolver.
func (p *Promoting) Resolve(ctx context.Context, pageURL string) (string, bool, error) {
	page, err := p.static.ResolvePage(ctx, pageURL)
	if err != nil {
		return "", false, err
	}
	if page.Found {
		return page.Link, true, nil
	}
	render, reason := p.hints.NeedsRender(page)
	if !render {
		return "", false, nil
	}
	p.logger.Info("landing page needs a browser render",
		zap.String("url", pageURL), zap.String("reason", reason), zap.Int("bytes", len(page.Body)))
	return p.render.Resolve(ctx, pageURL)
}
