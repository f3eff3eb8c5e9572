// Package headless resolves storage links from landing pages that inject their
// download links with JavaScript, rendering them in headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
	"github.com/JakeFAU/chapterwatch/internal/resolver"
)

// Config controls the behavior of the headless resolver.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay gives late scripts time to insert links after the body is ready.
	SettleDelay time.Duration
}

// renderFunc returns the rendered HTML and final URL of a page.
type renderFunc func(ctx context.Context, pageURL string) (string, string, error)

// Resolver implements chapter.LinkResolver using chromedp.
type Resolver struct {
	cfg         Config
	matcher     resolver.Matcher
	render      renderFunc
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a resolver backed by a shared headless Chrome allocator.
func New(cfg Config, matcher resolver.Matcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	r := &Resolver{
		cfg:         cfg,
		matcher:     matcher,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
	r.render = r.renderChrome
	return r
}

// Close cancels the allocator context and shuts the browser down.
func (r *Resolver) Close() {
	if r.allocCancel != nil {
		r.allocCancel()
	}
}

// Resolve renders pageURL and returns the first provider link in document order.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (string, bool, error) {
	html, finalURL, err := r.render(ctx, pageURL)
	if err != nil {
		return "", false, &chapter.FetchError{URL: pageURL, Err: err}
	}
	base, err := url.Parse(finalURL)
	if err != nil || finalURL == "" {
		base, _ = url.Parse(pageURL)
	}
	link, ok, err := r.matcher.FirstMatch(strings.NewReader(html), base)
	if err != nil {
		return "", false, &chapter.FetchError{URL: pageURL, Err: err}
	}
	if !ok {
		r.logger.Warn("no storage link on rendered landing page",
			zap.String("url", pageURL), zap.String("domain", r.matcher.Domain()))
		return "", false, nil
	}
	r.logger.Info("storage link resolved", zap.String("url", pageURL), zap.String("link", link), zap.Bool("headless", true))
	return link, true, nil
}

func (r *Resolver) renderChrome(ctx context.Context, pageURL string) (string, string, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	// Propagate caller cancellation into the browser tab.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}
