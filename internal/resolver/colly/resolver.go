// Package collyresolver resolves storage links from static landing pages using gocolly.
package collyresolver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
	"github.com/JakeFAU/chapterwatch/internal/resolver"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Resolver implements chapter.LinkResolver with a Colly collector.
type Resolver struct {
	matcher       resolver.Matcher
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Resolver.
func New(cfg Config, matcher resolver.Matcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(newHTTPTransport())
	return &Resolver{
		matcher:       matcher,
		baseCollector: c,
		logger:        logger,
	}
}

// Resolve fetches pageURL and returns the first provider link in document order.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (string, bool, error) {
	page, err := r.ResolvePage(ctx, pageURL)
	if err != nil {
		return "", false, err
	}
	return page.Link, page.Found, nil
}

// ResolvePage is Resolve that also returns the fetched page for render detection.
func (r *Resolver) ResolvePage(ctx context.Context, pageURL string) (resolver.Page, error) {
	collector := r.baseCollector.Clone()
	collector.Context = ctx

	var (
		page     resolver.Page
		fetchErr *chapter.FetchError
	)
	collector.OnResponse(func(resp *colly.Response) {
		page.StatusCode = resp.StatusCode
		page.Body = resp.Body
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if page.Found {
			return
		}
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if r.matcher.Matches(href) {
			page.Link = href
			page.Found = true
		}
	})
	collector.OnError(func(resp *colly.Response, err error) {
		fetchErr = &chapter.FetchError{URL: pageURL, Err: err}
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			fetchErr.StatusCode = resp.StatusCode
		}
	})

	if err := runCollector(ctx, collector, pageURL); err != nil {
		// fetchErr is only safe to read once Visit has returned.
		if ctx.Err() == nil && fetchErr != nil {
			return resolver.Page{}, fetchErr
		}
		return resolver.Page{}, &chapter.FetchError{URL: pageURL, Err: err}
	}
	if fetchErr != nil {
		return resolver.Page{}, fetchErr
	}
	if !page.Found {
		r.logger.Warn("no storage link on landing page",
			zap.String("url", pageURL), zap.String("domain", r.matcher.Domain()))
		return page, nil
	}
	r.logger.Info("storage link resolved", zap.String("url", pageURL), zap.String("link", page.Link))
	return page, nil
}

func runCollector(ctx context.Context, collector *colly.Collector, pageURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
