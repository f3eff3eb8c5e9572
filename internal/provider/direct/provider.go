// Package direct downloads archives served over plain HTTP(S) using gocolly.
package direct

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

// fallbackName is used when neither the response nor the URL name the file.
const fallbackName = "download.bin"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds the whole transfer, body included.
	Timeout time.Duration
}

// Provider implements chapter.Provider for any http(s) link.
type Provider struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.MaxBodySize = 0
	c.ParseHTTPErrorResponse = false
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		IdleConnTimeout:     90 * time.Second,
	})
	return &Provider{baseCollector: c, logger: logger}
}

// Name identifies the provider in logs.
func (p *Provider) Name() string {
	return "direct"
}

// Matches accepts any absolute http or https URL.
func (p *Provider) Matches(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Retrieve downloads link into dir and returns the stored file name.
func (p *Provider) Retrieve(ctx context.Context, link string, dir string) (string, error) {
	collector := p.baseCollector.Clone()
	// Requests carry ctx so cancellation aborts the transfer, not just the wait.
	collector.Context = ctx

	var (
		name     string
		writeErr error
		fetchErr *chapter.FetchError
	)
	collector.OnResponse(func(r *colly.Response) {
		name = fileName(r.Headers.Get("Content-Disposition"), r.Request.URL)
		writeErr = writeAtomic(filepath.Join(dir, name), r.Body)
	})
	collector.OnError(func(resp *colly.Response, err error) {
		fetchErr = &chapter.FetchError{URL: link, Err: err}
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			fetchErr.StatusCode = resp.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(link)
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("direct download canceled: %w", ctx.Err())
	case err := <-done:
		if ctx.Err() != nil {
			return "", fmt.Errorf("direct download canceled: %w", ctx.Err())
		}
		if fetchErr != nil {
			return "", fetchErr
		}
		if err != nil {
			return "", &chapter.FetchError{URL: link, Err: err}
		}
	}
	if writeErr != nil {
		return "", writeErr
	}
	if name == "" {
		return "", &chapter.FetchError{URL: link, Err: errors.New("no response received")}
	}
	p.logger.Info("direct download complete", zap.String("link", link), zap.String("file", name))
	return name, nil
}

func fileName(disposition string, u *url.URL) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if n := sanitize(params["filename"]); n != "" {
				return n
			}
		}
	}
	if u != nil {
		if n := sanitize(path.Base(u.Path)); n != "" {
			return n
		}
	}
	return fallbackName
}

func sanitize(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func writeAtomic(dest string, data []byte) error {
	part := dest + ".part"
	if err := os.WriteFile(part, data, 0o600); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("write %s: %w", part, err)
	}
	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("finalize %s: %w", dest, err)
	}
	return nil
}
