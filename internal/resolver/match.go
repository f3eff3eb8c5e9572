// Package resolver holds the storage-link matching shared by the landing-page
// resolvers.
package resolver

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Matcher accepts links pointing at one storage provider domain or its subdomains.
type Matcher struct {
	domain string
}

// NewMatcher builds a Matcher for domain (e.g. "mega.nz").
func NewMatcher(domain string) (Matcher, error) {
	domain = strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return Matcher{}, fmt.Errorf("provider domain is required")
	}
	return Matcher{domain: domain}, nil
}

// Domain returns the normalized provider domain.
func (m Matcher) Domain() string {
	return m.domain
}

// Matches reports whether rawURL is an absolute http(s) link on the provider domain.
func (m Matcher) Matches(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == m.domain || strings.HasSuffix(host, "."+m.domain)
}

// FirstMatch scans an HTML document for the first matching a[href], in
// document order. Relative hrefs are resolved against base.
func (m Matcher) FirstMatch(r io.Reader, base *url.URL) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", false, fmt.Errorf("parse html: %w", err)
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs := resolve(base, href)
		if m.Matches(abs) {
			found = abs
			return false
		}
		return true
	})
	return found, found != "", nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
