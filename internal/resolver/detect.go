package resolver

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultMinText = 200

// Render reasons reported by RenderHints.NeedsRender.
const (
	ReasonEmptyBody      = "empty_body"
	ReasonDomainInScript = "storage_domain_in_script"
	ReasonDomainInMarkup = "storage_domain_in_markup"
	ReasonAppMount       = "app_mount"
	ReasonScriptShell    = "script_shell"
)

// appMounts are the containers client-side frameworks render a post into.
const appMounts = `#__next, #root, #app, [data-reactroot], [data-server-rendered]`

// RenderHints decides whether a landing page whose static fetch found no
// storage link is worth a browser render.
type RenderHints struct {
	// Domain is the storage provider domain. Empty disables the domain checks.
	Domain string
	// MinText is the visible text length below which a page that ships
	// scripts is treated as an unrendered shell.
	MinText int
}

// NewRenderHints builds hints for links on m's domain.
func NewRenderHints(m Matcher) *RenderHints {
	return &RenderHints{Domain: m.Domain(), MinText: defaultMinText}
}

// NeedsRender reports whether page should be rendered, and why. Blog posts
// often build the download button in an inline script, so a provider domain
// that shows up anywhere except an anchor is the strongest hint.
func (h *RenderHints) NeedsRender(page Page) (bool, string) {
	if page.StatusCode != http.StatusOK {
		return false, ""
	}
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return true, ReasonEmptyBody
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return false, ""
	}
	if h.Domain != "" {
		if h.domainInScript(doc) {
			return true, ReasonDomainInScript
		}
		if h.domainInAttributes(doc) {
			return true, ReasonDomainInMarkup
		}
	}
	if doc.Find(appMounts).Length() > 0 {
		return true, ReasonAppMount
	}
	if doc.Find("script").Length() > 0 && len(visibleText(doc)) < h.minText() {
		return true, ReasonScriptShell
	}
	return false, ""
}

func (h *RenderHints) minText() int {
	if h.MinText <= 0 {
		return defaultMinText
	}
	return h.MinText
}

func (h *RenderHints) mentions(s string) bool {
	return strings.Contains(strings.ToLower(s), h.Domain)
}

func (h *RenderHints) domainInScript(doc *goquery.Document) bool {
	found := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = h.mentions(s.Text())
		return !found
	})
	return found
}

// domainInAttributes looks for the domain in data-*, onclick and similar
// attributes. Anchors were already checked by the static resolver.
func (h *RenderHints) domainInAttributes(doc *goquery.Document) bool {
	found := false
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range s.Nodes[0].Attr {
			if attr.Key == "href" || attr.Key == "src" {
				continue
			}
			if h.mentions(attr.Val) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}
