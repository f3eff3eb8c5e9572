package resolver

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsRender(t *testing.T) {
	t.Parallel()

	article := "<p>" + strings.Repeat("Chapter 1502 is out, thanks to the whole team. ", 10) + "</p>"
	page := func(body string) Page {
		return Page{StatusCode: http.StatusOK, Body: []byte(body)}
	}
	tests := []struct {
		name   string
		page   Page
		want   bool
		reason string
	}{
		{"empty body", page("  \n"), true, ReasonEmptyBody},
		{
			"link built by inline script",
			page(`<html><body>` + article + `<div id="dl"></div><script>
				document.getElementById("dl").innerHTML = '<a href="https://MEGA.nz/file/' + h + '">Download</a>';
			</script></body></html>`),
			true, ReasonDomainInScript,
		},
		{
			"link in a data attribute",
			page(`<html><body>` + article + `<button data-url="https://mega.nz/file/AbCd#k">Download</button></body></html>`),
			true, ReasonDomainInMarkup,
		},
		{"app mount", page(`<html><body><div id="__next"></div>` + article + `</body></html>`), true, ReasonAppMount},
		{
			"script shell",
			page(`<html><head><script src="/bundle.js"></script></head><body><p>Loading…</p></body></html>`),
			true, ReasonScriptShell,
		},
		{
			"plain article with unrelated scripts",
			page(`<html><body>` + article + `<script>ga("send", "pageview");</script></body></html>`),
			false, "",
		},
		{
			"domain only in an anchor",
			page(`<html><body>` + article + `<a href="https://mega.nz/folder/x">folder</a></body></html>`),
			false, "",
		},
		{"non-200", Page{StatusCode: http.StatusNotFound}, false, ""},
	}
	hints := &RenderHints{Domain: "mega.nz"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, reason := hints.NeedsRender(tt.page)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.reason, reason)
		})
	}
}

func TestNeedsRenderWithoutDomainSkipsDomainChecks(t *testing.T) {
	t.Parallel()

	body := `<html><body><p>` + strings.Repeat("long article text ", 30) +
		`</p><script>var u = "https://mega.nz/file/x";</script></body></html>`
	got, _ := (&RenderHints{}).NeedsRender(Page{StatusCode: http.StatusOK, Body: []byte(body)})
	require.False(t, got)
}

func TestNewRenderHints(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher("Mega.NZ")
	require.NoError(t, err)
	hints := NewRenderHints(m)
	require.Equal(t, "mega.nz", hints.Domain)
	require.Equal(t, defaultMinText, hints.MinText)
}
