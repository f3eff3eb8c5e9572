package headless

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
	"github.com/JakeFAU/chapterwatch/internal/resolver"
)

func newStubResolver(t *testing.T, render renderFunc) *Resolver {
	t.Helper()
	matcher, err := resolver.NewMatcher("mega.nz")
	require.NoError(t, err)
	return &Resolver{matcher: matcher, render: render, logger: zap.NewNop()}
}

func TestResolveUsesRenderedDOM(t *testing.T) {
	t.Parallel()

	r := newStubResolver(t, func(_ context.Context, pageURL string) (string, string, error) {
		require.Equal(t, "https://blog.example.com/p/1502", pageURL)
		return `<html><body><div id="dl"><a href="https://mega.nz/file/XYZ#k">get</a></div></body></html>`,
			"https://blog.example.com/p/1502", nil
	})

	link, ok, err := r.Resolve(context.Background(), "https://blog.example.com/p/1502")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://mega.nz/file/XYZ#k", link)
}

func TestResolveRenderFailureIsFetchError(t *testing.T) {
	t.Parallel()

	r := newStubResolver(t, func(context.Context, string) (string, string, error) {
		return "", "", errors.New("chrome not found")
	})

	_, ok, err := r.Resolve(context.Background(), "https://blog.example.com/p/1")
	require.False(t, ok)
	var fetchErr *chapter.FetchError
	require.True(t, errors.As(err, &fetchErr))
}

func TestResolveNoLink(t *testing.T) {
	t.Parallel()

	r := newStubResolver(t, func(context.Context, string) (string, string, error) {
		return `<html><body>soon</body></html>`, "", nil
	})

	_, ok, err := r.Resolve(context.Background(), "https://blog.example.com/p/1")
	require.NoError(t, err)
	require.False(t, ok)
}
