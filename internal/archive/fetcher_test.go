package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
)

type fakeProvider struct {
	name     string
	prefix   string
	retrieve func(dir string) (string, error)
	calls    int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Matches(link string) bool { return strings.HasPrefix(link, p.prefix) }

func (p *fakeProvider) Retrieve(_ context.Context, _ string, dir string) (string, error) {
	p.calls++
	return p.retrieve(dir)
}

func newTestFetcher(providers ...chapter.Provider) (*Fetcher, *[]time.Duration) {
	f := New(Config{RecoveryDelay: 5 * time.Second}, zap.NewNop(), providers...)
	var slept []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return f, &slept
}

func writeFile(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("rar"), 0o600))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestFetchReturnsRetrievedArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := &fakeProvider{name: "fake", prefix: "https://mega.nz/", retrieve: func(dir string) (string, error) {
		return "c1502.rar", os.WriteFile(filepath.Join(dir, "c1502.rar"), []byte("rar"), 0o600)
	}}
	f, slept := newTestFetcher(p)

	archive, err := f.Fetch(context.Background(), "https://mega.nz/file/x#y", dir)
	require.NoError(t, err)
	require.Equal(t, "c1502.rar", archive.FileName)
	require.True(t, filepath.IsAbs(archive.Path))
	require.Equal(t, filepath.Join(dir, "c1502.rar"), archive.Path)
	require.Empty(t, *slept)
}

func TestFetchRecoversNewestArchiveAfterError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()
	p := &fakeProvider{name: "fake", prefix: "https://mega.nz/", retrieve: func(dir string) (string, error) {
		writeFile(t, filepath.Join(dir, "c1501.rar"), now.Add(-time.Hour))
		writeFile(t, filepath.Join(dir, "c1502.rar"), now)
		writeFile(t, filepath.Join(dir, "c1503.rar.part"), now.Add(time.Minute))
		writeFile(t, filepath.Join(dir, "notes.txt"), now.Add(time.Minute))
		return "", errors.New("file is being used by another process")
	}}
	f, slept := newTestFetcher(p)

	archive, err := f.Fetch(context.Background(), "https://mega.nz/file/x#y", dir)
	require.NoError(t, err)
	require.Equal(t, "c1502.rar", archive.FileName)
	require.Equal(t, []time.Duration{5 * time.Second}, *slept)
}

func TestFetchFailsWhenNothingRecovered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := &fakeProvider{name: "fake", prefix: "https://mega.nz/", retrieve: func(string) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	f, slept := newTestFetcher(p)

	_, err := f.Fetch(context.Background(), "https://mega.nz/file/x#y", dir)
	var fetchErr *chapter.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.ErrorContains(t, err, "quota exceeded")
	require.Len(t, *slept, 1)
}

func TestFetchMissingFileTriggersRecovery(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := &fakeProvider{name: "fake", prefix: "https://", retrieve: func(string) (string, error) {
		return "c7.rar", nil
	}}
	f, slept := newTestFetcher(p)

	_, err := f.Fetch(context.Background(), "https://host/c7.rar", dir)
	require.Error(t, err)
	require.Len(t, *slept, 1)
}

func TestFetchPicksFirstMatchingProvider(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mega := &fakeProvider{name: "mega", prefix: "https://mega.nz/", retrieve: func(dir string) (string, error) {
		return "c1.rar", os.WriteFile(filepath.Join(dir, "c1.rar"), nil, 0o600)
	}}
	direct := &fakeProvider{name: "direct", prefix: "https://", retrieve: func(string) (string, error) {
		return "", errors.New("should not be called")
	}}
	f, _ := newTestFetcher(mega, direct)

	_, err := f.Fetch(context.Background(), "https://mega.nz/file/x#y", dir)
	require.NoError(t, err)
	require.Equal(t, 1, mega.calls)
	require.Zero(t, direct.calls)

	_, err = f.Fetch(context.Background(), "ftp://elsewhere/c1.rar", dir)
	require.ErrorIs(t, err, chapter.ErrNoProvider)
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, sleepContext(ctx, time.Hour))
	require.NoError(t, sleepContext(context.Background(), 0))
}

type fakeLimiter struct {
	links []string
	err   error
}

func (l *fakeLimiter) Wait(_ context.Context, link string) error {
	l.links = append(l.links, link)
	return l.err
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := &fakeProvider{name: "mega", prefix: "https://mega.nz/", retrieve: func(dir string) (string, error) {
		return "c2.rar", os.WriteFile(filepath.Join(dir, "c2.rar"), nil, 0o600)
	}}
	limiter := &fakeLimiter{}
	f := New(Config{Limiter: limiter}, zap.NewNop(), p)

	_, err := f.Fetch(context.Background(), "https://mega.nz/file/x#y", dir)
	require.NoError(t, err)
	require.Equal(t, []string{"https://mega.nz/file/x#y"}, limiter.links)

	limiter.err = context.Canceled
	_, err = f.Fetch(context.Background(), "https://mega.nz/file/z#y", dir)
	var fetchErr *chapter.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 1, p.calls)
}
