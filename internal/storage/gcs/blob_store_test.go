package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/chapterwatch/internal/storage/gcs"
)

func newTestStore(t *testing.T, cfg gcs.Config, status int) (*gcs.BlobStore, func() []string) {
	t.Helper()

	var (
		mu      sync.Mutex
		uploads []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if status != http.StatusOK {
			http.Error(w, `{"error":{"code":403,"message":"denied"}}`, status)
			return
		}
		mu.Lock()
		uploads = append(uploads, string(body))
		mu.Unlock()
		fmt.Fprintf(w, `{"name":"object","bucket":%q}`, cfg.Bucket)
	}))
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), uploads...)
	}
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	store, uploads := newTestStore(t, gcs.Config{Bucket: "chapters", Prefix: "/one-piece/"}, http.StatusOK)

	uri, err := store.PutObject(context.Background(), "One Piece - 1502.pdf", "application/pdf", bytes.NewReader([]byte("%PDF-data")))
	require.NoError(t, err)
	assert.Equal(t, "gs://chapters/one-piece/One Piece - 1502.pdf", uri)

	got := uploads()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], `"one-piece/One Piece - 1502.pdf"`)
	assert.Contains(t, got[0], "%PDF-data")
	assert.Contains(t, got[0], "application/pdf")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, gcs.Config{Bucket: "chapters"}, http.StatusForbidden)
	_, err := store.PutObject(context.Background(), "x.pdf", "", bytes.NewReader([]byte("data")))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
	_, err = gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
}

func TestPutObjectRequiresName(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, gcs.Config{Bucket: "chapters"}, http.StatusOK)
	_, err := s.PutObject(context.Background(), "  ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
