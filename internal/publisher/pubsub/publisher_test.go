package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/chapterwatch/internal/chapter"
	"github.com/JakeFAU/chapterwatch/internal/publisher/pubsub"
)

func newFakeClient(t *testing.T) (*gpubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := gpubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishChapterEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "chapters")
	require.NoError(t, err)

	pub := pubsub.New(client)
	t.Cleanup(pub.Stop)

	event := chapter.Event{Type: chapter.EventChapterReady, Chapter: 1502, Link: "https://blog.example/c1502"}
	id, err := pub.Publish(ctx, "chapters", event)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, chapter.EventChapterReady, msgs[0].Attributes["event_type"])
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])

	var got chapter.Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, 1502, got.Chapter)
}

func TestPublishMissingTopic(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	pub := pubsub.New(client)
	t.Cleanup(pub.Stop)

	_, err := pub.Publish(context.Background(), "does-not-exist", map[string]string{"k": "v"})
	require.Error(t, err)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	_, err := pubsub.New(nil).Publish(context.Background(), "t", "x")
	require.Error(t, err)

	client, _ := newFakeClient(t)
	_, err = pubsub.New(client).Publish(context.Background(), "", "x")
	require.Error(t, err)
}
