package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "harvester-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "harvests")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Close()

	id, err := pub.Publish(ctx, "harvests", map[string]any{"run_id": "run-1", "recorded": 9})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"run_id":"run-1","recorded":9}`, string(msgs[0].Data))
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublishUnknownTopicFails(t *testing.T) {
	client, _ := newFakeClient(t)
	pub := New(client)
	defer pub.Close()

	_, err := pub.Publish(context.Background(), "missing", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "publish message")
}

func TestPublishValidates(t *testing.T) {
	_, err := New(nil).Publish(context.Background(), "harvests", "x")
	require.ErrorContains(t, err, "not configured")

	client, _ := newFakeClient(t)
	_, err = New(client).Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = New(client).Publish(context.Background(), "harvests", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
