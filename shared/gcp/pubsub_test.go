package gcp

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

func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestTopic_Publish(t *testing.T) {
	ctx := context.Background()
	srv, client := newFakeClient(t)

	_, err := client.CreateTopic(ctx, "bulk-jobs")
	require.NoError(t, err)

	topic := NewTopicFromClient(client, "bulk-jobs")
	defer topic.Close()

	id, err := topic.Publish(ctx, []byte(`{"job_id":"j1"}`), map[string]string{"job_id": "j1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.JSONEq(t, `{"job_id":"j1"}`, string(msgs[0].Data))
	assert.Equal(t, "j1", msgs[0].Attributes["job_id"])
}

func TestTopic_PublishToMissingTopic(t *testing.T) {
	_, client := newFakeClient(t)

	topic := NewTopicFromClient(client, "nope")
	defer topic.Close()

	_, err := topic.Publish(context.Background(), []byte("x"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish to topic nope")
}

func TestNewTopic_Validation(t *testing.T) {
	tests := []struct {
		name      string
		cfg       PubSubConfig
		errString string
	}{
		{name: "missing project", cfg: PubSubConfig{TopicID: "t"}, errString: "projectID must be provided"},
		{name: "missing topic", cfg: PubSubConfig{ProjectID: "p"}, errString: "topicID must be provided"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTopic(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
