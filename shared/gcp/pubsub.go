package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubConfig selects the project, topic and credentials. The client honours
// PUBSUB_EMULATOR_HOST when it is set.
type PubSubConfig struct {
	ProjectID       string
	TopicID         string
	CredentialsFile string
}

// Topic publishes to a single Pub/Sub topic.
type Topic struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
}

// NewTopic creates a client for the configured project and binds it to the
// topic. The topic itself must already exist.
func NewTopic(ctx context.Context, cfg PubSubConfig) (*Topic, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a pubsub client")
	}
	if cfg.TopicID == "" {
		return nil, fmt.Errorf("topicID must be provided to create a pubsub client")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}

	t := NewTopicFromClient(client, cfg.TopicID)
	t.owned = true
	return t, nil
}

// NewTopicFromClient binds an existing client to topicID. Close leaves the
// client open.
func NewTopicFromClient(client *pubsub.Client, topicID string) *Topic {
	return &Topic{client: client, topic: client.Topic(topicID)}
}

// Publish sends one message and blocks until the server has accepted it,
// returning the server-assigned message ID.
func (t *Topic) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	res := t.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish to topic %s: %w", t.topic.ID(), err)
	}
	return id, nil
}

// Close flushes pending messages and, when the client was created by NewTopic,
// closes it.
func (t *Topic) Close() error {
	t.topic.Stop()
	if !t.owned {
		return nil
	}
	return t.client.Close()
}
