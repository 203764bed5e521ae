// Package pubsub publishes incident notifications to a Google Cloud Pub/Sub
// topic for downstream consumers (ticketing, paging, SIEM).
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	cloudpubsub "cloud.google.com/go/pubsub"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/respond/internal/incident"
)

const sourceAttr = "respond"

// Notifier publishes each notification as one JSON message.
type Notifier struct {
	client *cloudpubsub.Client
	topic  *cloudpubsub.Topic
	owned  bool
	logger log.Logger
}

var _ incident.Notifier = (*Notifier)(nil)

// New dials Pub/Sub for projectID and publishes to topicID. The topic must
// already exist.
func New(ctx context.Context, projectID, topicID string, logger log.Logger) (*Notifier, error) {
	client, err := cloudpubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	n := NewWithClient(client, topicID, logger)
	n.owned = true
	return n, nil
}

// NewWithClient publishes through an existing client, which the caller keeps
// ownership of.
func NewWithClient(client *cloudpubsub.Client, topicID string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		client: client,
		topic:  client.Topic(topicID),
		logger: logger,
	}
}

// Notify publishes n and waits for the server to acknowledge it.
func (p *Notifier) Notify(ctx context.Context, n *incident.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal notification: %w", err)
	}

	id, err := p.topic.Publish(ctx, &cloudpubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":         string(n.Type),
			"priorityTier": string(n.PriorityTier),
			"source":       sourceAttr,
		},
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("pubsub: publish to %s: %w", p.topic.ID(), err)
	}

	p.logger.Info(ctx, "pubsub notification published", "topic", p.topic.ID(), "message_id", id, "type", n.Type)
	return nil
}

// Close flushes pending publishes and closes the client if New created it.
func (p *Notifier) Close() error {
	p.topic.Stop()
	if p.owned {
		return p.client.Close()
	}
	return nil
}
