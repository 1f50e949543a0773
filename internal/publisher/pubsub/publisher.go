// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

type sendFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	send   sendFunc
}

// New creates a client for projectID and binds it to topicName.
func New(ctx context.Context, projectID, topicName string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	return &Publisher{
		client: client,
		topic:  topic,
		send: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		},
	}, nil
}

// Publish marshals the payload to JSON and publishes it. The subject travels as an attribute.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	if p.send == nil {
		return "", fmt.Errorf("%w: pubsub publisher is not configured", crawler.ErrPublish)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %w", crawler.ErrPublish, err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"subject": subject}}
	if rec, ok := payload.(crawler.Record); ok {
		msg.Attributes["id"] = rec.ID
		msg.Attributes["type"] = rec.Type
	}

	id, err := p.send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("%w: publish message: %w", crawler.ErrPublish, err)
	}
	return id, nil
}

// Probe checks that the topic exists.
func (p *Publisher) Probe(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("probe pubsub topic: %w", err)
	}
	if !ok {
		return fmt.Errorf("pubsub topic %s does not exist", p.topic.ID())
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
