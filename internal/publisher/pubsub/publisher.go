// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Publisher publishes JSON payloads through a Pub/Sub client, keeping one
// topic handle per topic name.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher for the provided client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// NewFromProject dials Pub/Sub for projectID with default credentials.
func NewFromProject(ctx context.Context, projectID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client), nil
}

// Publish marshals the payload to JSON and publishes it to the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
