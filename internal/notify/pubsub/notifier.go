// Package pubsub announces completed classification runs on a Google Cloud
// Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/factcheck-aggregator/internal/classify"
)

// EventRunCompleted is the "event" attribute of run-completed messages.
const EventRunCompleted = "classification_run_completed"

// Notifier publishes one message per persisted run.
type Notifier struct {
	topic *pubsub.Topic
}

var _ classify.Notifier = (*Notifier)(nil)

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// RunCompleted marshals the report to JSON and publishes it, waiting for
// the server acknowledgement.
func (n *Notifier) RunCompleted(ctx context.Context, report classify.Report) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":  EventRunCompleted,
			"run_id": report.RunID,
		},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (n *Notifier) Stop() {
	if n.topic != nil {
		n.topic.Stop()
	}
}
