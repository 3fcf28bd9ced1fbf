// Package events defines the lifecycle events published to a session's
// monitor channel.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/szaher/agentbus/internal/message"
)

// Type represents the kind of lifecycle event.
type Type string

const (
	SessionInitialized Type = "initialized"
	SessionCleanup     Type = "cleanup"
)

// Event is the flat JSON payload announced on the monitor channel when a
// session is created or torn down. Field presence varies by kind.
type Event struct {
	Kind        Type   `json:"event"`
	SessionID   string `json:"session_id"`
	MaxChildren int    `json:"max_children,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// NewInitialized creates the event announced when a summoner session
// comes up.
func NewInitialized(sessionID string, maxChildren int, createdAt string) *Event {
	return &Event{
		Kind:        SessionInitialized,
		SessionID:   sessionID,
		MaxChildren: maxChildren,
		CreatedAt:   createdAt,
	}
}

// NewCleanup creates the event announced when a session's keys are
// removed.
func NewCleanup(sessionID string) *Event {
	return &Event{
		Kind:      SessionCleanup,
		SessionID: sessionID,
		Timestamp: message.Now(),
	}
}

// JSON returns the event serialized as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is the interface for event consumers. Emitters are best-effort:
// delivery failure must never propagate to the caller.
type Emitter interface {
	Emit(ctx context.Context, channel string, event *Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter by discarding the event.
func (NoopEmitter) Emit(context.Context, string, *Event) {}

// PublishedEvent is one event captured by a CollectorEmitter.
type PublishedEvent struct {
	Channel string
	Event   *Event
}

// CollectorEmitter collects events in memory for testing.
type CollectorEmitter struct {
	Published []PublishedEvent
}

// Emit appends the event to the collector.
func (c *CollectorEmitter) Emit(_ context.Context, channel string, event *Event) {
	c.Published = append(c.Published, PublishedEvent{Channel: channel, Event: event})
}

// Publisher is the single Redis operation a PublishEmitter needs.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) (int64, error)
}

// PublishEmitter delivers events over Redis pub/sub. Publish failures are
// logged and swallowed so the durable path never depends on observers.
type PublishEmitter struct {
	client Publisher
	log    *slog.Logger
}

// NewPublishEmitter creates an emitter backed by a Redis publisher.
func NewPublishEmitter(client Publisher, log *slog.Logger) *PublishEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &PublishEmitter{client: client, log: log}
}

// Emit publishes the event to the channel.
func (p *PublishEmitter) Emit(ctx context.Context, channel string, event *Event) {
	payload, err := event.JSON()
	if err != nil {
		p.log.Warn("marshal event", "event", string(event.Kind), "error", err)
		return
	}
	if _, err := p.client.Publish(ctx, channel, string(payload)); err != nil {
		p.log.Warn("publish event",
			"event", string(event.Kind),
			"channel", channel,
			"error", err)
	}
}
