// Package transport moves message payloads through Redis lists and
// mirrors them onto pub/sub channels. Lists give exactly-once FIFO
// delivery to a single consumer; the pub/sub mirror is a best-effort
// broadcast for observers.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/agentbus/internal/message"
	"github.com/szaher/agentbus/internal/telemetry"
)

// Client is the Redis surface the transport needs.
type Client interface {
	RPush(ctx context.Context, queue string, values ...string) (int64, error)
	BLPop(ctx context.Context, timeout time.Duration, queues ...string) (string, string, bool, error)
	LLen(ctx context.Context, queue string) (int64, error)
	Publish(ctx context.Context, channel, payload string) (int64, error)
}

// Notification is the pub/sub mirror of an enqueued payload.
type Notification struct {
	Queue     string `json:"queue"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// SendResult describes one send, including the outcome of the optional
// pub/sub announcement.
type SendResult struct {
	Queue       string
	Length      int64
	Count       int
	Published   bool
	Subscribers int64

	// PublishErr holds the announcement failure, if any. The send itself
	// still succeeded.
	PublishErr error
}

// Sender pushes payloads onto queues.
type Sender struct {
	client  Client
	log     *slog.Logger
	metrics *telemetry.Metrics
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderLogger sets the sender logger.
func WithSenderLogger(log *slog.Logger) SenderOption {
	return func(s *Sender) { s.log = log }
}

// WithSenderMetrics attaches a metrics recorder.
func WithSenderMetrics(m *telemetry.Metrics) SenderOption {
	return func(s *Sender) { s.metrics = m }
}

// NewSender creates a sender over a Redis client.
func NewSender(client Client, opts ...SenderOption) *Sender {
	s := &Sender{client: client, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send pushes one payload onto queue and returns the new list length.
func (s *Sender) Send(ctx context.Context, queue, payload string) (int64, error) {
	length, err := s.client.RPush(ctx, queue, payload)
	if err != nil {
		return 0, fmt.Errorf("rpush to %q: %w", queue, err)
	}
	s.metrics.RecordSend(queue, 1)
	s.log.Debug("message sent", "queue", queue, "length", length)
	return length, nil
}

// SendMany pushes payloads in order with a single RPUSH, preserving
// their relative order in the queue.
func (s *Sender) SendMany(ctx context.Context, queue string, payloads ...string) (int64, error) {
	if len(payloads) == 0 {
		return s.client.LLen(ctx, queue)
	}
	length, err := s.client.RPush(ctx, queue, payloads...)
	if err != nil {
		return 0, fmt.Errorf("rpush to %q: %w", queue, err)
	}
	s.metrics.RecordSend(queue, len(payloads))
	s.log.Debug("messages sent", "queue", queue, "count", len(payloads), "length", length)
	return length, nil
}

// SendMessage encodes a typed message and pushes it.
func (s *Sender) SendMessage(ctx context.Context, queue string, m message.Message) (int64, error) {
	payload, err := message.Encode(m)
	if err != nil {
		return 0, err
	}
	return s.Send(ctx, queue, payload)
}

// SendWithPublish pushes the payload and then announces it on channel.
// The announcement is best-effort: its failure is recorded in the result
// while the send still counts as delivered. Zero subscribers is a
// success, the payload is already in the queue.
func (s *Sender) SendWithPublish(ctx context.Context, queue, payload, channel string) (SendResult, error) {
	length, err := s.client.RPush(ctx, queue, payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("rpush to %q: %w", queue, err)
	}
	s.metrics.RecordSend(queue, 1)

	result := SendResult{Queue: queue, Length: length, Count: 1}

	note := Notification{Queue: queue, Message: payload, Timestamp: message.Now()}
	data, err := json.Marshal(note)
	if err == nil {
		result.Subscribers, err = s.client.Publish(ctx, channel, string(data))
	}
	if err != nil {
		s.log.Warn("publish after rpush failed", "channel", channel, "error", err)
		s.metrics.RecordPublish(channel, false)
		result.PublishErr = err
		return result, nil
	}

	result.Published = true
	s.metrics.RecordPublish(channel, true)
	s.log.Debug("message sent and announced",
		"queue", queue, "channel", channel, "subscribers", result.Subscribers)
	return result, nil
}

// QueueLength reports the current depth of a queue.
func (s *Sender) QueueLength(ctx context.Context, queue string) (int64, error) {
	length, err := s.client.LLen(ctx, queue)
	if err != nil {
		return 0, fmt.Errorf("llen %q: %w", queue, err)
	}
	return length, nil
}
