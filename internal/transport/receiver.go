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

// Received is one payload popped from a queue.
type Received struct {
	// Index numbers the receipt within a batch receive, zero for single
	// receives.
	Index     int
	Queue     string
	Raw       string
	Timestamp string

	// Parsed is the decoded envelope when Raw is a known message type,
	// nil otherwise. The transport stays payload-agnostic: an opaque
	// payload is delivered all the same.
	Parsed message.Message
}

// MarshalJSON renders the receipt with the original field names, adding
// the parsed payload when one decoded.
func (r Received) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"index":     r.Index,
		"list":      r.Queue,
		"message":   r.Raw,
		"timestamp": r.Timestamp,
	}
	if r.Parsed != nil {
		out["parsed_type"] = string(r.Parsed.Kind())
		out["parsed"] = r.Parsed
	}
	return json.Marshal(out)
}

// Receiver pops payloads from queues.
type Receiver struct {
	client  Client
	log     *slog.Logger
	metrics *telemetry.Metrics
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverLogger sets the receiver logger.
func WithReceiverLogger(log *slog.Logger) ReceiverOption {
	return func(r *Receiver) { r.log = log }
}

// WithReceiverMetrics attaches a metrics recorder.
func WithReceiverMetrics(m *telemetry.Metrics) ReceiverOption {
	return func(r *Receiver) { r.metrics = m }
}

// NewReceiver creates a receiver over a Redis client.
func NewReceiver(client Client, opts ...ReceiverOption) *Receiver {
	r := &Receiver{client: client, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive pops the next payload from queue, waiting up to timeout. A
// zero timeout blocks until a payload arrives. The second return is
// false when the wait expired empty; that is a quiet queue, not an
// error.
func (r *Receiver) Receive(ctx context.Context, queue string, timeout time.Duration) (*Received, bool, error) {
	return r.ReceiveAny(ctx, []string{queue}, timeout)
}

// ReceiveAny blocks on several queues at once and pops from the first
// that has a payload. Queue order is the priority order.
func (r *Receiver) ReceiveAny(ctx context.Context, queues []string, timeout time.Duration) (*Received, bool, error) {
	start := time.Now()
	queue, raw, ok, err := r.client.BLPop(ctx, timeout, queues...)
	if err != nil {
		return nil, false, fmt.Errorf("blpop %v: %w", queues, err)
	}
	if !ok {
		for _, q := range queues {
			r.metrics.RecordTimeout(q)
		}
		r.log.Debug("receive timed out", "queues", queues, "timeout", timeout)
		return nil, false, nil
	}

	r.metrics.RecordReceive(queue, time.Since(start))
	return r.received(queue, raw), true, nil
}

// ReceiveMany pops up to count payloads, waiting up to timeout for each.
// It returns what it collected once a wait expires empty.
func (r *Receiver) ReceiveMany(ctx context.Context, queue string, count int, timeout time.Duration) ([]*Received, error) {
	var received []*Received
	for i := 0; i < count; i++ {
		msg, ok, err := r.Receive(ctx, queue, timeout)
		if err != nil {
			return received, err
		}
		if !ok {
			break
		}
		msg.Index = i
		received = append(received, msg)
	}
	return received, nil
}

func (r *Receiver) received(queue, raw string) *Received {
	rec := &Received{Queue: queue, Raw: raw, Timestamp: message.Now()}
	parsed, err := message.Parse(raw)
	if err != nil {
		r.log.Debug("payload is not a typed message", "queue", queue, "error", err)
		return rec
	}
	rec.Parsed = parsed
	return rec
}

// Iter returns an iterator over queues. The iterator retries expired
// waits, so a quiet queue never ends the stream; it stops only on
// context cancellation or a transport failure.
func (r *Receiver) Iter(queues []string, timeout time.Duration) *Iterator {
	return &Iterator{recv: r, queues: queues, timeout: timeout}
}

// Iterator yields payloads from a set of queues until canceled.
type Iterator struct {
	recv    *Receiver
	queues  []string
	timeout time.Duration
}

// Next blocks for the next payload. It returns nil, nil once ctx is
// canceled, and a non-nil error when the transport fails.
func (it *Iterator) Next(ctx context.Context) (*Received, error) {
	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		msg, ok, err := it.recv.ReceiveAny(ctx, it.queues, it.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
		if !ok {
			continue
		}
		return msg, nil
	}
}
