package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/agentbus/internal/message"
	"github.com/szaher/agentbus/internal/session"
	"github.com/szaher/agentbus/internal/telemetry"
	"github.com/szaher/agentbus/internal/transport"
)

// Child is the agent side of a session: it consumes its task queue and
// delivers reports back to the parent.
type Child struct {
	cfg       *session.Config
	id        int
	client    Client
	taskQueue string
	reports   string
	sender    *transport.Sender
	recv      *transport.Receiver
	log       *slog.Logger
	metrics   *telemetry.Metrics
}

// ChildOption configures a Child.
type ChildOption func(*Child)

// WithChildLogger sets the child logger.
func WithChildLogger(log *slog.Logger) ChildOption {
	return func(c *Child) { c.log = log }
}

// WithChildMetrics attaches a metrics recorder to the underlying
// transport.
func WithChildMetrics(m *telemetry.Metrics) ChildOption {
	return func(c *Child) { c.metrics = m }
}

// NewChild creates the child side of a session. The child id must be
// within the session's configured range.
func NewChild(client Client, cfg *session.Config, childID int, opts ...ChildOption) (*Child, error) {
	taskQueue, err := cfg.TaskQueue(childID)
	if err != nil {
		return nil, err
	}
	reports, err := cfg.ReportQueue(childID)
	if err != nil {
		return nil, err
	}

	c := &Child{
		cfg:       cfg,
		id:        childID,
		client:    client,
		taskQueue: taskQueue,
		reports:   reports,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("child_id", childID)
	c.sender = transport.NewSender(client,
		transport.WithSenderLogger(c.log), transport.WithSenderMetrics(c.metrics))
	c.recv = transport.NewReceiver(client,
		transport.WithReceiverLogger(c.log), transport.WithReceiverMetrics(c.metrics))
	return c, nil
}

// ID returns the child's position in the session, starting at one.
func (c *Child) ID() int { return c.id }

// NextTask pops the next directive from the child's task queue. The
// result is either a *message.Task or a *message.Shutdown; ok is false
// when the wait expired empty. Payloads of any other shape are
// discarded with a warning.
func (c *Child) NextTask(ctx context.Context, timeout time.Duration) (message.Message, bool, error) {
	for {
		msg, ok, err := c.recv.Receive(ctx, c.taskQueue, timeout)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		switch directive := msg.Parsed.(type) {
		case *message.Task:
			return directive, true, nil
		case *message.Shutdown:
			if directive.TargetChildID != nil && *directive.TargetChildID != c.id {
				c.log.Warn("shutdown for another child on this queue",
					"target_child_id", *directive.TargetChildID)
				continue
			}
			return directive, true, nil
		default:
			c.log.Warn("unexpected payload on task queue", "queue", c.taskQueue)
		}
	}
}

// Report delivers a report to the parent's report queue.
func (c *Child) Report(ctx context.Context, report *message.Report) error {
	if _, err := c.sender.SendMessage(ctx, c.reports, report); err != nil {
		return fmt.Errorf("deliver report for task %s: %w", report.TaskID, err)
	}
	return nil
}

// EmitStatus appends this child's lifecycle event to the status stream.
func (c *Child) EmitStatus(ctx context.Context, event string, details map[string]interface{}) error {
	return emitStatus(ctx, c.client, c.cfg, c.id, event, details)
}

// Handler executes one task and returns its report. Returning nil
// stands for a success with no result payload.
type Handler func(ctx context.Context, task *message.Task) *message.Report

// Run consumes the task queue until a shutdown arrives or ctx is
// canceled. Every task goes through handler and its report back to the
// parent; lifecycle events bracket the loop on the status stream.
// Status emit failures are logged, not fatal; a failed report delivery
// stops the loop.
func (c *Child) Run(ctx context.Context, timeout time.Duration, handler Handler) error {
	c.emitQuietly(ctx, message.EventStarted, nil)
	defer c.emitQuietly(context.WithoutCancel(ctx), message.EventStopped, nil)

	ready := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ready {
			c.emitQuietly(ctx, message.EventReady, nil)
			ready = true
		}

		msg, ok, err := c.NextTask(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !ok {
			continue
		}

		switch directive := msg.(type) {
		case *message.Shutdown:
			c.log.Info("shutdown received",
				"reason", directive.Reason, "graceful", directive.Graceful)
			return nil
		case *message.Task:
			ready = false
			c.emitQuietly(ctx, message.EventBusy, map[string]interface{}{"task_id": directive.TaskID})

			started := time.Now()
			report := handler(ctx, directive)
			if report == nil {
				report = message.Success(directive.TaskID, c.cfg.SessionID, c.id, nil)
			}
			if report.DurationMS == 0 {
				report.DurationMS = int(time.Since(started).Milliseconds())
			}

			if err := c.Report(ctx, report); err != nil {
				return err
			}
			c.emitQuietly(ctx, message.EventCompleted, map[string]interface{}{"task_id": directive.TaskID})
		}
	}
}

func (c *Child) emitQuietly(ctx context.Context, event string, details map[string]interface{}) {
	if err := c.EmitStatus(ctx, event, details); err != nil {
		c.log.Warn("status emit failed", "event", event, "error", err)
	}
}
