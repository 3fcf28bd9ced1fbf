// Package orchestration wires the parent and child halves of a session
// over the queue transport: task fan-out, report collection, lifecycle
// status events, and shutdown of the whole tree.
package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/szaher/agentbus/internal/message"
	"github.com/szaher/agentbus/internal/session"
	"github.com/szaher/agentbus/internal/telemetry"
	"github.com/szaher/agentbus/internal/transport"
)

// Client is the Redis surface the orchestration layer needs: the queue
// transport plus stream appends for status and result events.
type Client interface {
	transport.Client
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// Parent drives a session from the orchestrator side.
type Parent struct {
	cfg     *session.Config
	client  Client
	sender  *transport.Sender
	recv    *transport.Receiver
	log     *slog.Logger
	metrics *telemetry.Metrics
}

// ParentOption configures a Parent.
type ParentOption func(*Parent)

// WithParentLogger sets the parent logger.
func WithParentLogger(log *slog.Logger) ParentOption {
	return func(p *Parent) { p.log = log }
}

// WithParentMetrics attaches a metrics recorder to the underlying
// transport.
func WithParentMetrics(m *telemetry.Metrics) ParentOption {
	return func(p *Parent) { p.metrics = m }
}

// NewParent creates the parent side of a session.
func NewParent(client Client, cfg *session.Config, opts ...ParentOption) *Parent {
	p := &Parent{cfg: cfg, client: client, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.sender = transport.NewSender(client,
		transport.WithSenderLogger(p.log), transport.WithSenderMetrics(p.metrics))
	p.recv = transport.NewReceiver(client,
		transport.WithReceiverLogger(p.log), transport.WithReceiverMetrics(p.metrics))
	return p
}

// TaskOption adjusts a task before it is sent.
type TaskOption func(*message.Task)

// WithTaskID pins the task id instead of generating one.
func WithTaskID(id string) TaskOption {
	return func(t *message.Task) { t.TaskID = id }
}

// WithContext attaches free-form context for the child.
func WithContext(kv map[string]interface{}) TaskOption {
	return func(t *message.Task) { t.Context = kv }
}

// WithPriority sets the task priority (1 = highest, 5 = lowest).
func WithPriority(priority int) TaskOption {
	return func(t *message.Task) { t.Priority = priority }
}

// WithTaskTimeout bounds the task execution time, in seconds.
func WithTaskTimeout(seconds int) TaskOption {
	return func(t *message.Task) { t.Timeout = seconds }
}

// WithOutputDir tells the child where to write artifacts.
func WithOutputDir(dir string) TaskOption {
	return func(t *message.Task) { t.OutputDir = dir }
}

// SendTask builds a task from the prompt and pushes it onto the child's
// task queue. In summoner mode the send is also announced on the
// monitor channel, best-effort. Returns the task id.
func (p *Parent) SendTask(ctx context.Context, childID int, prompt string, opts ...TaskOption) (string, error) {
	queue, err := p.cfg.TaskQueue(childID)
	if err != nil {
		return "", err
	}

	task := message.NewTask(p.cfg.SessionID, childID, prompt)
	for _, opt := range opts {
		opt(task)
	}

	payload, err := message.Encode(task)
	if err != nil {
		return "", err
	}

	if p.cfg.Mode == session.ModeSummoner {
		if _, err := p.sender.SendWithPublish(ctx, queue, payload, p.cfg.MonitorChannel); err != nil {
			return "", err
		}
	} else {
		if _, err := p.sender.Send(ctx, queue, payload); err != nil {
			return "", err
		}
	}

	p.log.Info("task sent", "task_id", task.TaskID, "child_id", childID, "queue", queue)
	return task.TaskID, nil
}

// NextReport blocks for the next report from any child. In summoner
// mode every child shares one queue; normal mode polls all child queues
// at once. Payloads that are not reports are discarded with a warning.
func (p *Parent) NextReport(ctx context.Context, timeout time.Duration) (*message.Report, bool, error) {
	for {
		msg, ok, err := p.recv.ReceiveAny(ctx, p.cfg.ChildToParentLists, timeout)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		report, isReport := msg.Parsed.(*message.Report)
		if !isReport {
			p.log.Warn("unexpected payload on report queue", "queue", msg.Queue)
			continue
		}
		return report, true, nil
	}
}

// CollectReports gathers reports until count have arrived or the
// deadline passes, demultiplexed by task id. A child that reports twice
// for one task overwrites its earlier report.
func (p *Parent) CollectReports(ctx context.Context, count int, deadline time.Duration) (map[string]*message.Report, error) {
	byTask := make(map[string]*message.Report, count)
	deadlineAt := time.Now().Add(deadline)

	for len(byTask) < count {
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			break
		}
		report, ok, err := p.NextReport(ctx, remaining)
		if err != nil {
			return byTask, err
		}
		if !ok {
			break
		}
		byTask[report.TaskID] = report
	}

	p.log.Info("reports collected", "expected", count, "collected", len(byTask))
	return byTask, nil
}

// Shutdown pushes a graceful or immediate shutdown onto every child's
// task queue, one push per child, fanned out concurrently. Returns the
// number of children signaled.
func (p *Parent) Shutdown(ctx context.Context, reason string, graceful bool) (int, error) {
	payload, err := p.shutdownPayload(reason, graceful, nil)
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	for childID := 1; childID <= p.cfg.MaxChildren; childID++ {
		queue, err := p.cfg.TaskQueue(childID)
		if err != nil {
			return 0, err
		}
		g.Go(func() error {
			_, err := p.sender.Send(ctx, queue, payload)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("broadcast shutdown: %w", err)
	}

	p.log.Info("shutdown broadcast",
		"reason", reason, "graceful", graceful, "children", p.cfg.MaxChildren)
	return p.cfg.MaxChildren, nil
}

// ShutdownChild signals a single child to stop.
func (p *Parent) ShutdownChild(ctx context.Context, childID int, reason string, graceful bool) error {
	queue, err := p.cfg.TaskQueue(childID)
	if err != nil {
		return err
	}
	payload, err := p.shutdownPayload(reason, graceful, &childID)
	if err != nil {
		return err
	}
	if _, err := p.sender.Send(ctx, queue, payload); err != nil {
		return err
	}
	p.log.Info("shutdown sent", "child_id", childID, "reason", reason, "graceful", graceful)
	return nil
}

func (p *Parent) shutdownPayload(reason string, graceful bool, target *int) (string, error) {
	msg := message.NewShutdown(p.cfg.SessionID)
	if reason != "" {
		msg.Reason = reason
	}
	msg.Graceful = graceful
	msg.TargetChildID = target
	return message.Encode(msg)
}

// RequestShutdown pushes a shutdown onto the session control list for
// whichever process is waiting on it.
func (p *Parent) RequestShutdown(ctx context.Context, reason string, graceful bool) error {
	payload, err := p.shutdownPayload(reason, graceful, nil)
	if err != nil {
		return err
	}
	_, err = p.sender.Send(ctx, p.cfg.ControlList, payload)
	return err
}

// WaitForShutdown blocks on the session control list until a shutdown
// arrives or the wait expires empty. Other payloads on the list are
// discarded with a warning.
func (p *Parent) WaitForShutdown(ctx context.Context, timeout time.Duration) (*message.Shutdown, bool, error) {
	for {
		msg, ok, err := p.recv.Receive(ctx, p.cfg.ControlList, timeout)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		shutdown, isShutdown := msg.Parsed.(*message.Shutdown)
		if !isShutdown {
			p.log.Warn("unexpected payload on control list", "queue", msg.Queue)
			continue
		}
		return shutdown, true, nil
	}
}

// EmitStatus appends a lifecycle event for one child to the status
// stream. Use child id zero for events about the parent itself.
func (p *Parent) EmitStatus(ctx context.Context, childID int, event string, details map[string]interface{}) error {
	return emitStatus(ctx, p.client, p.cfg, childID, event, details)
}

// AppendResult records a task outcome on the result stream, which
// outlives the report queues for post-hoc inspection.
func (p *Parent) AppendResult(ctx context.Context, report *message.Report) error {
	values := map[string]interface{}{
		"task_id":    report.TaskID,
		"session_id": report.SessionID,
		"child_id":   report.ChildID,
		"status":     report.Status,
		"timestamp":  message.Now(),
	}
	if report.Error != "" {
		values["error"] = report.Error
	}
	if report.DurationMS > 0 {
		values["duration_ms"] = report.DurationMS
	}
	if report.Result != nil {
		result, err := json.Marshal(report.Result)
		if err != nil {
			return fmt.Errorf("marshal result payload: %w", err)
		}
		values["result"] = string(result)
	}

	if _, err := p.client.XAdd(ctx, p.cfg.ResultStream, values); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

func emitStatus(ctx context.Context, client Client, cfg *session.Config, childID int, event string, details map[string]interface{}) error {
	values := map[string]interface{}{
		"event":      event,
		"session_id": cfg.SessionID,
		"child_id":   childID,
		"timestamp":  message.Now(),
	}
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal status details: %w", err)
		}
		values["details"] = string(data)
	}

	if _, err := client.XAdd(ctx, cfg.StatusStream, values); err != nil {
		return fmt.Errorf("append status event: %w", err)
	}
	return nil
}
