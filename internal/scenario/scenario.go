// Package scenario runs self-contained demo sessions: a summoner
// parent plus a set of in-process worker children driven from a task
// list.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/szaher/agentbus/internal/events"
	"github.com/szaher/agentbus/internal/message"
	"github.com/szaher/agentbus/internal/orchestration"
	"github.com/szaher/agentbus/internal/session"
	"github.com/szaher/agentbus/internal/telemetry"
)

// Client is the full Redis surface a demo run needs.
type Client interface {
	orchestration.Client
	session.Client
}

// TaskSpec is one entry in a scenario task file.
type TaskSpec struct {
	Instruction string                 `yaml:"instruction"`
	Child       int                    `yaml:"child"`
	Priority    int                    `yaml:"priority"`
	Timeout     int                    `yaml:"timeout"`
	Context     map[string]interface{} `yaml:"context"`
}

// LoadTasks reads a YAML task file of the form:
//
//	tasks:
//	  - instruction: summarize the diff
//	  - instruction: run the linters
//	    child: 2
func LoadTasks(path string) ([]TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	var doc struct {
		Tasks []TaskSpec `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("task file %s has no tasks", path)
	}
	for i, task := range doc.Tasks {
		if strings.TrimSpace(task.Instruction) == "" {
			return nil, fmt.Errorf("task %d has no instruction", i+1)
		}
	}
	return doc.Tasks, nil
}

// SyntheticTasks builds n generic tasks for runs without a task file.
func SyntheticTasks(n int) []TaskSpec {
	tasks := make([]TaskSpec, n)
	for i := range tasks {
		tasks[i] = TaskSpec{Instruction: fmt.Sprintf("demo task %d of %d", i+1, n)}
	}
	return tasks
}

// Options configures a demo run.
type Options struct {
	// Children is the worker count. Zero means two, raised to cover the
	// highest child a task addresses.
	Children int

	Tasks []TaskSpec

	// Keep leaves the session and its streams behind for inspection.
	Keep bool

	// Deadline bounds report collection. Zero means 30 seconds.
	Deadline time.Duration

	// Poll is the child queue poll interval. Zero means 500ms.
	Poll time.Duration

	// Handler runs each task. Nil means EchoHandler.
	Handler orchestration.Handler

	Log     *slog.Logger
	Metrics *telemetry.Metrics
}

// Result summarizes a finished demo run.
type Result struct {
	Prefix      string
	SessionID   string
	Sent        int
	Succeeded   int
	Failed      int
	Missing     int
	Elapsed     time.Duration
	Reports     map[string]*message.Report
	CleanedKeys int64
}

// EchoHandler is the default demo worker: it reports the instruction
// back as the result.
func EchoHandler(_ context.Context, task *message.Task) *message.Report {
	return message.Success(task.TaskID, task.SessionID, task.ChildID,
		map[string]interface{}{"echo": task.Prompt})
}

// Run executes a full demo session: initialize a summoner namespace,
// start the children, fan the tasks out, collect and persist the
// reports, shut the children down, and clean the session up unless Keep
// is set.
func Run(ctx context.Context, client Client, opts Options) (*Result, error) {
	if len(opts.Tasks) == 0 {
		return nil, errors.New("no tasks to run")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	children := opts.Children
	if children <= 0 {
		children = 2
		for _, task := range opts.Tasks {
			if task.Child > children {
				children = task.Child
			}
		}
	}
	for i, task := range opts.Tasks {
		if task.Child > children {
			return nil, fmt.Errorf("task %d addresses child %d, run has %d children",
				i+1, task.Child, children)
		}
	}
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	handler := opts.Handler
	if handler == nil {
		handler = EchoHandler
	}

	registry := session.NewRegistry(client,
		session.WithLogger(log),
		session.WithEmitter(events.NewPublishEmitter(client, log)))

	cfg, err := registry.Initialize(ctx, session.InitOptions{
		Mode:        session.ModeSummoner,
		MaxChildren: children,
	})
	if err != nil {
		return nil, err
	}
	log = telemetry.SessionLogger(log, ctx, cfg.SessionID)

	parent := orchestration.NewParent(client, cfg,
		orchestration.WithParentLogger(log),
		orchestration.WithParentMetrics(opts.Metrics))

	g, gctx := errgroup.WithContext(ctx)
	for id := 1; id <= children; id++ {
		child, err := orchestration.NewChild(client, cfg, id,
			orchestration.WithChildLogger(log),
			orchestration.WithChildMetrics(opts.Metrics))
		if err != nil {
			return nil, err
		}
		g.Go(func() error { return child.Run(gctx, poll, handler) })
	}

	start := time.Now()
	taskIDs := make([]string, 0, len(opts.Tasks))
	for i, spec := range opts.Tasks {
		childID := spec.Child
		if childID == 0 {
			childID = 1 + i%children
		}
		var taskOpts []orchestration.TaskOption
		if spec.Priority > 0 {
			taskOpts = append(taskOpts, orchestration.WithPriority(spec.Priority))
		}
		if spec.Timeout > 0 {
			taskOpts = append(taskOpts, orchestration.WithTaskTimeout(spec.Timeout))
		}
		if len(spec.Context) > 0 {
			taskOpts = append(taskOpts, orchestration.WithContext(spec.Context))
		}

		taskID, err := parent.SendTask(ctx, childID, spec.Instruction, taskOpts...)
		if err != nil {
			stopChildren(ctx, parent, g, log)
			return nil, fmt.Errorf("send task %d: %w", i+1, err)
		}
		taskIDs = append(taskIDs, taskID)
	}

	reports, runErr := parent.CollectReports(ctx, len(taskIDs), deadline)

	for _, report := range reports {
		if err := parent.AppendResult(ctx, report); err != nil {
			log.Warn("persist result failed", "task_id", report.TaskID, "error", err)
		}
	}

	stopChildren(ctx, parent, g, log)

	result := &Result{
		Prefix:    cfg.Prefix,
		SessionID: cfg.SessionID,
		Sent:      len(taskIDs),
		Elapsed:   time.Since(start),
		Reports:   reports,
	}
	for _, taskID := range taskIDs {
		report, ok := reports[taskID]
		switch {
		case !ok:
			result.Missing++
		case report.Status == message.StatusSuccess:
			result.Succeeded++
		default:
			result.Failed++
		}
	}

	if !opts.Keep {
		deleted, err := registry.Cleanup(ctx, cfg.Prefix)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			log.Warn("cleanup failed", "prefix", cfg.Prefix, "error", err)
		}
		result.CleanedKeys = deleted
		opts.Metrics.RecordCleanup(int(deleted))
	}

	return result, runErr
}

func stopChildren(ctx context.Context, parent *orchestration.Parent, g *errgroup.Group, log *slog.Logger) {
	if _, err := parent.Shutdown(ctx, "scenario complete", true); err != nil {
		log.Warn("shutdown broadcast failed", "error", err)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("child exited with error", "error", err)
	}
}
