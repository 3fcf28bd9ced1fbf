// Package message defines the typed JSON envelopes exchanged over session
// queues and a single parse entry point that dispatches on the type field.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type identifies the variant carried by an envelope.
type Type string

const (
	TypeTask     Type = "task"
	TypeReport   Type = "report"
	TypeShutdown Type = "shutdown"
	TypeStatus   Type = "status"
)

// Report status values. Any other value is rejected at construction and
// at parse time.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Status events emitted by agents over the status stream.
const (
	EventStarted   = "started"
	EventReady     = "ready"
	EventBusy      = "busy"
	EventCompleted = "completed"
	EventStopped   = "stopped"
)

var (
	// ErrUnknownType is returned by Parse for a missing or unrecognized
	// type discriminator.
	ErrUnknownType = errors.New("unknown message type")

	// ErrInvalidStatus is returned when a report status is outside the
	// closed success/failure set.
	ErrInvalidStatus = errors.New("invalid report status")
)

// TimestampLayout is the wire format for envelope timestamps.
const TimestampLayout = "2006-01-02T15:04:05-0700"

// Now returns the current time in the wire timestamp format.
func Now() string {
	return time.Now().Format(TimestampLayout)
}

// NewID returns a fresh sortable message identifier.
func NewID() string {
	return ulid.Make().String()
}

// Header carries the fields common to every envelope.
type Header struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
	MessageID string `json:"message_id"`
}

// Kind returns the envelope type.
func (h Header) Kind() Type { return h.Type }

func newHeader(t Type) Header {
	return Header{Type: t, Timestamp: Now(), MessageID: NewID()}
}

// Message is implemented by all envelope variants.
type Message interface {
	Kind() Type
}

// Task instructs a child agent to execute a prompt.
type Task struct {
	Header
	TaskID    string                 `json:"task_id"`
	SessionID string                 `json:"session_id"`
	ChildID   int                    `json:"child_id"`
	Prompt    string                 `json:"prompt"`
	OutputDir string                 `json:"output_dir,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Priority  int                    `json:"priority"`
	Timeout   int                    `json:"timeout,omitempty"`
}

// DefaultPriority is assigned to tasks that do not set one (1 = highest,
// 5 = lowest).
const DefaultPriority = 3

// NewTask creates a task addressed to one child queue.
func NewTask(sessionID string, childID int, prompt string) *Task {
	return &Task{
		Header:    newHeader(TypeTask),
		TaskID:    NewID(),
		SessionID: sessionID,
		ChildID:   childID,
		Prompt:    prompt,
		Priority:  DefaultPriority,
	}
}

// UnmarshalJSON applies the instruction alias and the priority default.
// Agent definitions write the prompt under an instruction key; when both
// are present instruction wins.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	aux := struct {
		*alias
		Instruction *string `json:"instruction"`
		Priority    *int    `json:"priority"`
	}{alias: (*alias)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Priority != nil {
		t.Priority = *aux.Priority
	} else {
		t.Priority = DefaultPriority
	}
	if aux.Instruction != nil {
		t.Prompt = *aux.Instruction
	}
	return nil
}

// Report carries a child's result for one task back to the parent.
type Report struct {
	Header
	TaskID     string                 `json:"task_id"`
	SessionID  string                 `json:"session_id"`
	ChildID    int                    `json:"child_id"`
	Status     string                 `json:"status"`
	Result     interface{}            `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMS int                    `json:"duration_ms,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewReport creates a report with an explicit status, rejecting values
// outside the success/failure set.
func NewReport(taskID, sessionID string, childID int, status string) (*Report, error) {
	if err := validateStatus(status); err != nil {
		return nil, err
	}
	return &Report{
		Header:    newHeader(TypeReport),
		TaskID:    taskID,
		SessionID: sessionID,
		ChildID:   childID,
		Status:    status,
	}, nil
}

// Success creates a success report carrying a result payload.
func Success(taskID, sessionID string, childID int, result interface{}) *Report {
	return &Report{
		Header:    newHeader(TypeReport),
		TaskID:    taskID,
		SessionID: sessionID,
		ChildID:   childID,
		Status:    StatusSuccess,
		Result:    result,
	}
}

// Failure creates a failure report carrying an error description.
func Failure(taskID, sessionID string, childID int, errMsg string) *Report {
	return &Report{
		Header:    newHeader(TypeReport),
		TaskID:    taskID,
		SessionID: sessionID,
		ChildID:   childID,
		Status:    StatusFailure,
		Error:     errMsg,
	}
}

// UnmarshalJSON defaults a missing status to success and rejects values
// outside the closed set.
func (r *Report) UnmarshalJSON(data []byte) error {
	type alias Report
	aux := struct {
		*alias
		Status *string `json:"status"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Status == nil {
		r.Status = StatusSuccess
		return nil
	}
	if err := validateStatus(*aux.Status); err != nil {
		return err
	}
	r.Status = *aux.Status
	return nil
}

func validateStatus(status string) error {
	switch status {
	case StatusSuccess, StatusFailure:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}

// Shutdown tells a child agent to stop consuming its queue.
type Shutdown struct {
	Header
	SessionID     string `json:"session_id"`
	Reason        string `json:"reason"`
	Graceful      bool   `json:"graceful"`
	TargetChildID *int   `json:"target_child_id,omitempty"`
}

// NewShutdown creates a graceful shutdown for every child in the session.
// Set TargetChildID to address a single child.
func NewShutdown(sessionID string) *Shutdown {
	return &Shutdown{
		Header:    newHeader(TypeShutdown),
		SessionID: sessionID,
		Reason:    "normal",
		Graceful:  true,
	}
}

// UnmarshalJSON defaults reason to normal and graceful to true when the
// fields are absent, so a bare {"type":"shutdown"} is a valid envelope.
func (s *Shutdown) UnmarshalJSON(data []byte) error {
	type alias Shutdown
	aux := struct {
		*alias
		Reason   *string `json:"reason"`
		Graceful *bool   `json:"graceful"`
	}{alias: (*alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Reason != nil {
		s.Reason = *aux.Reason
	} else {
		s.Reason = "normal"
	}
	if aux.Graceful != nil {
		s.Graceful = *aux.Graceful
	} else {
		s.Graceful = true
	}
	return nil
}

// Status announces an agent lifecycle event.
type Status struct {
	Header
	SessionID string                 `json:"session_id"`
	ChildID   int                    `json:"child_id"`
	Event     string                 `json:"event"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewStatus creates a status event for one agent.
func NewStatus(sessionID string, childID int, event string) *Status {
	return &Status{
		Header:    newHeader(TypeStatus),
		SessionID: sessionID,
		ChildID:   childID,
		Event:     event,
	}
}

// Parse decodes a raw queue payload into its typed variant. Malformed
// JSON, an unknown type discriminator, and an invalid report status are
// all surfaced as errors rather than partially-valid messages.
func Parse(raw string) (Message, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch probe.Type {
	case TypeTask:
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return &t, nil
	case TypeReport:
		var r Report
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			if errors.Is(err, ErrInvalidStatus) {
				return nil, err
			}
			return nil, fmt.Errorf("decode report: %w", err)
		}
		return &r, nil
	case TypeShutdown:
		var s Shutdown
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode shutdown: %w", err)
		}
		return &s, nil
	case TypeStatus:
		var s Status
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}

// Encode renders a message as a single-line JSON string for the wire.
func Encode(m Message) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", m.Kind(), err)
	}
	return string(data), nil
}
