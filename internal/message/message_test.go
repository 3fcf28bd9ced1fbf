package message

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Parse dispatch
// ---------------------------------------------------------------------------

func TestParse_Task(t *testing.T) {
	raw := `{"type":"task","timestamp":"2024-01-01T12:00:00+0000","message_id":"m1",` +
		`"task_id":"t1","session_id":"s1","child_id":2,"prompt":"do the thing","priority":1}`

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	task, ok := msg.(*Task)
	if !ok {
		t.Fatalf("expected *Task, got %T", msg)
	}
	if task.Kind() != TypeTask {
		t.Errorf("kind: got %q, want %q", task.Kind(), TypeTask)
	}
	if task.TaskID != "t1" || task.ChildID != 2 || task.Prompt != "do the thing" {
		t.Errorf("unexpected fields: %+v", task)
	}
	if task.Priority != 1 {
		t.Errorf("priority: got %d, want 1", task.Priority)
	}
}

func TestParse_TaskInstructionAlias(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"instruction only", `{"type":"task","instruction":"from alias"}`, "from alias"},
		{"prompt only", `{"type":"task","prompt":"from prompt"}`, "from prompt"},
		{"both present", `{"type":"task","prompt":"ignored","instruction":"wins"}`, "wins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			task := msg.(*Task)
			if task.Prompt != tt.want {
				t.Errorf("prompt: got %q, want %q", task.Prompt, tt.want)
			}
		})
	}
}

func TestParse_TaskPriorityDefault(t *testing.T) {
	msg, err := Parse(`{"type":"task","prompt":"x"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := msg.(*Task).Priority; got != DefaultPriority {
		t.Errorf("priority: got %d, want %d", got, DefaultPriority)
	}
}

func TestParse_ReportStatusDefault(t *testing.T) {
	msg, err := Parse(`{"type":"report","task_id":"t1"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	report := msg.(*Report)
	if report.Status != StatusSuccess {
		t.Errorf("status: got %q, want %q", report.Status, StatusSuccess)
	}
}

func TestParse_ReportInvalidStatus(t *testing.T) {
	_, err := Parse(`{"type":"report","task_id":"t1","status":"partial"}`)
	if err == nil {
		t.Fatal("expected error for status outside success/failure")
	}
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "partial") {
		t.Errorf("error should name the offending value: %v", err)
	}
}

func TestParse_BareShutdown(t *testing.T) {
	msg, err := Parse(`{"type":"shutdown"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	sd, ok := msg.(*Shutdown)
	if !ok {
		t.Fatalf("expected *Shutdown, got %T", msg)
	}
	if sd.Reason != "normal" {
		t.Errorf("reason: got %q, want %q", sd.Reason, "normal")
	}
	if !sd.Graceful {
		t.Error("graceful should default to true")
	}
	if sd.TargetChildID != nil {
		t.Errorf("target_child_id should be nil, got %v", *sd.TargetChildID)
	}
}

func TestParse_ShutdownExplicitFields(t *testing.T) {
	raw := `{"type":"shutdown","session_id":"s1","reason":"error","graceful":false,"target_child_id":3}`
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	sd := msg.(*Shutdown)
	if sd.Reason != "error" || sd.Graceful {
		t.Errorf("explicit fields not honored: %+v", sd)
	}
	if sd.TargetChildID == nil || *sd.TargetChildID != 3 {
		t.Errorf("target_child_id: got %v, want 3", sd.TargetChildID)
	}
}

func TestParse_Status(t *testing.T) {
	msg, err := Parse(`{"type":"status","session_id":"s1","child_id":1,"event":"ready"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	st := msg.(*Status)
	if st.Event != EventReady || st.ChildID != 1 {
		t.Errorf("unexpected fields: %+v", st)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{not json`},
		{"missing type", `{"task_id":"t1"}`},
		{"unknown type", `{"type":"control"}`},
		{"empty string", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); err == nil {
				t.Errorf("expected error for %q", tt.raw)
			}
		})
	}
}

func TestParse_UnknownTypeSentinel(t *testing.T) {
	_, err := Parse(`{"type":"gossip"}`)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}

	_, err = Parse(`{"prompt":"no discriminator"}`)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("missing type should map to ErrUnknownType, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Round trips
// ---------------------------------------------------------------------------

func TestEncode_RoundTrip(t *testing.T) {
	childID := 2
	shutdown := NewShutdown("s1")
	shutdown.TargetChildID = &childID

	task := NewTask("s1", 1, "build the index")
	task.Context = map[string]interface{}{"depth": "full"}
	task.Timeout = 30

	messages := []Message{
		task,
		Success("t1", "s1", 1, "all done"),
		Failure("t2", "s1", 2, "disk full"),
		shutdown,
		NewStatus("s1", 3, EventBusy),
	}

	for _, original := range messages {
		raw, err := Encode(original)
		if err != nil {
			t.Fatalf("encode %s: %v", original.Kind(), err)
		}

		parsed, err := Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", original.Kind(), err)
		}

		if !reflect.DeepEqual(original, parsed) {
			t.Errorf("%s round trip mismatch:\n  sent: %+v\n  got:  %+v",
				original.Kind(), original, parsed)
		}
	}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask("s1", 4, "summarize")

	if task.Type != TypeTask {
		t.Errorf("type: got %q, want %q", task.Type, TypeTask)
	}
	if task.TaskID == "" || task.MessageID == "" {
		t.Error("task and message ids should be generated")
	}
	if task.Priority != DefaultPriority {
		t.Errorf("priority: got %d, want %d", task.Priority, DefaultPriority)
	}
	if _, err := time.Parse(TimestampLayout, task.Timestamp); err != nil {
		t.Errorf("timestamp %q does not match wire layout: %v", task.Timestamp, err)
	}
}

func TestNewReport_Validation(t *testing.T) {
	if _, err := NewReport("t1", "s1", 1, "partial"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus for partial, got %v", err)
	}

	report, err := NewReport("t1", "s1", 1, StatusFailure)
	if err != nil {
		t.Fatalf("valid status rejected: %v", err)
	}
	if report.Status != StatusFailure {
		t.Errorf("status: got %q, want %q", report.Status, StatusFailure)
	}
}

func TestSuccessAndFailure_Factories(t *testing.T) {
	ok := Success("t1", "s1", 1, map[string]interface{}{"files": "3"})
	if ok.Status != StatusSuccess {
		t.Errorf("status: got %q, want %q", ok.Status, StatusSuccess)
	}
	if ok.Error != "" {
		t.Errorf("success report should carry no error, got %q", ok.Error)
	}

	bad := Failure("t2", "s1", 2, "timed out")
	if bad.Status != StatusFailure {
		t.Errorf("status: got %q, want %q", bad.Status, StatusFailure)
	}
	if bad.Error != "timed out" {
		t.Errorf("error: got %q, want %q", bad.Error, "timed out")
	}
}

func TestNewID_Distinct(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Errorf("consecutive ids should differ, both %q", a)
	}
}
