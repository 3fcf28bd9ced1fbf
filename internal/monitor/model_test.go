package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/szaher/agentbus/internal/session"
)

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func applyEntry(t *testing.T, m Model, e Entry) Model {
	t.Helper()
	updated, _ := m.Update(entryMsg(e))
	return updated.(Model)
}

func TestModel_EntryAccumulates(t *testing.T) {
	feed := make(chan Entry)
	m := NewModel(feed, nil)

	m = applyEntry(t, m, Entry{Kind: "task", Sender: SenderParent, Content: "one"})
	m = applyEntry(t, m, Entry{Kind: "report", Sender: "child_1", Content: "success"})

	if got := len(m.Entries()); got != 2 {
		t.Fatalf("got %d entries, want 2", got)
	}
	if m.counters.Total != 2 {
		t.Errorf("counters.Total = %d, want 2", m.counters.Total)
	}
	if m.counters.ByKind["task"] != 1 || m.counters.ByKind["report"] != 1 {
		t.Errorf("ByKind = %v", m.counters.ByKind)
	}
}

func TestModel_FeedCapacity(t *testing.T) {
	feed := make(chan Entry)
	m := NewModel(feed, nil, WithFeedCapacity(3))

	for i := 0; i < 5; i++ {
		m = applyEntry(t, m, Entry{Kind: "task", Content: strings.Repeat("x", i+1)})
	}

	entries := m.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Content != "xxx" {
		t.Errorf("oldest retained = %q, want the third entry", entries[0].Content)
	}
	if m.counters.Total != 5 {
		t.Errorf("counters.Total = %d, want 5 despite eviction", m.counters.Total)
	}
}

func TestModel_FilterFlow(t *testing.T) {
	m := NewModel(make(chan Entry), nil)
	m = applyEntry(t, m, Entry{Kind: "task", Sender: SenderParent})
	m = applyEntry(t, m, Entry{Kind: "report", Sender: "child_1"})

	// --- open the filter prompt ---

	updated, _ := m.Update(keyRune('/'))
	m = updated.(Model)
	if !m.editing {
		t.Fatal("slash should open the filter prompt")
	}

	// --- apply a valid expression ---

	m.filterInput.SetValue(`type == "report"`)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	if m.editing {
		t.Error("enter should close the prompt")
	}
	if m.Filter() == nil {
		t.Fatal("filter should be set")
	}
	if got := len(m.visibleEntries()); got != 1 {
		t.Errorf("visible entries = %d, want 1", got)
	}

	// --- a bad expression keeps the prompt open ---

	updated, _ = m.Update(keyRune('/'))
	m = updated.(Model)
	m.filterInput.SetValue("type ==")
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	if !m.editing {
		t.Error("bad expression should keep the prompt open")
	}
	if m.filterErr == "" {
		t.Error("bad expression should surface a compile error")
	}
	if m.Filter() == nil || m.Filter().Source() != `type == "report"` {
		t.Error("previous filter should survive a failed compile")
	}

	// --- escape cancels without touching the filter ---

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	if m.editing {
		t.Error("escape should close the prompt")
	}
	if m.Filter() == nil {
		t.Error("escape should keep the active filter")
	}

	// --- an empty expression clears the filter ---

	updated, _ = m.Update(keyRune('/'))
	m = updated.(Model)
	m.filterInput.SetValue("")
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	if m.Filter() != nil {
		t.Error("empty expression should clear the filter")
	}
	if got := len(m.visibleEntries()); got != 2 {
		t.Errorf("visible entries = %d, want all 2", got)
	}
}

func TestModel_QuitKey(t *testing.T) {
	m := NewModel(make(chan Entry), nil)

	_, cmd := m.Update(keyRune('q'))
	if cmd == nil {
		t.Fatal("q should produce a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("q produced %T, want tea.QuitMsg", cmd())
	}
}

func TestModel_ClearKey(t *testing.T) {
	m := NewModel(make(chan Entry), nil)
	m = applyEntry(t, m, Entry{Kind: "task"})

	updated, _ := m.Update(keyRune('c'))
	m = updated.(Model)

	if len(m.Entries()) != 0 {
		t.Error("clear should drop retained entries")
	}
	if m.counters.Total != 0 {
		t.Error("clear should reset counters")
	}
}

func TestModel_ExportKey(t *testing.T) {
	m := NewModel(make(chan Entry), nil)

	_, cmd := m.Update(keyRune('e'))
	if cmd != nil {
		t.Error("export with no entries should not produce a command")
	}

	m = applyEntry(t, m, Entry{Kind: "task", Content: "one"})
	_, cmd = m.Update(keyRune('e'))
	if cmd == nil {
		t.Error("export with entries should produce a command")
	}
}

func TestModel_SnapshotScheduling(t *testing.T) {
	scan := func(context.Context) (*Snapshot, error) {
		return &Snapshot{Taken: time.Now()}, nil
	}
	m := NewModel(make(chan Entry), scan, WithScanInterval(time.Minute))

	snap := &Snapshot{Taken: time.Now()}
	updated, cmd := m.Update(snapshotMsg{snap: snap})
	m = updated.(Model)

	if m.snapshot != snap {
		t.Error("snapshot should be stored")
	}
	if cmd == nil {
		t.Error("snapshot should schedule the next scan tick")
	}

	updated, cmd = m.Update(scanErrMsg{err: errors.New("connection refused")})
	m = updated.(Model)
	if m.scanErr == nil {
		t.Error("scan error should be recorded")
	}
	if cmd == nil {
		t.Error("scan error should still schedule the next tick")
	}
	if m.snapshot != snap {
		t.Error("scan error should keep the last good snapshot")
	}
}

func TestModel_ScanTickRunsScan(t *testing.T) {
	called := false
	scan := func(context.Context) (*Snapshot, error) {
		called = true
		return &Snapshot{}, nil
	}
	m := NewModel(make(chan Entry), scan)

	_, cmd := m.Update(scanTickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick should produce a scan command")
	}
	if _, ok := cmd().(snapshotMsg); !ok {
		t.Error("scan command should yield a snapshot message")
	}
	if !called {
		t.Error("scan func should run")
	}
}

func TestListenEntries_DeliversThenCloses(t *testing.T) {
	feed := make(chan Entry, 1)
	feed <- Entry{Kind: "task"}

	msg := listenEntries(feed)()
	e, ok := msg.(entryMsg)
	if !ok || e.Kind != "task" {
		t.Fatalf("got %T %v, want entryMsg task", msg, msg)
	}

	close(feed)
	if _, ok := listenEntries(feed)().(feedClosedMsg); !ok {
		t.Error("closed feed should yield feedClosedMsg")
	}
}

func TestModel_ViewRendersPanes(t *testing.T) {
	m := NewModel(make(chan Entry), nil)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = updated.(Model)

	cfg := session.NewConfig("sess-1", "proj-host-001", 2, session.ModeNormal)
	snap := &Snapshot{Taken: time.Now(), Sessions: []SessionState{{Config: cfg, Depths: map[string]int64{}}}}
	updated, _ = m.Update(snapshotMsg{snap: snap})
	m = updated.(Model)
	m = applyEntry(t, m, Entry{Kind: "task", Sender: SenderParent, Content: "build the thing", Time: time.Now()})

	view := m.View()
	for _, want := range []string{"agentmon", "sessions", "proj-host-001", "feed", "build the thing", "1 events"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	updated, _ = m.Update(feedClosedMsg{})
	m = updated.(Model)
	if !strings.Contains(m.View(), "feed closed") {
		t.Error("View() should flag a closed feed")
	}
}
