package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/szaher/agentbus/internal/events"
	"github.com/szaher/agentbus/internal/message"
	"github.com/szaher/agentbus/internal/testutil"
)

var _ Client = (*testutil.FakeRedis)(nil)

// ---------------------------------------------------------------------------
// Initialize
// ---------------------------------------------------------------------------

func TestInitialize_NormalDefaults(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	cfg, err := reg.Initialize(context.Background(), InitOptions{Prefix: "proj-host", MaxChildren: 2})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if cfg.Prefix != "proj-host-001" {
		t.Errorf("prefix: got %q, want %q", cfg.Prefix, "proj-host-001")
	}
	if cfg.Mode != ModeNormal {
		t.Errorf("mode: got %q, want %q", cfg.Mode, ModeNormal)
	}
	if len(cfg.ParentToChildLists) != 2 || len(cfg.ChildToParentLists) != 2 {
		t.Errorf("topology: got %d/%d queues, want 2/2",
			len(cfg.ParentToChildLists), len(cfg.ChildToParentLists))
	}

	fake.Lock()
	raw, ok := fake.Strings["proj-host-001:config"]
	ttl := fake.TTLs["proj-host-001:config"]
	entries := fake.Streams["proj-host-001:status"]
	fake.Unlock()

	if !ok {
		t.Fatal("config record was not stored")
	}
	var stored Config
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored config does not decode: %v", err)
	}
	if stored.Prefix != cfg.Prefix || stored.SessionID != cfg.SessionID {
		t.Errorf("stored config mismatch: %+v", stored)
	}
	if ttl != DefaultTTL {
		t.Errorf("config ttl: got %v, want %v", ttl, DefaultTTL)
	}

	if len(entries) != 1 {
		t.Fatalf("status stream: got %d entries, want 1", len(entries))
	}
	if entries[0]["event"] != "initialized" {
		t.Errorf("stream event: got %v", entries[0]["event"])
	}
	if entries[0]["max_children"] != 2 {
		t.Errorf("stream max_children: got %v", entries[0]["max_children"])
	}
	if _, ok := entries[0]["mode"]; ok {
		t.Error("normal mode init entry should not carry a mode field")
	}
}

func TestInitialize_SkipsTakenSequences(t *testing.T) {
	fake := testutil.NewFakeRedis()
	fake.Lock()
	fake.Strings["proj-host-001:config"] = "{}"
	fake.Strings["proj-host-002:config"] = "{}"
	fake.Unlock()

	reg := NewRegistry(fake)
	cfg, err := reg.Initialize(context.Background(), InitOptions{Prefix: "proj-host"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if cfg.Prefix != "proj-host-003" {
		t.Errorf("prefix: got %q, want %q", cfg.Prefix, "proj-host-003")
	}
}

func TestInitialize_PinnedSequence(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	cfg, err := reg.Initialize(context.Background(), InitOptions{
		Prefix:   "proj-host",
		Sequence: 7,
		TTL:      5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if cfg.Prefix != "proj-host-007" {
		t.Errorf("prefix: got %q, want %q", cfg.Prefix, "proj-host-007")
	}

	fake.Lock()
	ttl := fake.TTLs["proj-host-007:config"]
	fake.Unlock()
	if ttl != 5*time.Minute {
		t.Errorf("config ttl: got %v, want %v", ttl, 5*time.Minute)
	}
}

func TestInitialize_SequenceExhausted(t *testing.T) {
	fake := testutil.NewFakeRedis()
	fake.Lock()
	for seq := 1; seq <= MaxSequence; seq++ {
		fake.Strings[fmt.Sprintf("proj-host-%03d:config", seq)] = "{}"
	}
	fake.Unlock()

	reg := NewRegistry(fake)
	_, err := reg.Initialize(context.Background(), InitOptions{Prefix: "proj-host"})
	if !errors.Is(err, ErrSequenceExhausted) {
		t.Fatalf("got %v, want ErrSequenceExhausted", err)
	}
	testutil.AssertErrorContains(t, err, "proj-host")
}

func TestInitialize_Summoner(t *testing.T) {
	fake := testutil.NewFakeRedis()
	collector := &events.CollectorEmitter{}
	reg := NewRegistry(fake, WithEmitter(collector))

	cfg, err := reg.Initialize(context.Background(), InitOptions{
		Mode:        ModeSummoner,
		MaxChildren: 2,
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := uuid.Parse(cfg.SessionID); err != nil {
		t.Errorf("summoner session id %q is not a uuid: %v", cfg.SessionID, err)
	}
	if cfg.Prefix != "summoner:"+cfg.SessionID {
		t.Errorf("prefix: got %q", cfg.Prefix)
	}
	if len(cfg.ParentToChildLists) != 2 || len(cfg.ChildToParentLists) != 1 {
		t.Errorf("topology: got %d/%d queues, want 2/1",
			len(cfg.ParentToChildLists), len(cfg.ChildToParentLists))
	}

	if len(collector.Published) != 1 {
		t.Fatalf("published events: got %d, want 1", len(collector.Published))
	}
	published := collector.Published[0]
	if published.Channel != cfg.MonitorChannel {
		t.Errorf("event channel: got %q, want %q", published.Channel, cfg.MonitorChannel)
	}
	if published.Event.Kind != events.SessionInitialized {
		t.Errorf("event kind: got %q", published.Event.Kind)
	}
	if published.Event.MaxChildren != 2 {
		t.Errorf("event max_children: got %d", published.Event.MaxChildren)
	}

	fake.Lock()
	entries := fake.Streams[cfg.StatusStream]
	fake.Unlock()
	if len(entries) != 1 || entries[0]["mode"] != "summoner" {
		t.Errorf("summoner init entry should carry mode=summoner, got %v", entries)
	}
}

func TestInitialize_ConnectionError(t *testing.T) {
	fake := testutil.NewFakeRedis()
	fake.Err = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

	reg := NewRegistry(fake)
	_, err := reg.Initialize(context.Background(), InitOptions{Prefix: "proj-host"})
	if err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
	if errors.Is(err, ErrSequenceExhausted) {
		t.Errorf("connection failure must not masquerade as exhaustion: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestGet_ByPrefix(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	cfg, err := reg.Initialize(context.Background(), InitOptions{Prefix: "proj-host"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	got, err := reg.Get(context.Background(), cfg.Prefix)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != cfg.SessionID || got.Prefix != cfg.Prefix {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestGet_BareSummonerID(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	cfg, err := reg.Initialize(context.Background(), InitOptions{Mode: ModeSummoner})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Callers may pass either the full prefix or just the session id.
	for _, arg := range []string{cfg.Prefix, cfg.SessionID} {
		got, err := reg.Get(context.Background(), arg)
		if err != nil {
			t.Fatalf("Get(%q): %v", arg, err)
		}
		if got.Prefix != cfg.Prefix {
			t.Errorf("Get(%q): got prefix %q, want %q", arg, got.Prefix, cfg.Prefix)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	_, err := reg.Get(context.Background(), "no-such-session")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	testutil.AssertErrorContains(t, err, "no-such-session")
}

// ---------------------------------------------------------------------------
// Cleanup
// ---------------------------------------------------------------------------

func TestCleanup_RemovesSessionKeys(t *testing.T) {
	fake := testutil.NewFakeRedis()
	collector := &events.CollectorEmitter{}
	reg := NewRegistry(fake, WithEmitter(collector))

	cfg, err := reg.Initialize(context.Background(), InitOptions{Mode: ModeSummoner, MaxChildren: 2})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Leave some traffic behind so cleanup has queues to delete too.
	fake.Lock()
	fake.Lists[cfg.ParentToChildLists[0]] = []string{`{"type":"task"}`}
	fake.Lists[cfg.ChildToParentLists[0]] = []string{`{"type":"report"}`}
	fake.Unlock()

	deleted, err := reg.Cleanup(context.Background(), cfg.Prefix)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted < 3 {
		t.Errorf("deleted %d keys, want at least config plus two queues", deleted)
	}

	exists, err := fake.Exists(context.Background(), cfg.ConfigKey())
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("config key should be gone after cleanup")
	}

	var sawCleanup bool
	for _, published := range collector.Published {
		if published.Event.Kind == events.SessionCleanup {
			sawCleanup = true
			if published.Channel != cfg.MonitorChannel {
				t.Errorf("cleanup event channel: got %q", published.Channel)
			}
		}
	}
	if !sawCleanup {
		t.Error("summoner cleanup should publish a cleanup event")
	}
}

func TestCleanup_SecondCallIsBenign(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	cfg, err := reg.Initialize(context.Background(), InitOptions{Prefix: "proj-host"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := reg.Cleanup(context.Background(), cfg.Prefix); err != nil {
		t.Fatalf("first Cleanup: %v", err)
	}

	deleted, err := reg.Cleanup(context.Background(), cfg.Prefix)
	if err != nil && !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Cleanup should be benign, got %v", err)
	}
	if deleted != 0 {
		t.Errorf("second Cleanup deleted %d keys, want 0", deleted)
	}
}

func TestCleanup_Missing(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	deleted, err := reg.Cleanup(context.Background(), "never-existed")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if deleted != 0 {
		t.Errorf("deleted: got %d, want 0", deleted)
	}
}

// A crashed run can leave queue keys behind after the config record
// expired. Cleanup by prefix still finds them through the pattern sweep.
func TestCleanup_StrayKeysWithoutConfig(t *testing.T) {
	fake := testutil.NewFakeRedis()
	fake.Lock()
	fake.Lists["dead-001:p2c:1"] = []string{`{"type":"task"}`}
	fake.Lists["dead-001:c2p:1"] = []string{`{"type":"report"}`}
	fake.Unlock()

	reg := NewRegistry(fake)
	deleted, err := reg.Cleanup(context.Background(), "dead-001")
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted: got %d, want 2", deleted)
	}
}

// ---------------------------------------------------------------------------
// List, CleanupAll, SweepOrphans
// ---------------------------------------------------------------------------

func seedConfig(t *testing.T, fake *testutil.FakeRedis, prefix, createdAt string) *Config {
	t.Helper()
	cfg := NewConfig("id-"+prefix, prefix, 1, ModeNormal)
	cfg.CreatedAt = createdAt
	fake.Lock()
	fake.Strings[cfg.ConfigKey()] = string(testutil.MustMarshalJSON(t, cfg))
	fake.Unlock()
	return cfg
}

func TestList_NewestFirst(t *testing.T) {
	fake := testutil.NewFakeRedis()
	older := seedConfig(t, fake, "aaa-001", "2026-08-25T10:00:00+0000")
	newer := seedConfig(t, fake, "bbb-001", "2026-08-25T11:00:00+0000")

	// Malformed records are skipped, not fatal.
	fake.Lock()
	fake.Strings["junk-001:config"] = "{not json"
	fake.Unlock()

	reg := NewRegistry(fake)
	sessions, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].Prefix != newer.Prefix || sessions[1].Prefix != older.Prefix {
		t.Errorf("order: got [%s, %s], want newest first", sessions[0].Prefix, sessions[1].Prefix)
	}
	if _, err := time.Parse(message.TimestampLayout, sessions[0].CreatedAt); err != nil {
		t.Errorf("created_at %q does not parse: %v", sessions[0].CreatedAt, err)
	}
}

func TestCleanupAll(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	for _, root := range []string{"alpha", "beta"} {
		if _, err := reg.Initialize(context.Background(), InitOptions{Prefix: root}); err != nil {
			t.Fatalf("Initialize %s: %v", root, err)
		}
	}

	sessions, keys, err := reg.CleanupAll(context.Background())
	if err != nil {
		t.Fatalf("CleanupAll: %v", err)
	}
	if sessions != 2 {
		t.Errorf("sessions: got %d, want 2", sessions)
	}
	if keys < 2 {
		t.Errorf("keys: got %d, want at least one config per session", keys)
	}

	remaining, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("sessions remain after CleanupAll: %v", remaining)
	}
}

func TestSweepOrphans(t *testing.T) {
	fake := testutil.NewFakeRedis()
	reg := NewRegistry(fake)

	live, err := reg.Initialize(context.Background(), InitOptions{Prefix: "live", MaxChildren: 1})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	fake.Lock()
	fake.Lists[live.ParentToChildLists[0]] = []string{`{"type":"task"}`}
	fake.Lists["dead-001:p2c:1"] = []string{"x"}
	fake.Lists["dead-001:c2p:1"] = []string{"y"}
	fake.Lists["summoner:gone:tasks:1"] = []string{"z"}
	fake.Lists["dead-001:control"] = []string{"c"}
	fake.Unlock()

	swept, err := reg.SweepOrphans(context.Background())
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	if swept != 4 {
		t.Errorf("swept: got %d, want 4", swept)
	}

	fake.Lock()
	_, liveQueueOK := fake.Lists[live.ParentToChildLists[0]]
	_, deadQueueOK := fake.Lists["dead-001:p2c:1"]
	fake.Unlock()

	if !liveQueueOK {
		t.Error("queue of a live session must survive the sweep")
	}
	if deadQueueOK {
		t.Error("orphaned queue should have been swept")
	}
}
