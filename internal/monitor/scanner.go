package monitor

import (
	"context"
	"time"

	"github.com/szaher/agentbus/internal/session"
)

// DepthClient reads queue depths.
type DepthClient interface {
	LLen(ctx context.Context, queue string) (int64, error)
}

// SessionState is one live session with its current queue depths.
type SessionState struct {
	Config *session.Config
	Depths map[string]int64
}

// Pending sums the task queue depths.
func (s *SessionState) Pending() int64 {
	var total int64
	for _, queue := range s.Config.ParentToChildLists {
		total += s.Depths[queue]
	}
	return total
}

// Unread sums the report queue depths.
func (s *SessionState) Unread() int64 {
	var total int64
	for _, queue := range s.Config.ChildToParentLists {
		total += s.Depths[queue]
	}
	return total
}

// Snapshot is one scan over the live sessions.
type Snapshot struct {
	Taken    time.Time
	Sessions []SessionState
}

// Scanner polls session state for the monitor's side pane.
type Scanner struct {
	registry *session.Registry
	client   DepthClient
}

// NewScanner creates a scanner over the session registry.
func NewScanner(registry *session.Registry, client DepthClient) *Scanner {
	return &Scanner{registry: registry, client: client}
}

// Scan lists the live sessions and measures their queue depths.
func (s *Scanner) Scan(ctx context.Context) (*Snapshot, error) {
	sessions, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Taken: time.Now()}
	for _, cfg := range sessions {
		state := SessionState{Config: cfg, Depths: make(map[string]int64)}
		queues := make([]string, 0, len(cfg.ParentToChildLists)+len(cfg.ChildToParentLists)+1)
		queues = append(queues, cfg.ParentToChildLists...)
		queues = append(queues, cfg.ChildToParentLists...)
		if cfg.ControlList != "" {
			queues = append(queues, cfg.ControlList)
		}
		for _, queue := range queues {
			depth, err := s.client.LLen(ctx, queue)
			if err != nil {
				return nil, err
			}
			state.Depths[queue] = depth
		}
		snap.Sessions = append(snap.Sessions, state)
	}
	return snap, nil
}
