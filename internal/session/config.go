// Package session manages orchestration session namespaces: collision-free
// prefix allocation, the TTL-scoped config record in Redis, and the channel
// set derived from it.
package session

import (
	"fmt"

	"github.com/szaher/agentbus/internal/message"
)

// Mode selects the queue topology for a session.
type Mode string

const (
	// ModeNormal gives every child its own report queue.
	ModeNormal Mode = "normal"

	// ModeSummoner gives all children one shared report queue, so the
	// parent does a single blocking receive and demultiplexes by task id.
	ModeSummoner Mode = "summoner"
)

// Config describes one orchestration session and its derived channel set.
// It is persisted as JSON under {prefix}:config with a TTL.
type Config struct {
	SessionID          string   `json:"session_id"`
	Prefix             string   `json:"prefix"`
	MaxChildren        int      `json:"max_children"`
	CreatedAt          string   `json:"created_at"`
	ParentToChildLists []string `json:"parent_to_child_lists"`
	ChildToParentLists []string `json:"child_to_parent_lists"`
	StatusStream       string   `json:"status_stream"`
	ResultStream       string   `json:"result_stream"`
	ControlList        string   `json:"control_list"`
	MonitorChannel     string   `json:"monitor_channel"`
	Mode               Mode     `json:"mode"`
}

// NewConfig derives the full channel set for a prefix. The task and
// report queue names depend on the mode; streams and the control list do
// not.
func NewConfig(sessionID, prefix string, maxChildren int, mode Mode) *Config {
	cfg := &Config{
		SessionID:   sessionID,
		Prefix:      prefix,
		MaxChildren: maxChildren,
		CreatedAt:   message.Now(),
		Mode:        mode,
	}

	switch mode {
	case ModeSummoner:
		for i := 1; i <= maxChildren; i++ {
			cfg.ParentToChildLists = append(cfg.ParentToChildLists, fmt.Sprintf("%s:tasks:%d", prefix, i))
		}
		cfg.ChildToParentLists = []string{prefix + ":reports"}
		cfg.MonitorChannel = prefix + ":monitor"
	default:
		for i := 1; i <= maxChildren; i++ {
			cfg.ParentToChildLists = append(cfg.ParentToChildLists, fmt.Sprintf("%s:p2c:%d", prefix, i))
		}
		for i := 1; i <= maxChildren; i++ {
			cfg.ChildToParentLists = append(cfg.ChildToParentLists, fmt.Sprintf("%s:c2p:%d", prefix, i))
		}
	}

	cfg.StatusStream = prefix + ":status"
	cfg.ResultStream = prefix + ":results"
	cfg.ControlList = prefix + ":control"

	return cfg
}

// ConfigKey returns the Redis key holding the serialized config.
func (c *Config) ConfigKey() string {
	return c.Prefix + ":config"
}

// TaskQueue returns the parent-to-child queue for a child. Child ids are
// 1-based.
func (c *Config) TaskQueue(childID int) (string, error) {
	if childID < 1 || childID > len(c.ParentToChildLists) {
		return "", fmt.Errorf("child id must be 1-%d, got %d", len(c.ParentToChildLists), childID)
	}
	return c.ParentToChildLists[childID-1], nil
}

// ReportQueue returns the child-to-parent queue for a child. In summoner
// mode every child shares one queue and the child id is ignored.
func (c *Config) ReportQueue(childID int) (string, error) {
	if c.Mode == ModeSummoner {
		return c.ChildToParentLists[0], nil
	}
	if childID < 1 || childID > len(c.ChildToParentLists) {
		return "", fmt.Errorf("child id must be 1-%d, got %d", len(c.ChildToParentLists), childID)
	}
	return c.ChildToParentLists[childID-1], nil
}

// AllKeys returns every persisted key the session owns, config record
// included. The monitor channel is pub/sub state, not a key, so it is
// not listed.
func (c *Config) AllKeys() []string {
	keys := make([]string, 0, len(c.ParentToChildLists)+len(c.ChildToParentLists)+4)
	keys = append(keys, c.ParentToChildLists...)
	keys = append(keys, c.ChildToParentLists...)
	if c.StatusStream != "" {
		keys = append(keys, c.StatusStream)
	}
	if c.ResultStream != "" {
		keys = append(keys, c.ResultStream)
	}
	if c.ControlList != "" {
		keys = append(keys, c.ControlList)
	}
	keys = append(keys, c.ConfigKey())
	return keys
}
