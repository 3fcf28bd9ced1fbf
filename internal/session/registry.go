package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/szaher/agentbus/internal/events"
	"github.com/szaher/agentbus/internal/message"
)

// Client is the Redis surface the registry needs.
type Client interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

var (
	// ErrNotFound marks a lookup for a missing or expired session. It is
	// a normal outcome on cleanup and read paths, not a fault.
	ErrNotFound = errors.New("session not found")

	// ErrSequenceExhausted means the collision-avoidance probe ran out of
	// sequence numbers under one prefix root.
	ErrSequenceExhausted = errors.New("no free sequence number")
)

// MaxSequence bounds the collision-avoidance probe so a full namespace
// fails loudly instead of looping forever.
const MaxSequence = 999

// DefaultMaxChildren is the child count used when none is requested.
const DefaultMaxChildren = 9

// DefaultTTL is applied to config records and status streams unless
// overridden.
const DefaultTTL = time.Hour

// Registry allocates session namespaces and persists their config
// records in Redis.
type Registry struct {
	client  Client
	ttl     time.Duration
	log     *slog.Logger
	emitter events.Emitter
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the default config TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithLogger sets the registry logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e events.Emitter) Option {
	return func(r *Registry) { r.emitter = e }
}

// NewRegistry creates a registry over a Redis client.
func NewRegistry(client Client, opts ...Option) *Registry {
	r := &Registry{
		client:  client,
		ttl:     DefaultTTL,
		log:     slog.Default(),
		emitter: events.NoopEmitter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitOptions controls session creation. Zero values select the
// defaults: normal mode, nine children, the registry TTL, automatic
// prefix and sequence discovery.
type InitOptions struct {
	Mode        Mode
	MaxChildren int

	// Prefix overrides the {project}-{host} namespace root. Normal mode
	// only.
	Prefix string

	// Sequence pins the sequence number instead of probing for a free
	// one. Normal mode only.
	Sequence int

	// SessionID pins the session id instead of generating a UUID.
	// Summoner mode only.
	SessionID string

	TTL time.Duration
}

// Initialize allocates a namespace, persists the config record with a
// TTL, and records the initialized event on the status stream. In
// summoner mode it also announces the session on the monitor channel,
// best-effort.
func (r *Registry) Initialize(ctx context.Context, opts InitOptions) (*Config, error) {
	if opts.Mode == "" {
		opts.Mode = ModeNormal
	}
	if opts.MaxChildren <= 0 {
		opts.MaxChildren = DefaultMaxChildren
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = r.ttl
	}

	var cfg *Config
	switch opts.Mode {
	case ModeSummoner:
		sessionID := opts.SessionID
		if sessionID == "" {
			sessionID = NewSummonerSessionID()
		}
		cfg = NewConfig(sessionID, SummonerPrefix(sessionID), opts.MaxChildren, ModeSummoner)
	default:
		root := opts.Prefix
		if root == "" {
			root = DefaultPrefix()
		}
		seq := opts.Sequence
		if seq <= 0 {
			var err error
			seq, err = r.findFreeSequence(ctx, root)
			if err != nil {
				return nil, err
			}
		}
		cfg = NewConfig(NewSessionID(), SequencedPrefix(root, seq), opts.MaxChildren, ModeNormal)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal session config: %w", err)
	}
	if err := r.client.Set(ctx, cfg.ConfigKey(), string(data), ttl); err != nil {
		return nil, fmt.Errorf("store session config: %w", err)
	}

	values := map[string]interface{}{
		"event":        "initialized",
		"session_id":   cfg.SessionID,
		"max_children": cfg.MaxChildren,
		"created_at":   cfg.CreatedAt,
	}
	if cfg.Mode == ModeSummoner {
		values["mode"] = string(ModeSummoner)
	}
	if _, err := r.client.XAdd(ctx, cfg.StatusStream, values); err != nil {
		return nil, fmt.Errorf("record init event: %w", err)
	}
	if err := r.client.Expire(ctx, cfg.StatusStream, ttl); err != nil {
		return nil, fmt.Errorf("expire status stream: %w", err)
	}

	if cfg.Mode == ModeSummoner {
		r.emitter.Emit(ctx, cfg.MonitorChannel,
			events.NewInitialized(cfg.SessionID, cfg.MaxChildren, cfg.CreatedAt))
	}

	r.log.Info("session initialized",
		"session_id", cfg.SessionID,
		"prefix", cfg.Prefix,
		"mode", string(cfg.Mode),
		"max_children", cfg.MaxChildren)

	return cfg, nil
}

// findFreeSequence probes {root}-{seq:03d}:config for the first unused
// sequence number.
func (r *Registry) findFreeSequence(ctx context.Context, root string) (int, error) {
	for seq := 1; seq <= MaxSequence; seq++ {
		exists, err := r.client.Exists(ctx, SequencedPrefix(root, seq)+":config")
		if err != nil {
			return 0, fmt.Errorf("probe sequence %d: %w", seq, err)
		}
		if !exists {
			return seq, nil
		}
	}
	return 0, fmt.Errorf("%w: tried 1-%d under %q", ErrSequenceExhausted, MaxSequence, root)
}

// Get fetches the config for a prefix or a bare summoner session id.
// Returns ErrNotFound when the record is missing or expired.
func (r *Registry) Get(ctx context.Context, idOrPrefix string) (*Config, error) {
	raw, ok, err := r.client.Get(ctx, idOrPrefix+":config")
	if err != nil {
		return nil, err
	}
	if !ok && !strings.HasPrefix(idOrPrefix, "summoner:") {
		raw, ok, err = r.client.Get(ctx, SummonerPrefix(idOrPrefix)+":config")
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("session %q: %w", idOrPrefix, ErrNotFound)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal session config: %w", err)
	}
	return &cfg, nil
}

// Cleanup deletes the config record and every key under the session
// prefix, and returns how many keys were removed. Cleaning a session
// that is already gone returns ErrNotFound with a zero count; callers
// treat that as an idempotent no-op. In summoner mode a cleanup event is
// announced on the monitor channel.
func (r *Registry) Cleanup(ctx context.Context, idOrPrefix string) (int64, error) {
	cfg, err := r.Get(ctx, idOrPrefix)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	var keys []string
	patterns := []string{idOrPrefix + ":*"}
	if cfg != nil {
		keys = cfg.AllKeys()
		patterns = []string{cfg.Prefix + ":*"}
	} else if !strings.HasPrefix(idOrPrefix, "summoner:") {
		patterns = append(patterns, SummonerPrefix(idOrPrefix)+":*")
	}

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	// The pattern sweep catches keys a crashed run created outside the
	// derived channel set.
	for _, pattern := range patterns {
		matched, err := r.client.Keys(ctx, pattern)
		if err != nil {
			return 0, err
		}
		for _, k := range matched {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	deleted, err := r.client.Del(ctx, keys...)
	if err != nil {
		return 0, err
	}

	if cfg != nil && cfg.Mode == ModeSummoner && cfg.MonitorChannel != "" {
		r.emitter.Emit(ctx, cfg.MonitorChannel, events.NewCleanup(cfg.SessionID))
	}

	if cfg == nil && deleted == 0 {
		return 0, fmt.Errorf("session %q: %w", idOrPrefix, ErrNotFound)
	}

	prefix := idOrPrefix
	if cfg != nil {
		prefix = cfg.Prefix
	}
	r.log.Info("session cleaned up", "prefix", prefix, "keys_deleted", deleted)

	return deleted, nil
}

// CleanupAll removes every live session. It returns the number of
// sessions cleaned and the total keys deleted.
func (r *Registry) CleanupAll(ctx context.Context) (int, int64, error) {
	sessions, err := r.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	var cleaned int
	var keys int64
	for _, cfg := range sessions {
		n, err := r.Cleanup(ctx, cfg.Prefix)
		if err != nil && !errors.Is(err, ErrNotFound) {
			r.log.Warn("cleanup failed", "prefix", cfg.Prefix, "error", err)
			continue
		}
		cleaned++
		keys += n
	}
	return cleaned, keys, nil
}

// List returns all live sessions, newest first. Records that expire
// between the scan and the read, and records that fail to parse, are
// skipped.
func (r *Registry) List(ctx context.Context) ([]*Config, error) {
	keys, err := r.client.Keys(ctx, "*:config")
	if err != nil {
		return nil, err
	}

	var sessions []*Config
	for _, key := range keys {
		raw, ok, err := r.client.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var cfg Config
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			r.log.Debug("skip malformed config", "key", key, "error", err)
			continue
		}
		sessions = append(sessions, &cfg)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return createdTime(sessions[i]).After(createdTime(sessions[j]))
	})
	return sessions, nil
}

// SweepOrphans deletes queue and stream keys whose config record has
// expired. Queue keys carry no TTL of their own, so a session that was
// never cleaned up leaves them behind until a sweep.
func (r *Registry) SweepOrphans(ctx context.Context) (int64, error) {
	configKeys, err := r.client.Keys(ctx, "*:config")
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool, len(configKeys))
	for _, key := range configKeys {
		live[strings.TrimSuffix(key, ":config")] = true
	}

	patterns := []string{
		"*:p2c:*", "*:c2p:*", "*:tasks:*",
		"*:reports", "*:status", "*:results", "*:control",
	}

	seen := make(map[string]bool)
	var orphans []string
	for _, pattern := range patterns {
		matched, err := r.client.Keys(ctx, pattern)
		if err != nil {
			return 0, err
		}
		for _, key := range matched {
			if seen[key] {
				continue
			}
			seen[key] = true
			prefix, ok := ownerPrefix(key)
			if ok && !live[prefix] {
				orphans = append(orphans, key)
			}
		}
	}

	deleted, err := r.client.Del(ctx, orphans...)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.log.Info("swept orphaned keys", "keys_deleted", deleted)
	}
	return deleted, nil
}

// ownerPrefix extracts the session prefix a queue or stream key belongs
// to, based on the channel-set naming scheme.
func ownerPrefix(key string) (string, bool) {
	for _, marker := range []string{":p2c:", ":c2p:", ":tasks:"} {
		if i := strings.LastIndex(key, marker); i > 0 {
			return key[:i], true
		}
	}
	for _, suffix := range []string{":reports", ":status", ":results", ":control"} {
		if strings.HasSuffix(key, suffix) {
			prefix := strings.TrimSuffix(key, suffix)
			if prefix != "" {
				return prefix, true
			}
		}
	}
	return "", false
}

func createdTime(c *Config) time.Time {
	t, err := time.Parse(message.TimestampLayout, c.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
