// Package redisx wraps the go-redis client behind the plain-signature
// operations the rest of the module consumes. Callers depend on the
// narrow interfaces declared in their own packages; this client
// satisfies all of them.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/szaher/agentbus/internal/config"
)

// Client adapts *redis.Client to the operation set used by the session
// registry, the transport primitives, and the monitor.
type Client struct {
	rdb *redis.Client
}

// Dial connects to Redis and verifies the connection with a PING.
func Dial(ctx context.Context, cfg config.Redis) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.SocketTimeout,
		ReadTimeout:  cfg.SocketTimeout,
		WriteTimeout: cfg.SocketTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.SocketTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr(), err)
	}

	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get fetches a string key. The second return is false when the key does
// not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes a string key with a TTL. A zero TTL leaves the key without
// an expiry.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// Keys returns all keys matching the pattern. Implemented with SCAN so a
// large keyspace does not block the server the way KEYS would.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Expire sets a TTL on an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining time to live of a key. Negative values follow
// Redis semantics: -1 for no expiry, -2 for a missing key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	return d, nil
}

// RPush appends values to a list and returns the resulting length.
func (c *Client) RPush(ctx context.Context, queue string, values ...string) (int64, error) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := c.rdb.RPush(ctx, queue, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rpush %s: %w", queue, err)
	}
	return n, nil
}

// BLPop blocks until a value arrives on one of the queues or the timeout
// expires. A zero timeout blocks indefinitely. The third return is false
// on timeout.
func (c *Client) BLPop(ctx context.Context, timeout time.Duration, queues ...string) (string, string, bool, error) {
	res, err := c.rdb.BLPop(ctx, timeout, queues...).Result()
	if err == redis.Nil {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("redis blpop: %w", err)
	}
	// BLPOP replies [key, value].
	return res[0], res[1], true, nil
}

// LLen returns the length of a list.
func (c *Client) LLen(ctx context.Context, queue string) (int64, error) {
	n, err := c.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", queue, err)
	}
	return n, nil
}

// Publish sends a payload to a pub/sub channel and returns the number of
// subscribers that received it.
func (c *Client) Publish(ctx context.Context, channel, payload string) (int64, error) {
	n, err := c.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return n, nil
}

// XAdd appends an entry to a stream and returns its generated ID.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("redis xadd %s: %w", stream, err)
	}
	return id, nil
}

// XLen returns the number of entries in a stream.
func (c *Client) XLen(ctx context.Context, stream string) (int64, error) {
	n, err := c.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("redis xlen %s: %w", stream, err)
	}
	return n, nil
}

// StreamEntry is one stream record.
type StreamEntry struct {
	ID     string
	Values map[string]interface{}
}

// XRangeLast returns up to count newest stream entries, oldest first.
func (c *Client) XRangeLast(ctx context.Context, stream string, count int64) ([]StreamEntry, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange %s: %w", stream, err)
	}

	entries := make([]StreamEntry, len(msgs))
	for i, m := range msgs {
		// XREVRANGE yields newest first; reverse into chronological order.
		entries[len(msgs)-1-i] = StreamEntry{ID: m.ID, Values: m.Values}
	}
	return entries, nil
}

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Pattern string
	Payload string
}

// Subscription is a live pub/sub subscription. Close it to stop the
// message channel.
type Subscription struct {
	pubsub *redis.PubSub
	ch     chan Message
}

// PSubscribe subscribes to channel patterns.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *Subscription {
	return newSubscription(c.rdb.PSubscribe(ctx, patterns...))
}

// Subscribe subscribes to literal channel names.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *Subscription {
	return newSubscription(c.rdb.Subscribe(ctx, channels...))
}

func newSubscription(pubsub *redis.PubSub) *Subscription {
	s := &Subscription{pubsub: pubsub, ch: make(chan Message)}
	go s.pump()
	return s
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		s.ch <- Message{Channel: msg.Channel, Pattern: msg.Pattern, Payload: msg.Payload}
	}
}

// Messages returns the delivery channel. It closes after Close is called.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Close unsubscribes and releases the connection.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
