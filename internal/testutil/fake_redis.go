package testutil

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

// PubMessage is one payload recorded by FakeRedis.Publish.
type PubMessage struct {
	Channel string
	Payload string
}

// FakeRedis is an in-memory stand-in for the Redis operations the module
// consumes. Every access is mutex-guarded so tests may drive it from
// multiple goroutines. It never blocks: BLPop on empty queues reports an
// immediate timeout unless BLPopFunc overrides it.
type FakeRedis struct {
	mu      sync.Mutex
	Strings map[string]string
	Lists   map[string][]string
	Streams map[string][]map[string]interface{}
	TTLs    map[string]time.Duration

	Published []PubMessage

	// SubscriberCount is what Publish reports.
	SubscriberCount int64

	// FailPublish makes Publish fail while every other operation keeps
	// working, for exercising the best-effort publish path.
	FailPublish error

	// Err makes every operation fail, simulating a lost connection.
	Err error

	// BLPopFunc overrides the default BLPop behavior when set.
	BLPopFunc func(ctx context.Context, timeout time.Duration, queues ...string) (string, string, bool, error)
}

// NewFakeRedis creates an empty fake.
func NewFakeRedis() *FakeRedis {
	return &FakeRedis{
		Strings: make(map[string]string),
		Lists:   make(map[string][]string),
		Streams: make(map[string][]map[string]interface{}),
		TTLs:    make(map[string]time.Duration),
	}
}

// Lock acquires the internal mutex for direct map assertions in tests.
func (f *FakeRedis) Lock() { f.mu.Lock() }

// Unlock releases the internal mutex.
func (f *FakeRedis) Unlock() { f.mu.Unlock() }

func (f *FakeRedis) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", false, f.Err
	}
	value, ok := f.Strings[key]
	return value, ok, nil
}

func (f *FakeRedis) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Strings[key] = value
	if ttl > 0 {
		f.TTLs[key] = ttl
	}
	return nil
}

func (f *FakeRedis) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	if _, ok := f.Strings[key]; ok {
		return true, nil
	}
	if _, ok := f.Lists[key]; ok {
		return true, nil
	}
	if _, ok := f.Streams[key]; ok {
		return true, nil
	}
	return false, nil
}

func (f *FakeRedis) Del(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	var deleted int64
	for _, key := range keys {
		if _, ok := f.Strings[key]; ok {
			delete(f.Strings, key)
			deleted++
			continue
		}
		if _, ok := f.Lists[key]; ok {
			delete(f.Lists, key)
			deleted++
			continue
		}
		if _, ok := f.Streams[key]; ok {
			delete(f.Streams, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *FakeRedis) Keys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	seen := make(map[string]bool)
	var matched []string
	appendMatches := func(key string) {
		if seen[key] {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			seen[key] = true
			matched = append(matched, key)
		}
	}
	for key := range f.Strings {
		appendMatches(key)
	}
	for key := range f.Lists {
		appendMatches(key)
	}
	for key := range f.Streams {
		appendMatches(key)
	}
	return matched, nil
}

func (f *FakeRedis) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.TTLs[key] = ttl
	return nil
}

func (f *FakeRedis) RPush(_ context.Context, queue string, values ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	f.Lists[queue] = append(f.Lists[queue], values...)
	return int64(len(f.Lists[queue])), nil
}

func (f *FakeRedis) BLPop(ctx context.Context, timeout time.Duration, queues ...string) (string, string, bool, error) {
	if f.BLPopFunc != nil {
		return f.BLPopFunc(ctx, timeout, queues...)
	}
	return f.popNow(queues)
}

func (f *FakeRedis) popNow(queues []string) (string, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", "", false, f.Err
	}
	for _, queue := range queues {
		list := f.Lists[queue]
		if len(list) == 0 {
			continue
		}
		value := list[0]
		f.Lists[queue] = list[1:]
		return queue, value, true, nil
	}
	return "", "", false, nil
}

// PollingBLPop returns a BLPopFunc that approximates the blocking
// behavior of the real command by polling the fake's lists. Needed when
// producers and consumers run concurrently against one fake.
func PollingBLPop(f *FakeRedis, interval time.Duration) func(context.Context, time.Duration, ...string) (string, string, bool, error) {
	return func(ctx context.Context, timeout time.Duration, queues ...string) (string, string, bool, error) {
		deadline := time.Now().Add(timeout)
		for {
			queue, value, ok, err := f.popNow(queues)
			if ok || err != nil {
				return queue, value, ok, err
			}
			if timeout > 0 && time.Now().After(deadline) {
				return "", "", false, nil
			}
			select {
			case <-ctx.Done():
				return "", "", false, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
}

func (f *FakeRedis) LLen(_ context.Context, queue string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return int64(len(f.Lists[queue])), nil
}

func (f *FakeRedis) Publish(_ context.Context, channel, payload string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	if f.FailPublish != nil {
		return 0, f.FailPublish
	}
	f.Published = append(f.Published, PubMessage{Channel: channel, Payload: payload})
	return f.SubscriberCount, nil
}

func (f *FakeRedis) XAdd(_ context.Context, stream string, values map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.Streams[stream] = append(f.Streams[stream], values)
	return fmt.Sprintf("%d-0", len(f.Streams[stream])), nil
}
