// Package telemetry provides logging and observability for the agentbus
// transport and tools.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics collects Prometheus-style counters for queue traffic. All methods
// are safe on a nil receiver so callers can leave instrumentation unset.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	sentTotal        map[string]int64 // key: queue
	receivedTotal    map[string]int64 // key: queue
	timeoutsTotal    map[string]int64 // key: queue
	publishesTotal   map[string]int64 // key: channel,status
	cleanupKeysTotal int64

	// Histograms (simplified: bucket counts + sum + count)
	receiveWaits map[string]*histogram // key: queue
}

type histogram struct {
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

var defaultBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]int64, len(defaultBuckets)+1), // +1 for +Inf
	}
}

func (h *histogram) observe(value float64) {
	h.sum += value
	h.count++
	for i, b := range h.buckets {
		if value <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++ // overflow slot, rendered as +Inf
}

// NewMetrics creates a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		sentTotal:      make(map[string]int64),
		receivedTotal:  make(map[string]int64),
		timeoutsTotal:  make(map[string]int64),
		publishesTotal: make(map[string]int64),
		receiveWaits:   make(map[string]*histogram),
	}
}

// RecordSend records messages enqueued onto a queue.
func (m *Metrics) RecordSend(queue string, count int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentTotal[queue] += int64(count)
}

// RecordReceive records a successful dequeue and how long the caller waited.
func (m *Metrics) RecordReceive(queue string, wait time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.receivedTotal[queue]++

	h, ok := m.receiveWaits[queue]
	if !ok {
		h = newHistogram()
		m.receiveWaits[queue] = h
	}
	h.observe(wait.Seconds())
}

// RecordTimeout records a receive deadline expiring with no message.
func (m *Metrics) RecordTimeout(queue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeoutsTotal[queue]++
}

// RecordPublish records a monitor-channel publish attempt.
func (m *Metrics) RecordPublish(channel string, ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	status := "ok"
	if !ok {
		status = "error"
	}
	m.publishesTotal[fmt.Sprintf("%s,%s", channel, status)]++
}

// RecordCleanup records keys deleted by cleanup or the sweep janitor.
func (m *Metrics) RecordCleanup(keys int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupKeysTotal += int64(keys)
}

// Render returns the collected metrics in Prometheus text exposition format.
func (m *Metrics) Render() string {
	if m == nil {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder

	sb.WriteString("# HELP agentbus_messages_sent_total Messages enqueued via RPUSH\n")
	sb.WriteString("# TYPE agentbus_messages_sent_total counter\n")
	for _, queue := range sortedKeys(m.sentTotal) {
		fmt.Fprintf(&sb, "agentbus_messages_sent_total{queue=%q} %d\n", queue, m.sentTotal[queue])
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP agentbus_messages_received_total Messages dequeued via BLPOP\n")
	sb.WriteString("# TYPE agentbus_messages_received_total counter\n")
	for _, queue := range sortedKeys(m.receivedTotal) {
		fmt.Fprintf(&sb, "agentbus_messages_received_total{queue=%q} %d\n", queue, m.receivedTotal[queue])
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP agentbus_receive_timeouts_total Blocking receives that expired empty\n")
	sb.WriteString("# TYPE agentbus_receive_timeouts_total counter\n")
	for _, queue := range sortedKeys(m.timeoutsTotal) {
		fmt.Fprintf(&sb, "agentbus_receive_timeouts_total{queue=%q} %d\n", queue, m.timeoutsTotal[queue])
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP agentbus_publishes_total Monitor channel publish attempts\n")
	sb.WriteString("# TYPE agentbus_publishes_total counter\n")
	for _, key := range sortedKeys(m.publishesTotal) {
		parts := strings.SplitN(key, ",", 2)
		fmt.Fprintf(&sb, "agentbus_publishes_total{channel=%q,status=%q} %d\n",
			parts[0], parts[1], m.publishesTotal[key])
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP agentbus_cleanup_keys_total Keys removed by cleanup and sweep\n")
	sb.WriteString("# TYPE agentbus_cleanup_keys_total counter\n")
	fmt.Fprintf(&sb, "agentbus_cleanup_keys_total %d\n", m.cleanupKeysTotal)
	sb.WriteString("\n")

	sb.WriteString("# HELP agentbus_receive_wait_seconds Time spent blocked in BLPOP\n")
	sb.WriteString("# TYPE agentbus_receive_wait_seconds histogram\n")
	for _, queue := range sortedMapKeys(m.receiveWaits) {
		h := m.receiveWaits[queue]
		cumulative := int64(0)
		for i, b := range h.buckets {
			cumulative += h.counts[i]
			fmt.Fprintf(&sb, "agentbus_receive_wait_seconds_bucket{queue=%q,le=\"%.3g\"} %d\n",
				queue, b, cumulative)
		}
		cumulative += h.counts[len(h.buckets)]
		fmt.Fprintf(&sb, "agentbus_receive_wait_seconds_bucket{queue=%q,le=\"+Inf\"} %d\n",
			queue, cumulative)
		fmt.Fprintf(&sb, "agentbus_receive_wait_seconds_sum{queue=%q} %.6f\n", queue, h.sum)
		fmt.Fprintf(&sb, "agentbus_receive_wait_seconds_count{queue=%q} %d\n", queue, h.count)
	}

	return sb.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
