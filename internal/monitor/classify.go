// Package monitor observes live sessions: it classifies monitor-channel
// traffic into a readable event feed and scans session state for queue
// depths.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/szaher/agentbus/internal/message"
	"github.com/szaher/agentbus/internal/transport"
)

// Delivery is one raw pub/sub payload handed to the monitor.
type Delivery struct {
	Channel string
	Payload string
}

// Senders recognized by classification.
const (
	SenderParent  = "parent"
	SenderSystem  = "system"
	SenderUnknown = "unknown"
)

// Entry is one classified monitor event ready for display.
type Entry struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session"`
	Queue   string    `json:"queue,omitempty"`
	Sender  string    `json:"sender"`
	Kind    string    `json:"kind"`
	Content string    `json:"content"`
	Raw     string    `json:"raw"`
}

// Classify decodes one delivery into a feed entry. Tasks and shutdowns
// travel parent to child, reports and status travel the other way;
// lifecycle announcements come from the session registry itself.
func Classify(d Delivery) Entry {
	entry := Entry{
		Time:    time.Now(),
		Session: strings.TrimSuffix(d.Channel, ":monitor"),
		Sender:  SenderUnknown,
		Kind:    "raw",
		Content: truncate(d.Payload, 120),
		Raw:     d.Payload,
	}

	var note transport.Notification
	if err := json.Unmarshal([]byte(d.Payload), &note); err == nil && note.Queue != "" {
		entry.Queue = note.Queue
		if t, err := time.Parse(message.TimestampLayout, note.Timestamp); err == nil {
			entry.Time = t
		}
		classifyInner(&entry, note.Message)
		return entry
	}

	var lifecycle struct {
		Event     string `json:"event"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(d.Payload), &lifecycle); err == nil && lifecycle.Event != "" {
		entry.Sender = SenderSystem
		entry.Kind = lifecycle.Event
		entry.Content = "session " + lifecycle.SessionID
		return entry
	}

	return entry
}

func classifyInner(entry *Entry, raw string) {
	parsed, err := message.Parse(raw)
	if err != nil {
		entry.Sender = senderFromQueue(entry.Queue)
		entry.Content = truncate(raw, 120)
		return
	}

	switch m := parsed.(type) {
	case *message.Task:
		entry.Sender = SenderParent
		entry.Kind = string(message.TypeTask)
		entry.Content = truncate(m.Prompt, 120)
	case *message.Shutdown:
		entry.Sender = SenderParent
		entry.Kind = string(message.TypeShutdown)
		entry.Content = fmt.Sprintf("reason=%s graceful=%t", m.Reason, m.Graceful)
		if m.TargetChildID != nil {
			entry.Content += fmt.Sprintf(" target=child_%d", *m.TargetChildID)
		}
	case *message.Report:
		entry.Sender = childSender(m.ChildID)
		entry.Kind = string(message.TypeReport)
		entry.Content = m.Status
		if m.Error != "" {
			entry.Content += ": " + truncate(m.Error, 100)
		}
	case *message.Status:
		entry.Sender = childSender(m.ChildID)
		entry.Kind = string(message.TypeStatus)
		entry.Content = m.Event
	}
}

func childSender(childID int) string {
	return fmt.Sprintf("child_%d", childID)
}

// senderFromQueue guesses direction for payloads that are not typed
// envelopes, from the channel-set naming scheme.
func senderFromQueue(queue string) string {
	switch {
	case strings.Contains(queue, ":tasks:"), strings.Contains(queue, ":p2c:"):
		return SenderParent
	case strings.Contains(queue, ":c2p:"), strings.HasSuffix(queue, ":reports"):
		return "child"
	}
	return SenderUnknown
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// Pump classifies deliveries until the input channel closes or ctx is
// canceled, then closes out.
func Pump(ctx context.Context, in <-chan Delivery, out chan<- Entry) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- Classify(d):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Counters tracks feed totals for the footer. Not safe for concurrent
// use; the model owns it.
type Counters struct {
	Total    int
	ByKind   map[string]int
	BySender map[string]int
}

// Observe counts one entry.
func (c *Counters) Observe(e Entry) {
	if c.ByKind == nil {
		c.ByKind = make(map[string]int)
		c.BySender = make(map[string]int)
	}
	c.Total++
	c.ByKind[e.Kind]++
	c.BySender[e.Sender]++
}

// Summary renders the counters as one footer line.
func (c *Counters) Summary() string {
	if c.Total == 0 {
		return "no events yet"
	}
	kinds := make([]string, 0, len(c.ByKind))
	for kind := range c.ByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	parts := []string{fmt.Sprintf("%d events", c.Total)}
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s %d", kind, c.ByKind[kind]))
	}
	return strings.Join(parts, " · ")
}
