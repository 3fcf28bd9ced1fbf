package session

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Hostnames longer than this are truncated when building the default
// prefix, keeping key names readable.
const maxHostLength = 12

// DefaultPrefix builds the normal-mode namespace root from PROJECT_NAME
// and the host name.
func DefaultPrefix() string {
	project := os.Getenv("PROJECT_NAME")
	if project == "" {
		project = "project"
	}

	host := os.Getenv("HOSTNAME")
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}
	if len(host) > maxHostLength {
		host = host[:maxHostLength]
	}

	return fmt.Sprintf("%s-%s", project, host)
}

// NewSessionID returns a {millis}-{pid} identifier for normal-mode
// sessions. Distinct processes on one host cannot collide, and repeated
// runs sort chronologically.
func NewSessionID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), os.Getpid())
}

// NewSummonerSessionID returns a UUID identifier for summoner-mode
// sessions. UUIDs are assumed collision-free, so summoner prefixes skip
// the sequence probe entirely.
func NewSummonerSessionID() string {
	return uuid.NewString()
}

// SummonerPrefix returns the namespace root for a summoner session.
func SummonerPrefix(sessionID string) string {
	return "summoner:" + sessionID
}

// SequencedPrefix formats a normal-mode prefix with its zero-padded
// collision-avoidance sequence number.
func SequencedPrefix(root string, seq int) string {
	return fmt.Sprintf("%s-%03d", root, seq)
}
