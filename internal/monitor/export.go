package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DefaultExportPath returns a timestamped file name for feed exports.
func DefaultExportPath(now time.Time) string {
	return fmt.Sprintf("agentmon-feed-%s.json", now.Format("20060102-150405"))
}

// ExportFeed writes captured feed entries to a JSON file for offline
// inspection.
func ExportFeed(path string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
