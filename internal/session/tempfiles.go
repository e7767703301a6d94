package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// shortID safely truncates an ID for logging (handles short IDs gracefully)
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// sessionFileID extracts the session id from a "session_<id>.duckdb" name.
func sessionFileID(name string) (string, bool) {
	if !strings.HasPrefix(name, "session_") || filepath.Ext(name) != ".duckdb" {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, "session_"), ".duckdb"), true
}

// sweepSessionFiles removes session databases in dir whose session is not in
// keep, together with their write-ahead logs. It returns the number of removed
// databases.
func sweepSessionFiles(dir string, keep map[string]bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Printf("[Manager] Warning: failed to scan temp directory: %v\n", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := sessionFileID(entry.Name())
		if !ok || keep[id] {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			fmt.Printf("[Manager] Failed to remove %s: %v\n", path, err)
			continue
		}
		os.Remove(path + ".wal")
		removed++
	}
	return removed
}

// sessionFilesSize sums the size of the session databases in dir.
func sessionFilesSize(dir string) int64 {
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	var total int64
	for _, entry := range entries {
		if _, ok := sessionFileID(entry.Name()); !ok {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}

// SweepOrphaned removes session databases that belong to no live session, such
// as files left behind by a crash. It returns the number of removed files.
func (m *Manager) SweepOrphaned() int {
	if m.opts.TempDir == "" {
		return 0
	}

	m.mu.RLock()
	keep := make(map[string]bool, len(m.sessions))
	for id, state := range m.sessions {
		// a running parse may be creating its database right now
		if state.DuckStore != nil || !state.Session.Done() {
			keep[id] = true
		}
	}
	m.mu.RUnlock()

	n := sweepSessionFiles(m.opts.TempDir, keep)
	if n > 0 {
		fmt.Printf("[Manager] Cleaned up %d orphaned session databases\n", n)
	}
	return n
}
