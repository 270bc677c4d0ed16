package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggerWritesLeveledJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")
	logger, err := New(Options{Level: "info", Path: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ReplaceGlobals(NewTestLogger())

	logger.Debug("suppressed")
	logger.Info("player joined", String("name", "Alice"), Uint32("id", 3))
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer file.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("malformed log line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	entry := lines[0]
	if entry["message"] != "player joined" || entry["level"] != "info" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["name"] != "Alice" || entry["service"] != "deepfall" {
		t.Fatalf("missing fields in %v", entry)
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	parent := NewTestLogger()
	child := parent.With(String("peer", "1.2.3.4:9"))
	if len(parent.fields) != 0 {
		t.Fatalf("parent fields mutated: %v", parent.fields)
	}
	if child.fields["peer"] != "1.2.3.4:9" {
		t.Fatalf("child missing field: %v", child.fields)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	level, err := ParseLevel("warning")
	if err != nil || level != WarnLevel {
		t.Fatalf("ParseLevel(warning) = %v, %v", level, err)
	}
}
