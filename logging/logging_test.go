package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatal(err)
	}
	log.Debug().Str("game", "g1").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if entry["game"] != "g1" || entry["message"] != "hello" || entry["level"] != "debug" {
		t.Fatalf("entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("missing timestamp")
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	log.Warn().Msg("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatal("warn dropped")
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "", "console")
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Int("ply", 3).Msg("moved")
	out := buf.String()
	if !strings.Contains(out, "moved") || !strings.Contains(out, "ply=3") {
		t.Fatalf("console output %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatal("console format wrote json")
	}
}

func TestAutoNonTerminalIsJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", "auto")
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("x")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("auto on a buffer should be json: %q", buf.String())
	}
}

func TestRejects(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "json"); err == nil {
		t.Fatal("bad level accepted")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("bad format accepted")
	}
}
