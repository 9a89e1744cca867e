package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogJSONFillsDefaults(t *testing.T) {
	logger := Logger()
	orig := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(orig)

	LogJSON(map[string]any{"msg": "sweep_complete", "processed": 12})

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["level"] != "info" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
	if entry["processed"] != float64(12) {
		t.Fatalf("unexpected processed: %v", entry["processed"])
	}
}

func TestLogErrorIncludesErrorString(t *testing.T) {
	logger := Logger()
	orig := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(orig)

	LogError("candidate_failed", errors.New("storage timeout"), map[string]any{"user_id": "u1"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["level"] != "error" || entry["error"] != "storage timeout" || entry["user_id"] != "u1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
