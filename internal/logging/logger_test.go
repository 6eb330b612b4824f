package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "ride-tracking", "warn")
	log.Info("dropped")
	log.Warn("kept", "ride_id", "r1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "kept" || rec["service"] != "ride-tracking" || rec["ride_id"] != "r1" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", " WARNING ": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := levelFromString(in).Level().String(); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}
}
