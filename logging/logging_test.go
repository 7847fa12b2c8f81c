package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_JSONLevelFilter(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	log, err := New(Options{Level: "WARN", Out: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("hidden")
	log.Warn().Int("n", 3).Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["message"] != "shown" || ev["level"] != "warn" || ev["n"] != float64(3) {
		t.Fatalf("event = %v", ev)
	}
	if _, ok := ev["time"]; !ok {
		t.Fatalf("missing timestamp")
	}
}

func TestNew_RejectsUnknown(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatalf("bad level accepted")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatalf("bad format accepted")
	}
}

func TestPrettyJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewPrettyJSONWriter(&buf)
	if _, err := w.Write([]byte(`{"level":"info","message":"hi"}` + "\n")); err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"level\": \"info\",\n  \"message\": \"hi\"\n}\n"
	if buf.String() != want {
		t.Fatalf("got %q", buf.String())
	}

	buf.Reset()
	n, err := w.Write([]byte("not json\n"))
	if err != nil || n != 9 || buf.String() != "not json\n" {
		t.Fatalf("passthrough = %q, %d, %v", buf.String(), n, err)
	}
}
