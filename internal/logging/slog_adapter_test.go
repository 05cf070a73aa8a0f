package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestSlogHandlerWritesZerologJSON(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.DebugLevel)
	log := slog.New(NewSlogHandlerWithLogger(zl))

	log.With("jobId", "abc").WithGroup("summary").Info("job finished",
		"matched", 2,
		"ok", true,
		"error", errors.New("boom"),
	)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if entry["message"] != "job finished" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["jobId"] != "abc" {
		t.Errorf("jobId = %v, want abc (attrs added before the group stay ungrouped)", entry["jobId"])
	}
	if entry["summary.matched"] != float64(2) {
		t.Errorf("summary.matched = %v", entry["summary.matched"])
	}
	if entry["summary.error"] != "boom" {
		t.Errorf("summary.error = %v", entry["summary.error"])
	}
}

func TestSlogHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.WarnLevel)
	log := slog.New(NewSlogHandlerWithLogger(zl))

	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info entry should be filtered: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn entry missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
