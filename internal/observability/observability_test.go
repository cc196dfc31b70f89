package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLoggerJSONRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("bridge auth", "call_id", "c-1", "authorization", "Bearer abc")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if rec["call_id"] != "c-1" {
		t.Errorf("call_id = %v", rec["call_id"])
	}
	if rec["authorization"] != "[REDACTED]" {
		t.Errorf("authorization = %v, want redacted", rec["authorization"])
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMetricsIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics()
	b := NewMetrics()

	a.TurnsTotal.WithLabelValues("quote_request", "ok").Inc()
	if got := testutil.ToFloat64(a.TurnsTotal.WithLabelValues("quote_request", "ok")); got != 1 {
		t.Errorf("a turns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.TurnsTotal.WithLabelValues("quote_request", "ok")); got != 0 {
		t.Errorf("b turns = %v, want 0", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.QuotesUpserted.Add(3)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(w.Body.String(), "quotecall_quotes_upserted_total 3") {
		t.Errorf("metrics output missing counter:\n%s", w.Body.String())
	}
}
