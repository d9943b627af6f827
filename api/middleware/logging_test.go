package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/assetledger-backend/pkg/logger"
)

func accessLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]any
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestLoggingRecordsRouteAndStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Get("/api/v1/entitlements/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{}`))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/entitlements/abc", nil))

	lines := accessLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected one access line, got %d", len(lines))
	}
	line := lines[0]
	if line["route"] != "/api/v1/entitlements/{id}" || line["path"] != "/api/v1/entitlements/abc" {
		t.Fatalf("unexpected route fields: %v", line)
	}
	if line["status"] != float64(http.StatusNotFound) || line["level"] != "info" {
		t.Fatalf("unexpected status or level: %v", line)
	}
}

func TestLoggingQuietsHealthProbes(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if buf.Len() != 0 {
		t.Fatalf("health probes should only log at debug; got %s", buf.String())
	}
}

func TestLoggingWarnsOnServerErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	lines := accessLines(t, buf)
	if len(lines) != 1 || lines[0]["level"] != "warn" {
		t.Fatalf("expected a warn line, got %v", lines)
	}
}
