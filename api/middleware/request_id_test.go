package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/assetledger-backend/pkg/types"
)

func TestRequestIDKeepsSaneHeader(t *testing.T) {
	handler := RequestID(nil)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "edge-42.a_b")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if got := resp.Header().Get("X-Request-Id"); got != "edge-42.a_b" {
		t.Fatalf("expected caller id to be kept, got %q", got)
	}
}

func TestRequestIDReplacesUnsafeHeader(t *testing.T) {
	handler := RequestID(nil)(okHandler())
	for _, bad := range []string{"", "has space", strings.Repeat("x", 65), "new\nline"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", bad)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		got := resp.Header().Get("X-Request-Id")
		if got == "" || got == bad {
			t.Fatalf("expected a generated id for %q, got %q", bad, got)
		}
	}
}

func TestRecovererWritesInternalError(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	})
	handler := RequestID(nil)(Recoverer(nil)(panicky))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.RequestID == "" || body.Error.RequestID != resp.Header().Get("X-Request-Id") {
		t.Fatalf("expected request id in error body, got %+v", body.Error)
	}
	if strings.Contains(body.Error.Message, "exploded") {
		t.Fatalf("panic value leaked into response: %q", body.Error.Message)
	}
}

func TestRecovererRethrowsAbortHandler(t *testing.T) {
	aborting := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})
	handler := Recoverer(nil)(aborting)

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
