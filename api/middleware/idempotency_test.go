package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
)

const grantRoute = "/api/admin/v1/entitlements"

// memKV is an in-process stand-in for the Redis idempotency store.
type memKV map[string]string

func (m memKV) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m memKV) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, taken := m[key]; taken {
		return false, nil
	}
	m[key], _ = value.(string)
	return true, nil
}

func (m memKV) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func (m memKV) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m memKV) locks() []string {
	var out []string
	for k := range m {
		if strings.HasSuffix(k, ":lock") {
			out = append(out, k)
		}
	}
	return out
}

// adminRequest builds a request as chi would present it to middleware
// mounted on the admin router.
func adminRequest(method, pattern, key, body string, userID int64) *http.Request {
	path := strings.NewReplacer("{id}", "6c1f7e2a-3b4d-4e5f-8a9b-0c1d2e3f4a5b", "{assetId}", "7").Replace(pattern)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	if userID > 0 {
		ctx = WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func grantHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"data":{"outcome":"created"}}`))
	})
}

func TestRouteTTLCoversOnlyAdminWrites(t *testing.T) {
	cases := []struct {
		method, pattern string
		guarded         bool
	}{
		{http.MethodPost, grantRoute, true},
		{http.MethodPost, grantRoute + "/bulk", true},
		{http.MethodDelete, grantRoute + "/bulk", true},
		{http.MethodDelete, grantRoute + "/{id}", false},
		{http.MethodPatch, grantRoute + "/{id}", false},
		{http.MethodPost, "/api/public/assets/{assetId}/views", false},
	}
	for _, tc := range cases {
		ttl, ok := routeTTL(tc.method, tc.pattern)
		assert.Equal(t, tc.guarded, ok, "%s %s", tc.method, tc.pattern)
		if ok {
			assert.Equal(t, defaultIdempotencyTTL, ttl)
		}
	}
}

func TestIdempotencyPassesUnguardedRoutesThrough(t *testing.T) {
	var calls int
	mw := Idempotency(memKV{}, nil)(grantHandler(&calls, http.StatusOK))

	rec := serve(mw, adminRequest(http.MethodPatch, grantRoute+"/{id}", "", `{"action":"revoke"}`, 1))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyRejectsMissingOrOversizedKey(t *testing.T) {
	for name, key := range map[string]string{
		"missing":   "",
		"oversized": strings.Repeat("k", maxIdempotencyKeyLen+1),
	} {
		t.Run(name, func(t *testing.T) {
			var calls int
			mw := Idempotency(memKV{}, nil)(grantHandler(&calls, http.StatusCreated))

			rec := serve(mw, adminRequest(http.MethodPost, grantRoute, key, `{"user_id":3,"asset_id":7}`, 1))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, calls)
		})
	}
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := memKV{}
	var calls int
	mw := Idempotency(store, nil)(grantHandler(&calls, http.StatusCreated))
	body := `{"user_id":3,"asset_id":7}`

	first := serve(mw, adminRequest(http.MethodPost, grantRoute, "grant-3-7", body, 1))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	again := serve(mw, adminRequest(http.MethodPost, grantRoute, "grant-3-7", body, 1))
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get(replayedHeader))
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), again.Body.String())
	assert.Equal(t, 1, calls)
	assert.Empty(t, store.locks())
}

func TestIdempotencyScopesKeysPerCaller(t *testing.T) {
	var calls int
	mw := Idempotency(memKV{}, nil)(grantHandler(&calls, http.StatusCreated))
	body := `{"user_id":3,"asset_id":7}`

	serve(mw, adminRequest(http.MethodPost, grantRoute, "shared", body, 1))
	rec := serve(mw, adminRequest(http.MethodPost, grantRoute, "shared", body, 2))

	assert.Empty(t, rec.Header().Get(replayedHeader))
	assert.Equal(t, 2, calls)
}

func TestIdempotencyRejectsReusedKeyWithNewBody(t *testing.T) {
	var calls int
	mw := Idempotency(memKV{}, nil)(grantHandler(&calls, http.StatusCreated))

	serve(mw, adminRequest(http.MethodPost, grantRoute, "k1", `{"user_id":3,"asset_id":7}`, 1))
	rec := serve(mw, adminRequest(http.MethodPost, grantRoute, "k1", `{"user_id":3,"asset_id":8}`, 1))

	require.Equal(t, http.StatusConflict, rec.Code)
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), envelope.Error.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyRejectsDuplicateWhileFirstRuns(t *testing.T) {
	store := memKV{}
	body := `{"user_id":3,"asset_id":7}`
	var duplicate *httptest.ResponseRecorder

	slow := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		blocked := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Error("duplicate reached the handler")
		})
		duplicate = serve(Idempotency(store, nil)(blocked), adminRequest(http.MethodPost, grantRoute, "busy", body, 1))
		w.WriteHeader(http.StatusCreated)
	})

	rec := serve(Idempotency(store, nil)(slow), adminRequest(http.MethodPost, grantRoute, "busy", body, 1))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, duplicate)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Empty(t, store.locks())
}

func TestIdempotencyLeavesServerErrorsRetryable(t *testing.T) {
	store := memKV{}
	var calls int
	flaky := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mw := Idempotency(store, nil)(flaky)
	body := `{"user_id":3,"asset_id":7}`

	first := serve(mw, adminRequest(http.MethodPost, grantRoute, "retry", body, 1))
	second := serve(mw, adminRequest(http.MethodPost, grantRoute, "retry", body, 1))

	assert.Equal(t, http.StatusServiceUnavailable, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls)
	assert.Len(t, store, 1, "only the successful response is stored")
}
